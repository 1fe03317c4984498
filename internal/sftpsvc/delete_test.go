package sftpsvc

import "testing"

func TestIsSafeForShellFastPath(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"/home/user/app", true},
		{"/var/www/site", true},
		{"/tmp/build/output", true},
		{"/", false},
		{"/root", false},
		{"/etc", false},
		{"/home", false},
		{"/tmp", false},
		{"relative/path", false},
		{"/tmp/../etc", false},
		{"/tmp/app\n; rm -rf /", false},
		{"/tmp//app//nested", true},
		{"/tmp/app/", true},
	}
	for _, tc := range cases {
		if got := isSafeForShellFastPath(tc.path); got != tc.want {
			t.Errorf("isSafeForShellFastPath(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestCanonicalizeCollapsesSlashesAndTrailingSlash(t *testing.T) {
	if got := canonicalize("/tmp//app//nested/"); got != "/tmp/app/nested" {
		t.Fatalf("canonicalize returned %q", got)
	}
	if got := canonicalize("/tmp"); got != "/tmp" {
		t.Fatalf("canonicalize returned %q", got)
	}
}

func TestShellQuoteEscapesSingleQuotes(t *testing.T) {
	got := shellQuote("it's/a/path")
	want := `'it'\''s/a/path'`
	if got != want {
		t.Fatalf("shellQuote = %q, want %q", got, want)
	}
}

func TestShellQuotePlainPath(t *testing.T) {
	got := shellQuote("/tmp/app")
	want := "'/tmp/app'"
	if got != want {
		t.Fatalf("shellQuote = %q, want %q", got, want)
	}
}
