package gateway

import (
	"errors"
	"os"
	"testing"

	"github.com/webssh/gateway/internal/gwerr"
	"github.com/webssh/gateway/internal/sftpsvc"
)

func TestJoinRemotePath(t *testing.T) {
	cases := []struct{ dir, filename, want string }{
		{"/home/user", "a.txt", "/home/user/a.txt"},
		{"/home/user/", "a.txt", "/home/user/a.txt"},
		{"", "a.txt", "a.txt"},
	}
	for _, c := range cases {
		if got := joinRemotePath(c.dir, c.filename); got != c.want {
			t.Errorf("joinRemotePath(%q, %q) = %q, want %q", c.dir, c.filename, got, c.want)
		}
	}
}

func TestConfirmKeyIsDistinctFromOperationID(t *testing.T) {
	const opID = "op-1"
	if confirmKey(opID) == opID {
		t.Fatal("confirmKey must not collide with the raw operation id")
	}
}

func TestSftpClassifyMapsExistsAndCancelled(t *testing.T) {
	if gerr := sftpClassify(sftpsvc.ErrCancelled); gerr.Code != gwerr.CodeOperationCancelled {
		t.Fatalf("ErrCancelled classified as code %d, want %d", gerr.Code, gwerr.CodeOperationCancelled)
	}

	wrapped := errors.New("wrapped: " + sftpsvc.ErrCancelled.Error())
	if gerr := sftpClassify(wrapped); gerr.Code == gwerr.CodeOperationCancelled {
		t.Fatal("a plain wrapped-message error must not match errors.Is(ErrCancelled) by text alone")
	}

	other := errors.New("no such file")
	if gerr := sftpClassify(other); gerr.Code != gwerr.CodeSFTPNotFound {
		t.Fatalf("unrecognized error classified as code %d, want %d", gerr.Code, gwerr.CodeSFTPNotFound)
	}

	if gerr := sftpClassify(os.ErrExist); gerr.Code != gwerr.CodeSFTPExists {
		t.Fatalf("os.ErrExist classified as code %d, want %d", gerr.Code, gwerr.CodeSFTPExists)
	}
}
