package sshconn

import "testing"

func TestAuthMethodFromConfigPassword(t *testing.T) {
	m, err := authMethodFromConfig(Config{AuthType: "password", Password: "p"})
	if err != nil || m == nil {
		t.Fatalf("expected password auth method, got %v, err %v", m, err)
	}
}

func TestAuthMethodFromConfigDefaultsToPassword(t *testing.T) {
	m, err := authMethodFromConfig(Config{AuthType: "", Password: "p"})
	if err != nil || m == nil {
		t.Fatalf("expected default password auth method, got %v, err %v", m, err)
	}
}

func TestAuthMethodFromConfigInvalidPrivateKey(t *testing.T) {
	_, err := authMethodFromConfig(Config{AuthType: "private_key", PrivateKey: "not a real key"})
	if err == nil {
		t.Fatal("expected error for invalid private key")
	}
}

func TestAuthMethodFromConfigUnsupportedType(t *testing.T) {
	_, err := authMethodFromConfig(Config{AuthType: "kerberos"})
	if err == nil {
		t.Fatal("expected error for unsupported auth type")
	}
}

func TestPreferredAlgorithmListsIncludeSpecRequiredEntries(t *testing.T) {
	mustContain := func(list []string, want string) {
		t.Helper()
		for _, v := range list {
			if v == want {
				return
			}
		}
		t.Errorf("expected list to contain %q, got %v", want, list)
	}
	mustContain(PreferredKeyExchanges, "diffie-hellman-group14-sha256")
	mustContain(PreferredCiphers, "aes256-gcm@openssh.com")
	mustContain(PreferredCiphers, "aes256-ctr")
	mustContain(PreferredMACs, "hmac-sha2-256")
	mustContain(PreferredMACs, "hmac-sha2-512")
}

func TestNewConnectorDefaultsToInsecureHostKey(t *testing.T) {
	c := NewConnector()
	if c.HostKeyCallback == nil {
		t.Fatal("expected default HostKeyCallback to be set")
	}
}
