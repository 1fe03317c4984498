package crypto

import "testing"

const testKeyHex = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestSealOpenRoundTrip(t *testing.T) {
	kr, err := NewKeyRing("k1", testKeyHex)
	if err != nil {
		t.Fatalf("NewKeyRing: %v", err)
	}

	plaintext := `{"address":"10.0.0.2","port":22,"username":"u","authType":"password","password":"p"}`
	sealed, err := kr.Seal("k1", plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	got, err := kr.Open("k1", sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got != plaintext {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestSealProducesDifferentCiphertexts(t *testing.T) {
	kr, _ := NewKeyRing("k1", testKeyHex)
	a, _ := kr.Seal("k1", "same-value")
	b, _ := kr.Seal("k1", "same-value")
	if a == b {
		t.Error("two seals of the same value should differ (random nonce)")
	}
}

func TestOpenUnknownKeyID(t *testing.T) {
	kr, _ := NewKeyRing("k1", testKeyHex)
	if _, err := kr.Open("nope", "anything"); err != ErrUnknownKeyID {
		t.Fatalf("expected ErrUnknownKeyID, got %v", err)
	}
}

func TestOpenTamperedPayload(t *testing.T) {
	kr, _ := NewKeyRing("k1", testKeyHex)
	sealed, err := kr.Seal("k1", "hello")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	tampered := []byte(sealed)
	tampered[len(tampered)-1] ^= 0xFF
	if _, err := kr.Open("k1", string(tampered)); err == nil {
		t.Fatal("expected tamper detection error, got nil")
	}
}

func TestOpenShortPayload(t *testing.T) {
	kr, _ := NewKeyRing("k1", testKeyHex)
	if _, err := kr.Open("k1", "YQ=="); err != ErrCiphertextTooShort {
		t.Fatalf("expected ErrCiphertextTooShort, got %v", err)
	}
}

func TestAddKeySupportsRotation(t *testing.T) {
	kr, _ := NewKeyRing("k1", testKeyHex)
	secondKey := "fedcba9876543210fedcba9876543210fedcba9876543210fedcba9876543210"
	if err := kr.AddKey("k2", secondKey); err != nil {
		t.Fatalf("AddKey: %v", err)
	}

	sealed, err := kr.Seal("k2", "rotated")
	if err != nil {
		t.Fatalf("Seal under k2: %v", err)
	}
	if _, err := kr.Open("k1", sealed); err == nil {
		t.Fatal("expected failure decrypting k2 payload under k1")
	}
	got, err := kr.Open("k2", sealed)
	if err != nil || got != "rotated" {
		t.Fatalf("Open under k2: got %q, err %v", got, err)
	}
}

func TestAddKeyRejectsWrongLength(t *testing.T) {
	kr, _ := NewKeyRing("k1", testKeyHex)
	if err := kr.AddKey("short", "abcd"); err == nil {
		t.Fatal("expected error for short key")
	}
}
