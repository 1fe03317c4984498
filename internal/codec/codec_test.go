package codec

import "testing"

func TestBinaryRoundTrip(t *testing.T) {
	cases := []struct {
		tag       byte
		sessionID string
		payload   []byte
	}{
		{TagInput, "s1", []byte("ls\n")},
		{TagOutput, "", []byte("no session")},
		{TagResize, "session-with-longer-id-123", EncodeResizePayload(120, 40)},
	}
	for _, tc := range cases {
		encoded, err := EncodeBinary(tc.tag, tc.sessionID, tc.payload)
		if err != nil {
			t.Fatalf("EncodeBinary: %v", err)
		}
		decoded, err := DecodeBinary(encoded)
		if err != nil {
			t.Fatalf("DecodeBinary: %v", err)
		}
		if decoded.Tag != tc.tag || decoded.SessionID != tc.sessionID || string(decoded.Payload) != string(tc.payload) {
			t.Errorf("round trip mismatch: got %+v, want tag=%d session=%q payload=%q", decoded, tc.tag, tc.sessionID, tc.payload)
		}
	}
}

func TestDecodeBinaryShortFrame(t *testing.T) {
	if _, err := DecodeBinary([]byte{0x01}); err == nil {
		t.Fatal("expected error for 1-byte frame")
	}
	if _, err := DecodeBinary(nil); err == nil {
		t.Fatal("expected error for empty frame")
	}
}

func TestDecodeBinaryTruncatedSessionID(t *testing.T) {
	// claims sessionId length 10 but provides none
	frame := []byte{TagInput, 10}
	if _, err := DecodeBinary(frame); err == nil {
		t.Fatal("expected error for truncated sessionId")
	}
}

func TestEncodeBinarySessionIDTooLong(t *testing.T) {
	long := make([]byte, 256)
	if _, err := EncodeBinary(TagInput, string(long), nil); err == nil {
		t.Fatal("expected error for sessionId longer than 255 bytes")
	}
}

func TestResizePayloadRoundTrip(t *testing.T) {
	payload := EncodeResizePayload(200, 50)
	cols, rows, err := DecodeResizePayload(payload)
	if err != nil {
		t.Fatalf("DecodeResizePayload: %v", err)
	}
	if cols != 200 || rows != 50 {
		t.Errorf("got cols=%d rows=%d, want 200,50", cols, rows)
	}
}

func TestDecodeResizePayloadTooShort(t *testing.T) {
	if _, _, err := DecodeResizePayload([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for short resize payload")
	}
}

func TestTextFrameRoundTrip(t *testing.T) {
	f := TextFrame{
		Type:      "connect",
		Data:      []byte(`{"sessionId":"s1"}`),
		Version:   "2.0",
		Timestamp: 12345,
		RequestID: "req-1",
	}
	encoded, err := EncodeText(f)
	if err != nil {
		t.Fatalf("EncodeText: %v", err)
	}
	decoded, err := DecodeText(encoded)
	if err != nil {
		t.Fatalf("DecodeText: %v", err)
	}
	if decoded.Type != f.Type || decoded.RequestID != f.RequestID {
		t.Errorf("round trip mismatch: got %+v", decoded)
	}
}

func TestDecodeTextInvalidJSON(t *testing.T) {
	if _, err := DecodeText([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}
