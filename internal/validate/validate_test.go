package validate

import (
	"encoding/json"
	"testing"

	"github.com/webssh/gateway/internal/gwerr"
)

func TestValidateUnsupportedType(t *testing.T) {
	_, gerr := Validate("not_a_type", []byte(`{}`))
	if gerr == nil || gerr.Code != gwerr.CodeUnsupportedType {
		t.Fatalf("expected CodeUnsupportedType, got %+v", gerr)
	}
}

func TestValidateMissingType(t *testing.T) {
	_, gerr := Validate("", []byte(`{}`))
	if gerr == nil || gerr.Code != gwerr.CodeInvalidEnvelope {
		t.Fatalf("expected CodeInvalidEnvelope, got %+v", gerr)
	}
}

func TestValidateConnectDefaults(t *testing.T) {
	res, gerr := Validate("connect", []byte(`{"sessionId":"s1","address":"10.0.0.2","username":"u","password":"p"}`))
	if gerr != nil {
		t.Fatalf("unexpected error: %v", gerr)
	}
	if res.Data["port"] != 22 {
		t.Errorf("expected default port 22, got %v", res.Data["port"])
	}
	if res.Data["authType"] != "password" {
		t.Errorf("expected default authType password, got %v", res.Data["authType"])
	}
}

func TestValidateConnectStripsUnknownFields(t *testing.T) {
	res, gerr := Validate("connect", []byte(`{"sessionId":"s1","__proto__":"evil","extra":123}`))
	if gerr != nil {
		t.Fatalf("unexpected error: %v", gerr)
	}
	if _, present := res.Data["extra"]; present {
		t.Error("unknown field 'extra' should have been stripped")
	}
	if _, present := res.Data["__proto__"]; present {
		t.Error("unknown field '__proto__' should have been stripped")
	}
}

func TestValidateResizeRequiredFields(t *testing.T) {
	_, gerr := Validate("resize", []byte(`{"sessionId":"s1"}`))
	if gerr == nil || gerr.Code != gwerr.CodeSchemaViolation {
		t.Fatalf("expected CodeSchemaViolation for missing cols/rows, got %+v", gerr)
	}
}

func TestValidateResizeOutOfRange(t *testing.T) {
	_, gerr := Validate("resize", []byte(`{"sessionId":"s1","cols":9999,"rows":40}`))
	if gerr == nil || gerr.Code != gwerr.CodeFieldOutOfRange {
		t.Fatalf("expected CodeFieldOutOfRange, got %+v", gerr)
	}
}

func TestValidateSessionIDPattern(t *testing.T) {
	_, gerr := Validate("disconnect", []byte(`{"sessionId":"bad session id!"}`))
	if gerr == nil || gerr.Code != gwerr.CodeSchemaViolation {
		t.Fatalf("expected CodeSchemaViolation for invalid session id, got %+v", gerr)
	}
}

func TestValidateIsIdempotent(t *testing.T) {
	first, gerr := Validate("resize", []byte(`{"sessionId":"s1","cols":80,"rows":24}`))
	if gerr != nil {
		t.Fatalf("unexpected error: %v", gerr)
	}
	encoded, err := json.Marshal(first.Data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	second, gerr := Validate("resize", encoded)
	if gerr != nil {
		t.Fatalf("unexpected error revalidating: %v", gerr)
	}
	if len(first.Data) != len(second.Data) || first.Data["cols"] != second.Data["cols"] || first.Data["rows"] != second.Data["rows"] {
		t.Errorf("validate(validate(M)) should equal validate(M): got %+v vs %+v", first.Data, second.Data)
	}
}

func TestValidateUploadContentTooLarge(t *testing.T) {
	oversized := make([]byte, maxUploadContentLen+1)
	for i := range oversized {
		oversized[i] = 'a'
	}
	data := []byte(`{"sessionId":"s1","filename":"f","path":"/tmp","content":"` + string(oversized) + `"}`)
	_, gerr := Validate("sftp_upload", data)
	if gerr == nil || gerr.Code != gwerr.CodeMessageTooLarge {
		t.Fatalf("expected CodeMessageTooLarge, got %+v", gerr)
	}
}
