// Package validate implements the per-message-type schema checks described
// in spec component C2: base envelope validation, per-type field schemas,
// and a sanitized copy with unknown fields stripped and defaults applied.
package validate

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/webssh/gateway/internal/gwerr"
)

// sessionIDPattern matches spec §3's session-id grammar.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

const (
	maxCommandLen = 4096
	// maxUploadContentLen bounds the base64 "content" field of a legacy
	// sftp_upload message (100 MB of raw bytes is ~134 MB base64-encoded).
	maxUploadContentLen = 134 * 1024 * 1024
)

// FieldKind is the JSON type a field must decode as.
type FieldKind int

const (
	KindString FieldKind = iota
	KindInt
	KindBool
	KindAny
)

// FieldSpec describes one field of a message-type schema.
type FieldSpec struct {
	Name     string
	Required bool
	Kind     FieldKind
	Default  any
	// MinInt/MaxInt bound KindInt fields when non-nil.
	MinInt, MaxInt *int
	// MaxLen bounds KindString fields when non-zero.
	MaxLen int
	// Pattern, when set, must match a KindString field's value.
	Pattern *regexp.Regexp
}

// Schema is the field list for one message type.
type Schema struct {
	Fields []FieldSpec
}

func intPtr(n int) *int { return &n }

// Schemas is the full per-type schema table from spec §4.2 / §6.
var Schemas = map[string]Schema{
	"connect": {Fields: []FieldSpec{
		{Name: "sessionId", Kind: KindString, MaxLen: 128, Pattern: sessionIDPattern},
		{Name: "connectionId", Kind: KindString, MaxLen: 128},
		{Name: "address", Kind: KindString, MaxLen: 255},
		{Name: "port", Kind: KindInt, Default: 22, MinInt: intPtr(1), MaxInt: intPtr(65535)},
		{Name: "username", Kind: KindString, MaxLen: 255},
		{Name: "authType", Kind: KindString, Default: "password", MaxLen: 32},
		{Name: "password", Kind: KindString},
		{Name: "privateKey", Kind: KindString},
		{Name: "passphrase", Kind: KindString},
		{Name: "shell", Kind: KindString, MaxLen: 255},
	}},
	"authenticate": {Fields: []FieldSpec{
		{Name: "connectionId", Required: true, Kind: KindString, MaxLen: 128},
		{Name: "encryptedPayload", Required: true, Kind: KindString},
		{Name: "keyId", Required: true, Kind: KindString, MaxLen: 128},
	}},
	"data": {Fields: []FieldSpec{
		{Name: "sessionId", Required: true, Kind: KindString, MaxLen: 128, Pattern: sessionIDPattern},
		{Name: "data", Required: true, Kind: KindString},
	}},
	"resize": {Fields: []FieldSpec{
		{Name: "sessionId", Required: true, Kind: KindString, MaxLen: 128, Pattern: sessionIDPattern},
		{Name: "cols", Required: true, Kind: KindInt, MinInt: intPtr(1), MaxInt: intPtr(500)},
		{Name: "rows", Required: true, Kind: KindInt, MinInt: intPtr(1), MaxInt: intPtr(200)},
	}},
	"disconnect": {Fields: []FieldSpec{
		{Name: "sessionId", Required: true, Kind: KindString, MaxLen: 128, Pattern: sessionIDPattern},
	}},
	"ping": {Fields: []FieldSpec{
		{Name: "sessionId", Kind: KindString, MaxLen: 128, Pattern: sessionIDPattern},
		{Name: "webSocketLatency", Kind: KindInt, Default: 0, MinInt: intPtr(0)},
		{Name: "measureLatency", Kind: KindBool, Default: false},
	}},
	"ssh_exec": {Fields: []FieldSpec{
		{Name: "sessionId", Required: true, Kind: KindString, MaxLen: 128, Pattern: sessionIDPattern},
		{Name: "operationId", Kind: KindString, MaxLen: 128},
		{Name: "command", Required: true, Kind: KindString, MaxLen: maxCommandLen},
	}},
	"sftp_init": {Fields: []FieldSpec{
		{Name: "sessionId", Required: true, Kind: KindString, MaxLen: 128, Pattern: sessionIDPattern},
	}},
	"sftp_list": {Fields: sftpPathOpFields()},
	"sftp_mkdir": {Fields: sftpPathOpFields()},
	"sftp_stat":  {Fields: sftpPathOpFields()},
	"sftp_fast_delete": {Fields: sftpPathOpFields()},
	"sftp_delete": {Fields: append(sftpPathOpFields(),
		FieldSpec{Name: "isDirectory", Kind: KindBool, Default: false},
	)},
	"sftp_chmod": {Fields: append(sftpPathOpFields(),
		FieldSpec{Name: "mode", Required: true, Kind: KindInt, MinInt: intPtr(0), MaxInt: intPtr(0o7777)},
	)},
	"sftp_rename": {Fields: []FieldSpec{
		{Name: "sessionId", Required: true, Kind: KindString, MaxLen: 128, Pattern: sessionIDPattern},
		{Name: "operationId", Kind: KindString, MaxLen: 128},
		{Name: "oldPath", Required: true, Kind: KindString, MaxLen: 4096},
		{Name: "newPath", Required: true, Kind: KindString, MaxLen: 4096},
	}},
	"sftp_upload": {Fields: []FieldSpec{
		{Name: "sessionId", Required: true, Kind: KindString, MaxLen: 128, Pattern: sessionIDPattern},
		{Name: "operationId", Kind: KindString, MaxLen: 128},
		{Name: "filename", Required: true, Kind: KindString, MaxLen: 4096},
		{Name: "path", Required: true, Kind: KindString, MaxLen: 4096},
		{Name: "content", Kind: KindString, MaxLen: maxUploadContentLen},
	}},
	"sftp_download":        {Fields: sftpPathOpFields()},
	"sftp_download_folder": {Fields: sftpPathOpFields()},
	"sftp_close": {Fields: []FieldSpec{
		{Name: "sessionId", Required: true, Kind: KindString, MaxLen: 128, Pattern: sessionIDPattern},
		{Name: "operationId", Kind: KindString, MaxLen: 128},
	}},
	"cancel": {Fields: []FieldSpec{
		{Name: "sessionId", Required: true, Kind: KindString, MaxLen: 128, Pattern: sessionIDPattern},
		{Name: "operationId", Required: true, Kind: KindString, MaxLen: 128},
	}},
}

func sftpPathOpFields() []FieldSpec {
	return []FieldSpec{
		{Name: "sessionId", Required: true, Kind: KindString, MaxLen: 128, Pattern: sessionIDPattern},
		{Name: "operationId", Kind: KindString, MaxLen: 128},
		{Name: "path", Required: true, Kind: KindString, MaxLen: 4096},
	}
}

// Result is the sanitized, defaulted message returned by Validate.
type Result struct {
	Type string
	Data map[string]any
}

// Validate checks the base envelope, dispatches to the per-type schema, and
// returns a sanitized copy with unknown fields stripped and defaults
// applied. Errors are returned as *gwerr.GatewayError carrying the
// appropriate wire code.
func Validate(msgType string, rawData []byte) (Result, *gwerr.GatewayError) {
	if msgType == "" {
		return Result{}, gwerr.New(gwerr.CodeInvalidEnvelope, gwerr.KindValidation, "missing message type")
	}

	schema, ok := Schemas[msgType]
	if !ok {
		return Result{}, gwerr.New(gwerr.CodeUnsupportedType, gwerr.KindValidation, fmt.Sprintf("unsupported message type %q", msgType))
	}

	var raw map[string]any
	if len(rawData) > 0 {
		if err := json.Unmarshal(rawData, &raw); err != nil {
			return Result{}, gwerr.Wrap(gwerr.CodeInvalidEnvelope, gwerr.KindValidation, "data is not a JSON object", err)
		}
	}
	if raw == nil {
		raw = make(map[string]any)
	}

	sanitized := make(map[string]any, len(schema.Fields))
	for _, field := range schema.Fields {
		v, present := raw[field.Name]
		if !present {
			if field.Required {
				return Result{}, gwerr.New(gwerr.CodeSchemaViolation, gwerr.KindValidation,
					fmt.Sprintf("field %q is required for message type %q", field.Name, msgType))
			}
			if field.Default != nil {
				sanitized[field.Name] = field.Default
			}
			continue
		}
		checked, gerr := checkField(field, v, msgType)
		if gerr != nil {
			return Result{}, gerr
		}
		sanitized[field.Name] = checked
	}

	return Result{Type: msgType, Data: sanitized}, nil
}

func checkField(field FieldSpec, v any, msgType string) (any, *gwerr.GatewayError) {
	switch field.Kind {
	case KindString:
		s, ok := v.(string)
		if !ok {
			return nil, fieldTypeErr(field.Name, msgType, "string")
		}
		if field.MaxLen > 0 && len(s) > field.MaxLen {
			code := gwerr.CodeFieldOutOfRange
			if field.Name == "content" {
				code = gwerr.CodeMessageTooLarge
			}
			return nil, gwerr.New(code, gwerr.KindValidation,
				fmt.Sprintf("field %q exceeds max length %d", field.Name, field.MaxLen))
		}
		if field.Pattern != nil && !field.Pattern.MatchString(s) {
			return nil, gwerr.New(gwerr.CodeSchemaViolation, gwerr.KindValidation,
				fmt.Sprintf("field %q does not match required pattern", field.Name))
		}
		return s, nil

	case KindInt:
		n, ok := toInt(v)
		if !ok {
			return nil, fieldTypeErr(field.Name, msgType, "integer")
		}
		if field.MinInt != nil && n < *field.MinInt {
			return nil, gwerr.New(gwerr.CodeFieldOutOfRange, gwerr.KindValidation,
				fmt.Sprintf("field %q must be >= %d", field.Name, *field.MinInt))
		}
		if field.MaxInt != nil && n > *field.MaxInt {
			return nil, gwerr.New(gwerr.CodeFieldOutOfRange, gwerr.KindValidation,
				fmt.Sprintf("field %q must be <= %d", field.Name, *field.MaxInt))
		}
		return n, nil

	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fieldTypeErr(field.Name, msgType, "bool")
		}
		return b, nil

	default:
		return v, nil
	}
}

func fieldTypeErr(name, msgType, want string) *gwerr.GatewayError {
	return gwerr.New(gwerr.CodeSchemaViolation, gwerr.KindValidation,
		fmt.Sprintf("field %q of message type %q must be a %s", name, msgType, want))
}

// toInt accepts json.Number-decoded float64 (the default for interface{}
// targets) as well as a literal int, truncating only when the value is a
// whole number.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}
