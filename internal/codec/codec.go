// Package codec implements the client-channel wire format: a JSON text frame
// for control messages and a compact binary frame for shell/SFTP payloads.
//
// Binary frame layout:
//
//	offset  0         1                 2               2+L
//	       +--------+-------------------+---------------+--------+
//	       |  type  | sessionId_len L   |  sessionId    | payload|
//	       +--------+-------------------+---------------+--------+
package codec

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Binary frame type tags.
const (
	TagInput          byte = 0x01 // client -> host stdin
	TagOutput         byte = 0x02 // host -> client stdout/stderr
	TagResize         byte = 0x03 // payload: cols uint32 LE, rows uint32 LE
	TagPong           byte = 0x04 // server -> client, unsolicited
	TagConnected      byte = 0x05 // server -> client, unsolicited
	TagNetworkLatency byte = 0x06 // server -> client, unsolicited
	TagSFTP           byte = 0x07 // SFTP operation envelope (JSON payload)
)

const maxSessionIDLen = 255

// BinaryFrame is the decoded form of a binary-tagged frame.
type BinaryFrame struct {
	Tag       byte
	SessionID string
	Payload   []byte
}

// EncodeBinary serializes tag, sessionID, and payload into the wire layout.
// It never panics; it returns an error if sessionID is too long to encode in
// a single length byte.
func EncodeBinary(tag byte, sessionID string, payload []byte) ([]byte, error) {
	if len(sessionID) > maxSessionIDLen {
		return nil, fmt.Errorf("codec: sessionId too long (%d > %d)", len(sessionID), maxSessionIDLen)
	}
	buf := make([]byte, 0, 2+len(sessionID)+len(payload))
	buf = append(buf, tag, byte(len(sessionID)))
	buf = append(buf, sessionID...)
	buf = append(buf, payload...)
	return buf, nil
}

// DecodeBinary parses a wire-format binary frame. Short or malformed input
// returns an error; it never panics on malformed input, per the codec's
// decode contract.
func DecodeBinary(frame []byte) (BinaryFrame, error) {
	if len(frame) < 2 {
		return BinaryFrame{}, fmt.Errorf("codec: frame too short (%d bytes)", len(frame))
	}
	tag := frame[0]
	l := int(frame[1])
	if len(frame) < 2+l {
		return BinaryFrame{}, fmt.Errorf("codec: frame declares sessionId length %d but only %d bytes remain", l, len(frame)-2)
	}
	sessionID := string(frame[2 : 2+l])
	payload := frame[2+l:]
	return BinaryFrame{Tag: tag, SessionID: sessionID, Payload: payload}, nil
}

// EncodeResizePayload packs cols/rows into the 8-byte resize payload.
func EncodeResizePayload(cols, rows uint32) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], cols)
	binary.LittleEndian.PutUint32(buf[4:8], rows)
	return buf
}

// DecodeResizePayload unpacks a resize payload produced by EncodeResizePayload.
func DecodeResizePayload(payload []byte) (cols, rows uint32, err error) {
	if len(payload) < 8 {
		return 0, 0, fmt.Errorf("codec: resize payload too short (%d bytes)", len(payload))
	}
	cols = binary.LittleEndian.Uint32(payload[0:4])
	rows = binary.LittleEndian.Uint32(payload[4:8])
	return cols, rows, nil
}

// TextFrame is the JSON envelope exchanged for control messages in both
// directions.
type TextFrame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Version   string          `json:"version,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// EncodeText marshals a TextFrame to JSON.
func EncodeText(f TextFrame) ([]byte, error) {
	return json.Marshal(f)
}

// DecodeText unmarshals a JSON text frame. It does not validate the result
// against per-type schemas; see internal/validate for that.
func DecodeText(raw []byte) (TextFrame, error) {
	var f TextFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return TextFrame{}, fmt.Errorf("codec: invalid text frame: %w", err)
	}
	return f, nil
}
