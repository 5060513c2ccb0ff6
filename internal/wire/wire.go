// Package wire implements the device line protocol: newline-delimited
// JSON objects over TCP, classified purely by the presence and type of
// their "type" and "sn" fields.
package wire

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// Pong is the canonical reply to a device heartbeat.
const Pong = `{"type":"pong"}`

var (
	// ErrEmptyPayload is returned when a write is attempted with nothing
	// but whitespace.
	ErrEmptyPayload = errors.New("wire: empty payload")
)

// Class is the syntactic category of an inbound line.
type Class int

const (
	Invalid Class = iota
	Heartbeat
	Ack
	Event
)

func (c Class) String() string {
	switch c {
	case Heartbeat:
		return "heartbeat"
	case Ack:
		return "ack"
	case Event:
		return "event"
	default:
		return "invalid"
	}
}

// parseObject decodes a line into a JSON object. Non-object JSON values
// (arrays, numbers, strings, null) and malformed input return nil.
func parseObject(line string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(line), &obj); err != nil {
		return nil
	}
	return obj
}

func stringField(obj map[string]any, field string) (string, bool) {
	v, ok := obj[field].(string)
	return v, ok
}

// HeartbeatSN returns the SN of a heartbeat line
// ({"type":"ping","sn":...}). ok is false for anything else.
func HeartbeatSN(line string) (string, bool) {
	obj := parseObject(line)
	if obj == nil {
		return "", false
	}
	if t, ok := stringField(obj, "type"); !ok || t != "ping" {
		return "", false
	}
	return stringField(obj, "sn")
}

// AckSN returns the SN of a getack/setack line. ok is false for anything
// else.
func AckSN(line string) (string, bool) {
	obj := parseObject(line)
	if obj == nil {
		return "", false
	}
	t, ok := stringField(obj, "type")
	if !ok || (t != "getack" && t != "setack") {
		return "", false
	}
	return stringField(obj, "sn")
}

// ParseSN extracts the string "sn" field of any JSON object line. The
// HTTP push endpoint uses it to route request bodies.
func ParseSN(line string) (string, bool) {
	obj := parseObject(line)
	if obj == nil {
		return "", false
	}
	return stringField(obj, "sn")
}

// isEvent reports whether the line is a JSON object carrying both "type"
// and "sn" keys. Heartbeats and acks are subsets of this shape, so
// Classify checks them first.
func isEvent(line string) bool {
	obj := parseObject(line)
	if obj == nil {
		return false
	}
	_, hasType := obj["type"]
	_, hasSN := obj["sn"]
	return hasType && hasSN
}

// Classify assigns an inbound line to its message class. No semantic
// validation of other fields happens here.
func Classify(line string) Class {
	if _, ok := HeartbeatSN(line); ok {
		return Heartbeat
	}
	if _, ok := AckSN(line); ok {
		return Ack
	}
	if isEvent(line) {
		return Event
	}
	return Invalid
}

// Reader yields newline-terminated frames from a device stream.
type Reader struct {
	br *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// ReadLine blocks for the next frame. io.EOF (or any transport error)
// means the peer is gone; the caller treats it as fatal.
func (r *Reader) ReadLine() (string, error) {
	line, err := r.br.ReadString('\n')
	if err != nil {
		return "", err
	}
	return line, nil
}

// Writer sends newline-terminated frames to a device stream.
type Writer struct {
	bw *bufio.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{bw: bufio.NewWriter(w)}
}

// WriteLine trims the payload, appends the terminating newline, and
// flushes. Devices never observe a partial line: a failed write or flush
// is fatal to the session.
func (w *Writer) WriteLine(line string) error {
	payload := strings.TrimSpace(line)
	if payload == "" {
		return ErrEmptyPayload
	}
	if _, err := w.bw.WriteString(payload); err != nil {
		return err
	}
	if err := w.bw.WriteByte('\n'); err != nil {
		return err
	}
	return w.bw.Flush()
}

// WritePong sends the canonical heartbeat reply.
func (w *Writer) WritePong() error {
	return w.WriteLine(Pong)
}
