package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ugorji/go/codec"
)

// Format selects the on-disk encoding of a record.
type Format int

const (
	// FormatJSON writes indented JSON to record.json.
	FormatJSON Format = iota
	// FormatMsgpack writes MessagePack to record.msgpack.
	FormatMsgpack
)

// ParseFormat accepts "json" or "msgpack".
func ParseFormat(s string) (Format, error) {
	switch s {
	case "json", "":
		return FormatJSON, nil
	case "msgpack", "mp":
		return FormatMsgpack, nil
	}
	return 0, fmt.Errorf("unknown record format %q", s)
}

func (f Format) String() string {
	if f == FormatMsgpack {
		return "msgpack"
	}
	return "json"
}

// fileName is the record file name inside the record directory.
func (f Format) fileName() string {
	if f == FormatMsgpack {
		return "record.msgpack"
	}
	return "record.json"
}

var msgpackHandle = &codec.MsgpackHandle{}

func init() {
	// time.Time as the msgpack timestamp extension
	msgpackHandle.WriteExt = true
}

func encodeRecord(f Format, rec *Record) ([]byte, error) {
	if f == FormatJSON {
		return json.MarshalIndent(rec, "", "  ")
	}
	buf := new(bytes.Buffer)
	enc := codec.NewEncoder(buf, msgpackHandle)
	if err := enc.Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRecord(f Format, data []byte) (*Record, error) {
	var rec Record
	if f == FormatJSON {
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, err
		}
		return &rec, nil
	}
	dec := codec.NewDecoder(bytes.NewReader(data), msgpackHandle)
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
