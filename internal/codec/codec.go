// Package codec reads and writes the key/value streams stored in
// intermediate and merged output files.
//
// Each record is one JSON object per line, {"Key":...,"Value":...}. JSON
// escapes newlines, quotes and every other delimiter, so keys and values may
// hold arbitrary text. A key or value that is not valid UTF-8 would be mangled
// by JSON, so it is carried base64-encoded in KeyBytes or ValueBytes instead.
package codec

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"unicode/utf8"

	"github.com/zeebo/errs"

	"github.com/prxssh/mapreduce/api"
)

// Error is the error class for malformed or unwritable streams.
var Error = errs.Class("codec")

type record struct {
	Key        string
	Value      string
	KeyBytes   []byte `json:",omitempty"`
	ValueBytes []byte `json:",omitempty"`
}

func toRecord(kv api.KeyValue) record {
	rec := record{Key: kv.Key, Value: kv.Value}
	if !utf8.ValidString(kv.Key) {
		rec.Key, rec.KeyBytes = "", []byte(kv.Key)
	}
	if !utf8.ValidString(kv.Value) {
		rec.Value, rec.ValueBytes = "", []byte(kv.Value)
	}
	return rec
}

func (rec record) keyValue() api.KeyValue {
	kv := api.KeyValue{Key: rec.Key, Value: rec.Value}
	if rec.KeyBytes != nil {
		kv.Key = string(rec.KeyBytes)
	}
	if rec.ValueBytes != nil {
		kv.Value = string(rec.ValueBytes)
	}
	return kv
}

// Encoder writes key/value records in order.
type Encoder struct {
	bw  *bufio.Writer
	enc *json.Encoder
}

func NewEncoder(w io.Writer) *Encoder {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	return &Encoder{bw: bw, enc: enc}
}

func (e *Encoder) Encode(kv api.KeyValue) error {
	rec := toRecord(kv)
	return Error.Wrap(e.enc.Encode(&rec))
}

// Flush must be called after the last Encode.
func (e *Encoder) Flush() error {
	return Error.Wrap(e.bw.Flush())
}

// WriteAll encodes kvs to w and flushes.
func WriteAll(w io.Writer, kvs []api.KeyValue) error {
	enc := NewEncoder(w)
	for _, kv := range kvs {
		if err := enc.Encode(kv); err != nil {
			return err
		}
	}
	return enc.Flush()
}

// ReadAll decodes every record in r. A truncated or corrupt stream is an
// error rather than a silent short read.
func ReadAll(r io.Reader) ([]api.KeyValue, error) {
	var kvs []api.KeyValue

	dec := json.NewDecoder(bufio.NewReader(r))
	for {
		var rec record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return kvs, nil
		}
		if err != nil {
			return nil, Error.Wrap(err)
		}
		kvs = append(kvs, rec.keyValue())
	}
}
