package etcdstore

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
)

// Codec is an interface for serializing and deserializing session records.
type Codec interface {
	// Encode encodes the record into a byte slice.
	Encode(rec *Record) ([]byte, error)

	// Decode decodes a byte slice produced by Encode.
	Decode(data []byte) (*Record, error)
}

var (
	_ Codec = JSONCodec{}
	_ Codec = GobCodec{}
)

// JSONCodec stores records as JSON text. It is the default codec. Numbers
// inside Values decode as float64.
type JSONCodec struct{}

func (JSONCodec) Encode(rec *Record) ([]byte, error) {
	return json.Marshal(rec)
}

func (JSONCodec) Decode(data []byte) (*Record, error) {
	rec := &Record{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// GobCodec is a Codec implementation using Go's encoding/gob. It preserves
// Go types inside Values; custom types must be registered with gob.Register.
type GobCodec struct{}

// Encode serializes the record using gob encoding.
func (GobCodec) Encode(rec *Record) ([]byte, error) {
	var buf bytes.Buffer
	encoder := gob.NewEncoder(&buf)

	err := encoder.Encode(rec)
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode deserializes the data into a record using gob decoding.
func (GobCodec) Decode(data []byte) (*Record, error) {
	buf := bytes.NewBuffer(data)
	decoder := gob.NewDecoder(buf)

	rec := &Record{}
	if err := decoder.Decode(rec); err != nil {
		return nil, err
	}
	return rec, nil
}
