package store

import (
	"encoding/json"
	"time"

	"github.com/gear6io/oxygen/pkg/errors"
	"github.com/tidwall/gjson"
)

// Record kinds written by the core services.
const (
	KindMachine = "machine"
	KindArcade  = "arcade"
	KindCard    = "card"
	KindUser    = "user"
	KindRefID   = "refid"
	KindProfile = "profile"
	KindEvent   = "event"
)

// Record is a JSON document. Fields are read with gjson paths.
type Record []byte

// NewRecord encodes v as a record.
func NewRecord(v interface{}) (Record, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.New(ErrInvalidRecord, "failed to encode record", err)
	}
	return Record(b), nil
}

// Valid reports whether the record is well-formed JSON.
func (r Record) Valid() bool {
	return len(r) > 0 && gjson.ValidBytes(r)
}

// Get returns the value at path.
func (r Record) Get(path string) gjson.Result {
	return gjson.GetBytes(r, path)
}

func (r Record) String(path string) string { return r.Get(path).String() }
func (r Record) Int(path string) int64     { return r.Get(path).Int() }
func (r Record) Bool(path string) bool     { return r.Get(path).Bool() }

// Exists reports whether path is present.
func (r Record) Exists(path string) bool {
	return r.Get(path).Exists()
}

// Decode unmarshals the record into v.
func (r Record) Decode(v interface{}) error {
	if err := json.Unmarshal(r, v); err != nil {
		return errors.New(ErrInvalidRecord, "failed to decode record", err)
	}
	return nil
}

func (r Record) clone() Record {
	if r == nil {
		return nil
	}
	return append(Record(nil), r...)
}

// Entry is a stored record with its address.
type Entry struct {
	Kind      string    `json:"kind"`
	Key       string    `json:"key"`
	Record    Record    `json:"record"`
	UpdatedAt time.Time `json:"updated_at"`
}
