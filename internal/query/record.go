package query

import (
	"bytes"
	"encoding/json"
)

// Field is one named value of a record.
type Field struct {
	Name  string
	Value any
}

// Record is a result row with column order preserved from the result
// metadata. Values are JSON-compatible: nil, bool, int64, float64 or string.
type Record []Field

// Get returns the value for name.
func (r Record) Get(name string) (any, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Names returns the column names in order.
func (r Record) Names() []string {
	names := make([]string, len(r))
	for i, f := range r {
		names[i] = f.Name
	}
	return names
}

// MarshalJSON encodes the record as an object, keeping field order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Outcome is the result of Executor.Execute: Records on success, Failure otherwise.
type Outcome struct {
	Query    string
	Columns  []string
	Records  []Record
	Attempts int
	Failure  *Failure
}

// OK reports whether the execution succeeded.
func (o Outcome) OK() bool {
	return o.Failure == nil
}

// JSON returns the raw payload handed to callers: the record array on
// success, the {"error","query","attempts"} object on failure.
func (o Outcome) JSON() []byte {
	var (
		data []byte
		err  error
	)
	if o.Failure != nil {
		data, err = json.Marshal(o.Failure)
	} else {
		recs := o.Records
		if recs == nil {
			recs = []Record{}
		}
		data, err = json.Marshal(recs)
	}
	if err != nil {
		data, _ = json.Marshal(map[string]string{"error": err.Error()})
	}
	return data
}
