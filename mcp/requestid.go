package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// RequestID is the loosely typed id of an incoming response. Servers
// normally echo the integer id they were sent, but some echo it as a
// string, and error responses for unparseable requests carry a null id.
type RequestID struct {
	value any // int64, string, or nil
}

// UnmarshalJSON accepts a number, string, or null id.
func (r *RequestID) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}

	switch id := v.(type) {
	case nil:
		r.value = nil
	case string:
		r.value = id
	case json.Number:
		n, err := id.Int64()
		if err != nil {
			return fmt.Errorf("non-integer id %s", id)
		}
		r.value = n
	default:
		return fmt.Errorf("unsupported id type %T", v)
	}
	return nil
}

// MarshalJSON round-trips the id in the form it arrived.
func (r RequestID) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.value)
}

// IsSet reports whether the response carried a non-null id.
func (r RequestID) IsSet() bool {
	return r.value != nil
}

// Equal reports whether the id answers the given outgoing request id.
// String ids are compared by their numeric text, so "3" matches 3.
func (r RequestID) Equal(id int64) bool {
	switch v := r.value.(type) {
	case int64:
		return v == id
	case string:
		return v == strconv.FormatInt(id, 10)
	default:
		return false
	}
}

// String renders the id for logs and error messages.
func (r RequestID) String() string {
	switch v := r.value.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
