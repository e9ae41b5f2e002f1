package helpers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// UnmarshalJSON is json.Unmarshal with numbers inside untyped values kept as
// json.Number, so integers beyond 2^53 survive exactly.
func UnmarshalJSON(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("invalid character after top-level value")
	}
	return nil
}
