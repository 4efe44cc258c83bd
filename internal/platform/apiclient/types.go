package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// PatientSource supplies the id sent in the Patient-Id header.
type PatientSource interface {
	PatientID() string
}

// ID is a backend identifier. The backend emits ids as JSON numbers in some
// responses and strings in others; both decode to the same value.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON emits numeric ids as JSON numbers.
func (id ID) MarshalJSON() ([]byte, error) {
	if id != "" && json.Valid([]byte(id)) && isDigits(string(id)) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func isDigits(s string) bool {
	for i, r := range s {
		if r == '-' && i == 0 && len(s) > 1 {
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (id ID) String() string {
	return string(id)
}
