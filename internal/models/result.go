package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Result is one discovered subdomain. Results are read-only on the client.
type Result struct {
	ID            int64      `json:"id"`
	ScanID        int64      `json:"scan_id"`
	Subdomain     string     `json:"subdomain"`
	IPAddress     *string    `json:"ip_address"`
	IsAlive       bool       `json:"is_alive"`
	StatusCode    *int       `json:"status_code"`
	ContentLength *int       `json:"content_length,omitempty"`
	Title         *string    `json:"title"`
	Ports         IntList    `json:"ports"`
	Technologies  StringList `json:"technologies"`
	URLs          StringList `json:"urls,omitempty"`
	CreatedAt     *Timestamp `json:"created_at,omitempty"`
}

// ResultPage is one page of results plus the count of every matching result.
type ResultPage struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
}

// IntList decodes a JSON array of integers. Some endpoints return the list
// still encoded as a JSON string, so that form is accepted too.
type IntList []int

// UnmarshalJSON implements json.Unmarshaler.
func (l *IntList) UnmarshalJSON(data []byte) error {
	raw, err := unwrapEncodedList(data)
	if err != nil {
		return err
	}
	if raw == nil {
		*l = IntList{}
		return nil
	}
	var values []int
	if err := json.Unmarshal(raw, &values); err != nil {
		return fmt.Errorf("expected a list of integers: %w", err)
	}
	*l = values
	return nil
}

// StringList decodes a JSON array of strings, plain or string-encoded.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(data []byte) error {
	raw, err := unwrapEncodedList(data)
	if err != nil {
		return err
	}
	if raw == nil {
		*l = StringList{}
		return nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return fmt.Errorf("expected a list of strings: %w", err)
	}
	*l = values
	return nil
}

// unwrapEncodedList returns the array payload of data, or nil for null and
// empty strings.
func unwrapEncodedList(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] != '"' {
		return trimmed, nil
	}
	var encoded string
	if err := json.Unmarshal(trimmed, &encoded); err != nil {
		return nil, err
	}
	if encoded == "" {
		return nil, nil
	}
	return []byte(encoded), nil
}

// Clone returns a deep copy of the result.
func (r Result) Clone() Result {
	out := r
	out.Ports = append(IntList(nil), r.Ports...)
	out.Technologies = append(StringList(nil), r.Technologies...)
	out.URLs = append(StringList(nil), r.URLs...)
	return out
}
