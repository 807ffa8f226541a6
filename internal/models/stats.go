package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Stats is the aggregate snapshot served by /results/stats. It is replaced
// wholesale on every fetch.
type Stats struct {
	Scans           ScanCounts      `json:"scans"`
	Subdomains      SubdomainCounts `json:"subdomains"`
	TopTechnologies []TechCount     `json:"top_technologies"`
	TopPorts        []PortCount     `json:"top_ports"`
}

// ScanCounts groups scan totals.
type ScanCounts struct {
	Total     int64 `json:"total" validate:"gte=0"`
	Completed int64 `json:"completed" validate:"gte=0"`
	Running   int64 `json:"running" validate:"gte=0"`
}

// SubdomainCounts groups result totals.
type SubdomainCounts struct {
	Total         int64 `json:"total" validate:"gte=0"`
	Alive         int64 `json:"alive" validate:"gte=0"`
	WithOpenPorts int64 `json:"with_open_ports" validate:"gte=0"`
}

// TechCount is a [name, count] pair.
type TechCount struct {
	Name  string
	Count int64
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *TechCount) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil || len(pair) != 2 {
		return fmt.Errorf("technology entry must be a [name, count] pair")
	}
	if err := json.Unmarshal(pair[0], &c.Name); err != nil {
		return fmt.Errorf("technology name: %w", err)
	}
	return decodeCount(pair[1], &c.Count)
}

// MarshalJSON implements json.Marshaler.
func (c TechCount) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{c.Name, c.Count})
}

// PortCount is a [port, count] pair. The server may send the port as a string
// or a number; Port holds its decimal text.
type PortCount struct {
	Port  string
	Count int64
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *PortCount) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil || len(pair) != 2 {
		return fmt.Errorf("port entry must be a [port, count] pair")
	}

	var port string
	if err := json.Unmarshal(pair[0], &port); err != nil {
		var number int64
		if err := json.Unmarshal(pair[0], &number); err != nil {
			return fmt.Errorf("port must be a string or an integer")
		}
		port = strconv.FormatInt(number, 10)
	}
	c.Port = port
	return decodeCount(pair[1], &c.Count)
}

// MarshalJSON implements json.Marshaler.
func (c PortCount) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{c.Port, c.Count})
}

func decodeCount(raw json.RawMessage, dst *int64) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("count must be an integer: %w", err)
	}
	if *dst < 0 {
		return fmt.Errorf("count must not be negative")
	}
	return nil
}

// Clone returns a deep copy of the snapshot.
func (s *Stats) Clone() *Stats {
	if s == nil {
		return nil
	}
	out := *s
	out.TopTechnologies = append([]TechCount(nil), s.TopTechnologies...)
	out.TopPorts = append([]PortCount(nil), s.TopPorts...)
	return &out
}
