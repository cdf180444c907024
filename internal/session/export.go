package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is the persisted shape of a history entry.
type Record struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// Export returns the history as ordered records with RFC 3339 timestamps.
func (s *State) Export() []Record {
	out := make([]Record, len(s.history))
	for i, m := range s.history {
		out[i] = Record{
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp.Format(time.RFC3339Nano),
		}
	}
	return out
}

// ExportJSON renders Export as indented JSON.
func (s *State) ExportJSON() ([]byte, error) {
	data, err := json.MarshalIndent(s.Export(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal history: %w", err)
	}
	return data, nil
}

// ExportFileName is the download name for an export taken at t.
func ExportFileName(t time.Time) string {
	return "conversation_" + t.Format("20060102") + ".json"
}

// ParseRecords decodes an exported history.
func ParseRecords(data []byte) ([]Record, error) {
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return records, nil
}
