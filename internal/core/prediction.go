package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TimestampLayout is the server-local format of prediction timestamps (YYYY-MM-DD HH:MM:SS).
const TimestampLayout = "2006-01-02 15:04:05"

// Confidence is kept exactly as the prediction client sent it. Clients send either a
// string such as "87.50%" or a bare number; both are re-emitted unchanged.
type Confidence json.RawMessage

func (c *Confidence) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if len(trimmed) == 0 {
		return errors.New("confidence is empty")
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		if s == "" {
			// treat "" like a missing value so the required check rejects it
			return nil
		}
	case '{', '[', 't', 'f':
		return fmt.Errorf("confidence must be a string or a number, got %s", trimmed)
	default:
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return fmt.Errorf("confidence must be a string or a number: %w", err)
		}
	}
	*c = append((*c)[:0], trimmed...)
	return nil
}

func (c Confidence) MarshalJSON() ([]byte, error) {
	if len(c) == 0 {
		return []byte("null"), nil
	}
	return []byte(c), nil
}

// String returns the confidence without JSON quoting, for logs.
func (c Confidence) String() string {
	var s string
	if err := json.Unmarshal(c, &s); err == nil {
		return s
	}
	return string(c)
}

// StringConfidence builds a Confidence holding a JSON string.
func StringConfidence(value string) Confidence {
	encoded, _ := json.Marshal(value)
	return Confidence(encoded)
}

type PredictionRecord struct {
	Label      string     `json:"label"`
	Confidence Confidence `json:"confidence"`
	Timestamp  string     `json:"timestamp"`
	receivedAt time.Time
}

// ReceivedAt is the full-precision ingest time behind Timestamp.
func (p *PredictionRecord) ReceivedAt() time.Time {
	return p.receivedAt
}

func (p *PredictionRecord) clone() *PredictionRecord {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Confidence = append(Confidence(nil), p.Confidence...)
	return &clone
}
