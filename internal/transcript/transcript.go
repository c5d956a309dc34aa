// Package transcript defines the transcript document shared by the
// transcription, topic extraction, and subtitle stages.
package transcript

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Segment is one timed span of recognized speech.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the full recognition result for a recording.
type Transcript struct {
	Language string    `json:"language,omitempty"`
	Segments []Segment `json:"segments"`
}

// FullText joins all segment text with single spaces.
func (t *Transcript) FullText() string {
	parts := make([]string, 0, len(t.Segments))
	for _, segment := range t.Segments {
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// Empty reports whether the transcript carries no usable text.
func (t *Transcript) Empty() bool {
	return t == nil || strings.TrimSpace(t.FullText()) == ""
}

// Validate rejects transcripts with out-of-order or negative timings.
func (t *Transcript) Validate() error {
	for i, segment := range t.Segments {
		if segment.Start < 0 || segment.End < segment.Start {
			return fmt.Errorf("segment %d has invalid timing [%f, %f]", i, segment.Start, segment.End)
		}
		if i > 0 && segment.Start < t.Segments[i-1].Start {
			return fmt.Errorf("segment %d starts before segment %d", i, i-1)
		}
	}
	return nil
}

// LoadFile reads and validates a transcript document.
func LoadFile(path string) (*Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a transcript document.
func Parse(data []byte) (*Transcript, error) {
	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse transcript: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// SaveFile writes the transcript document to disk.
func (t *Transcript) SaveFile(path string) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
