// Package snapshot persists the stream window state to disk so a restarted
// engine resumes where it stopped.
package snapshot

import (
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"FlowSentry/internal/engine/pipeline"
	"FlowSentry/internal/logging"
)

// ErrNoSnapshot is returned by Load when no state file exists.
var ErrNoSnapshot = errors.New("no snapshot")

const (
	stateFile   = "stream_state.dat"
	summaryFile = "summary.json"
)

// SummaryData holds the metadata for a snapshot.
type SummaryData struct {
	WindowSeconds int       `json:"window_seconds"`
	WindowMode    string    `json:"window_mode"`
	Hosts         int       `json:"hosts"`
	Events        int       `json:"events"`
	LastTs        time.Time `json:"last_ts"`
	Timestamp     string    `json:"timestamp"`
}

// Writer handles writing snapshot data to a directory.
type Writer struct {
	dir string
}

// NewWriter creates a new snapshot writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Write serializes the stream state into the snapshot directory, replacing
// any previous snapshot. The state file is written to a temporary name first
// so a crash never leaves a truncated snapshot behind.
func (w *Writer) Write(st pipeline.StreamState) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	statePath := filepath.Join(w.dir, stateFile)
	tmp, err := os.CreateTemp(w.dir, stateFile+".*")
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(&st); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode stream state to gob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}
	if err := os.Rename(tmp.Name(), statePath); err != nil {
		return fmt.Errorf("failed to move snapshot into place: %w", err)
	}

	summary := Summarize(st)
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode summary to json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(w.dir, summaryFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write summary file: %w", err)
	}

	logging.Info().Str("component", "snapshot").Str("dir", w.dir).Int("hosts", summary.Hosts).
		Int("events", summary.Events).Msg("stream state saved")
	return nil
}

// Load reads the stream state from dir. It returns ErrNoSnapshot when the
// directory holds no state file.
func Load(dir string) (pipeline.StreamState, error) {
	var st pipeline.StreamState
	f, err := os.Open(filepath.Join(dir, stateFile))
	if errors.Is(err, os.ErrNotExist) {
		return st, ErrNoSnapshot
	}
	if err != nil {
		return st, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	if err := gob.NewDecoder(f).Decode(&st); err != nil {
		return st, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return st, nil
}

// Summarize describes st without its event lists.
func Summarize(st pipeline.StreamState) SummaryData {
	s := SummaryData{
		WindowSeconds: st.Features.Window.WindowSeconds,
		WindowMode:    st.WindowMode,
		Hosts:         len(st.Features.Window.Hosts),
		LastTs:        st.LastTs,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	for _, h := range st.Features.Window.Hosts {
		s.Events += len(h.Out) + len(h.In)
	}
	return s
}
