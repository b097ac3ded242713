package features

import (
	"fmt"
	"sort"
	"strings"

	"FlowSentry/internal/engine/window"
	"FlowSentry/internal/model"
)

// WindowMode selects whether per-host window features are computed.
type WindowMode int

const (
	// WindowAuto enables windowing only when src_ip takes at least two
	// distinct values.
	WindowAuto WindowMode = iota
	WindowEnabled
	WindowDisabled
)

// ParseWindowMode converts a config string into a WindowMode.
func ParseWindowMode(s string) (WindowMode, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return WindowAuto, nil
	case "enabled", "on":
		return WindowEnabled, nil
	case "disabled", "off":
		return WindowDisabled, nil
	default:
		return WindowAuto, fmt.Errorf("unknown window mode %q", s)
	}
}

func (m WindowMode) String() string {
	switch m {
	case WindowEnabled:
		return "enabled"
	case WindowDisabled:
		return "disabled"
	default:
		return "auto"
	}
}

// Assembler combines the per-flow features with the windowed host features.
type Assembler struct {
	windowSeconds int
	mode          WindowMode
}

// NewAssembler creates an assembler for the given window length.
func NewAssembler(windowSeconds int, mode WindowMode) *Assembler {
	return &Assembler{windowSeconds: windowSeconds, mode: mode}
}

// WindowSeconds returns the configured window length.
func (a *Assembler) WindowSeconds() int {
	return a.windowSeconds
}

// Mode returns the configured window mode.
func (a *Assembler) Mode() WindowMode {
	return a.mode
}

// WindowingEnabled resolves the window mode against a whole batch.
func (a *Assembler) WindowingEnabled(records []model.FlowRecord) bool {
	switch a.mode {
	case WindowEnabled:
		return true
	case WindowDisabled:
		return false
	}
	if len(records) == 0 {
		return false
	}
	first := records[0].SrcIP
	for i := 1; i < len(records); i++ {
		if records[i].SrcIP != first {
			return true
		}
	}
	return false
}

// Assemble builds the feature matrix of a batch. records must already be in
// non-decreasing ts order. Column order is BasicColumns, the batch one-hot
// vocabulary, then model.WindowColumns.
func (a *Assembler) Assemble(records []model.FlowRecord) *model.FeatureMatrix {
	vocab := BuildVocabulary(records)
	oneHot := vocab.Columns()

	columns := make([]string, 0, len(BasicColumns)+len(oneHot)+len(model.WindowColumns))
	columns = append(columns, BasicColumns...)
	columns = append(columns, oneHot...)
	columns = append(columns, model.WindowColumns...)
	schema := model.NewSchema(columns)

	oneHotStart := len(BasicColumns)
	windowStart := oneHotStart + len(oneHot)

	var tracker *window.Tracker
	if a.WindowingEnabled(records) {
		tracker = window.NewTracker(a.windowSeconds)
	}

	m := &model.FeatureMatrix{
		Schema: schema,
		RowIDs: make([]int64, len(records)),
		Rows:   make([][]float64, len(records)),
	}
	for i := range records {
		r := &records[i]
		row := make([]float64, len(columns))
		copy(row, Basic(r))
		if j, ok := schema.Index(ProtoColumn(r.Proto)); ok {
			row[j] = 1
		}
		if j, ok := schema.Index(FlagsColumn(r.TCPFlags)); ok {
			row[j] = 1
		}
		if tracker != nil {
			stats := tracker.Observe(r.Ts, r.SrcIP, r.DstIP, r.SrcPort, r.DstPort, r.Bytes)
			copy(row[windowStart:], sanitize(stats.Values()))
		}
		m.RowIDs[i] = r.RowID
		m.Rows[i] = row
	}
	return m
}

// Incremental assembles one record at a time against a long-lived tracker. It
// produces, for each record, the same window features Assemble would produce
// for that record within the full batch.
type Incremental struct {
	assembler *Assembler
	tracker   *window.Tracker
	sources   map[string]struct{}
}

// NewIncremental creates a streaming assembler.
func (a *Assembler) NewIncremental() *Incremental {
	return &Incremental{
		assembler: a,
		tracker:   window.NewTracker(a.windowSeconds),
		sources:   make(map[string]struct{}, 2),
	}
}

// Tracker exposes the underlying window tracker, mainly for metrics.
func (inc *Incremental) Tracker() *window.Tracker {
	return inc.tracker
}

// windowing resolves the window mode for the record about to be observed. In
// auto mode windowing switches on once two distinct sources have been seen;
// the tracker is fed either way so the state is complete when it does.
func (inc *Incremental) windowing(src string) bool {
	switch inc.assembler.mode {
	case WindowEnabled:
		return true
	case WindowDisabled:
		return false
	}
	if len(inc.sources) < 2 {
		inc.sources[src] = struct{}{}
	}
	return len(inc.sources) >= 2
}

// Next assembles the feature vector of r and records r in the window state.
// The one-hot block only carries the columns of r's own proto and flags
// values; aligning to a model's column list yields the same row as batch mode.
func (inc *Incremental) Next(r *model.FlowRecord) model.FeatureVector {
	enabled := inc.windowing(r.SrcIP)
	var stats window.Stats
	if inc.assembler.mode != WindowDisabled {
		stats = inc.tracker.Observe(r.Ts, r.SrcIP, r.DstIP, r.SrcPort, r.DstPort, r.Bytes)
	}

	protoCol, flagsCol := ProtoColumn(r.Proto), FlagsColumn(r.TCPFlags)
	columns := make([]string, 0, len(BasicColumns)+2+len(model.WindowColumns))
	columns = append(columns, BasicColumns...)
	columns = append(columns, protoCol, flagsCol)
	columns = append(columns, model.WindowColumns...)

	values := make([]float64, 0, len(columns))
	values = append(values, Basic(r)...)
	values = append(values, 1, 1)
	if enabled {
		values = append(values, sanitize(stats.Values())...)
	} else {
		values = append(values, make([]float64, len(model.WindowColumns))...)
	}
	return model.FeatureVector{RowID: r.RowID, Schema: model.NewSchema(columns), Values: values}
}

func sanitize(values []float64) []float64 {
	for i, v := range values {
		values[i] = finite(v)
	}
	return values
}

// IncrementalState is the resumable state of an Incremental.
type IncrementalState struct {
	Window  window.Snapshot
	Sources []string
}

// State copies the window state and the sources seen by the auto mode.
func (inc *Incremental) State() IncrementalState {
	st := IncrementalState{Window: inc.tracker.Snapshot()}
	for src := range inc.sources {
		st.Sources = append(st.Sources, src)
	}
	sort.Strings(st.Sources)
	return st
}

// RestoreIncremental resumes a streaming assembler from st. The window length
// of st must match the assembler's.
func (a *Assembler) RestoreIncremental(st IncrementalState) (*Incremental, error) {
	if st.Window.WindowSeconds != a.windowSeconds {
		return nil, fmt.Errorf("window state has window_seconds %d, assembler uses %d",
			st.Window.WindowSeconds, a.windowSeconds)
	}
	inc := &Incremental{
		assembler: a,
		tracker:   window.Restore(st.Window),
		sources:   make(map[string]struct{}, 2),
	}
	for _, src := range st.Sources {
		inc.sources[src] = struct{}{}
	}
	return inc, nil
}
