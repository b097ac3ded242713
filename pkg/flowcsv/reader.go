// Package flowcsv reads flow records from CSV exports and normalizes them
// into the shape the detection engine expects.
package flowcsv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"FlowSentry/internal/model"
)

// Column names.
const (
	ColRowID    = "row_id"
	ColTs       = "ts"
	ColTsAlias  = "timestamp"
	ColSrcIP    = "src_ip"
	ColDstIP    = "dst_ip"
	ColSrcPort  = "src_port"
	ColDstPort  = "dst_port"
	ColProto    = "proto"
	ColBytes    = "bytes"
	ColPackets  = "packets"
	ColDuration = "duration"
	ColTCPFlags = "tcp_flags"
	ColLabel    = "label"
)

// RequiredColumns is the ingestion schema checked by RequireColumns.
var RequiredColumns = []string{
	ColRowID, ColSrcIP, ColDstIP, ColSrcPort, ColDstPort,
	ColProto, ColBytes, ColPackets, ColDuration, ColTCPFlags,
}

var (
	// ErrMissingColumns is returned by RequireColumns when the header lacks
	// part of the ingestion schema.
	ErrMissingColumns = errors.New("missing required columns")

	// ErrBadTimestamp marks a streamed row whose ts cannot be parsed or filled.
	ErrBadTimestamp = errors.New("unparseable timestamp")
)

// SyntheticEpoch is the start of the timestamp sequence used when an input
// carries no usable timestamps.
var SyntheticEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// Reader reads flow records from a CSV stream with a header row.
type Reader struct {
	closer  io.Closer
	csv     *csv.Reader
	columns []string
	index   map[string]int
	tsCol   string

	rows   int
	lastTs time.Time
	hasTs  bool
}

// Open opens a CSV file for reading.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open flow file: %w", err)
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewReader reads the header from in.
func NewReader(in io.Reader) (*Reader, error) {
	cr := csv.NewReader(in)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	r := &Reader{csv: cr, index: make(map[string]int, len(header))}
	for i, h := range header {
		name := strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		r.columns = append(r.columns, name)
		if _, dup := r.index[name]; !dup {
			r.index[name] = i
		}
	}
	switch {
	case r.has(ColTs):
		r.tsCol = ColTs
	case r.has(ColTsAlias):
		r.tsCol = ColTsAlias
	}
	return r, nil
}

// Close releases the underlying file, if any.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Columns returns the trimmed header.
func (r *Reader) Columns() []string {
	return r.columns
}

func (r *Reader) has(col string) bool {
	_, ok := r.index[col]
	return ok
}

// RequireColumns checks that the header carries every named column.
func (r *Reader) RequireColumns(cols ...string) error {
	var missing []string
	for _, c := range cols {
		if !r.has(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return nil
}

// Next returns the next record for streaming use. Row ids missing from the
// input are replaced by the 1-based row position. An unparseable ts is
// forward filled from the previous row; without one the row fails with
// ErrBadTimestamp. Next returns io.EOF after the last row.
func (r *Reader) Next() (model.FlowRecord, error) {
	rec, ts, ok, err := r.read()
	if err != nil {
		return model.FlowRecord{}, err
	}
	switch {
	case r.tsCol == "":
		rec.Ts = SyntheticEpoch.Add(time.Duration(r.rows-1) * time.Second)
	case ok:
		rec.Ts = ts
		r.lastTs, r.hasTs = ts, true
	case r.hasTs:
		rec.Ts = r.lastTs
	default:
		return rec, fmt.Errorf("row %d: %w", r.rows, ErrBadTimestamp)
	}
	if rec.RowID <= 0 {
		rec.RowID = int64(r.rows)
	}
	return rec, nil
}

// ReadAll reads every remaining row and normalizes the set the way a batch
// run expects it: timestamps filled, row ids complete and rows sorted by ts.
func (r *Reader) ReadAll() ([]model.FlowRecord, error) {
	var (
		records []model.FlowRecord
		valid   []bool
	)
	for {
		rec, ts, ok, err := r.read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rec.Ts = ts
		records = append(records, rec)
		valid = append(valid, ok && r.tsCol != "")
	}
	fillTimestamps(records, valid)
	Normalize(records)
	return records, nil
}

// Load reads and normalizes a whole CSV file.
func Load(path string) ([]model.FlowRecord, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.ReadAll()
}

// read parses one row. ok reports whether the row's own ts was parseable.
func (r *Reader) read() (rec model.FlowRecord, ts time.Time, ok bool, err error) {
	fields, err := r.csv.Read()
	if err == io.EOF {
		return rec, ts, false, io.EOF
	}
	if err != nil {
		return rec, ts, false, fmt.Errorf("failed to read csv row %d: %w", r.rows+1, err)
	}
	r.rows++

	get := func(col string) string {
		i, found := r.index[col]
		if !found || i >= len(fields) {
			return ""
		}
		return strings.TrimSpace(fields[i])
	}

	if id, perr := strconv.ParseInt(get(ColRowID), 10, 64); perr == nil && id > 0 {
		rec.RowID = id
	}
	rec.SrcIP = get(ColSrcIP)
	rec.DstIP = get(ColDstIP)
	rec.SrcPort = int(number(get(ColSrcPort)))
	rec.DstPort = int(number(get(ColDstPort)))
	rec.Proto = get(ColProto)
	rec.Bytes = number(get(ColBytes))
	rec.Packets = number(get(ColPackets))
	rec.Duration = number(get(ColDuration))
	rec.TCPFlags = get(ColTCPFlags)
	rec.Label = get(ColLabel)

	if r.tsCol != "" {
		ts, ok = ParseTimestamp(get(r.tsCol))
	}
	return rec, ts, ok, nil
}

// number coerces a numeric field. Unparseable, non-finite and negative values
// become 0.
func number(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// ParseTimestamp accepts RFC 3339, "YYYY-MM-DD hh:mm:ss[.fff]" (UTC) or
// epoch seconds.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(secs) && !math.IsInf(secs, 0) {
		whole, frac := math.Modf(secs)
		return time.Unix(int64(whole), int64(math.Round(frac*1e9))).UTC(), true
	}
	return time.Time{}, false
}

// IsRowError reports whether err from Next concerns a single row, after which
// reading can continue.
func IsRowError(err error) bool {
	var perr *csv.ParseError
	return errors.Is(err, ErrBadTimestamp) || errors.As(err, &perr)
}
