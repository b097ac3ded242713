// Package features turns flow records into ordered feature vectors.
package features

import (
	"math"
	"sort"

	"FlowSentry/internal/model"
)

// Numeric per-flow columns, in assembly order.
var BasicColumns = []string{
	"src_port",
	"dst_port",
	"bytes",
	"packets",
	"duration",
	"bytes_per_sec",
	"pkts_per_sec",
	"byte_pkts_ratio",
	"hour",
}

const (
	ProtoPrefix = "proto_"
	FlagsPrefix = "flags_"
)

// ProtoColumn returns the one-hot column name for a protocol value.
func ProtoColumn(proto string) string { return ProtoPrefix + proto }

// FlagsColumn returns the one-hot column name for a tcp flags value.
func FlagsColumn(flags string) string { return FlagsPrefix + flags }

// Basic returns the numeric per-flow features of r in BasicColumns order.
// Non-finite results are coerced to 0.
func Basic(r *model.FlowRecord) []float64 {
	duration := finite(r.Duration)
	bytes := finite(r.Bytes)
	packets := finite(r.Packets)

	var bps, pps, ratio float64
	if duration > 0 {
		bps = bytes / duration
		pps = packets / duration
	}
	if packets > 0 {
		ratio = bytes / packets
	}
	return []float64{
		float64(r.SrcPort),
		float64(r.DstPort),
		bytes,
		packets,
		duration,
		finite(bps),
		finite(pps),
		finite(ratio),
		float64(r.Ts.UTC().Hour()),
	}
}

// Vocabulary is the set of protocol and flag values observed in a batch. The
// one-hot columns follow the sorted vocabulary, not a fixed global list.
type Vocabulary struct {
	Protos []string
	Flags  []string
}

// BuildVocabulary collects the distinct proto and tcp_flags values of records.
func BuildVocabulary(records []model.FlowRecord) Vocabulary {
	protos := make(map[string]struct{})
	flags := make(map[string]struct{})
	for i := range records {
		protos[records[i].Proto] = struct{}{}
		flags[records[i].TCPFlags] = struct{}{}
	}
	return Vocabulary{Protos: sortedKeys(protos), Flags: sortedKeys(flags)}
}

// Columns returns the one-hot column names, protocols first.
func (v Vocabulary) Columns() []string {
	cols := make([]string, 0, len(v.Protos)+len(v.Flags))
	for _, p := range v.Protos {
		cols = append(cols, ProtoColumn(p))
	}
	for _, f := range v.Flags {
		cols = append(cols, FlagsColumn(f))
	}
	return cols
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
