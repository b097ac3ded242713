package model

import (
	"fmt"
	"math"
	"time"
)

// FlowRecord is the canonical in-memory representation of one summarized network flow.
type FlowRecord struct {
	RowID    int64     `json:"row_id"`
	Ts       time.Time `json:"ts"`
	SrcIP    string    `json:"src_ip"`
	DstIP    string    `json:"dst_ip"`
	SrcPort  int       `json:"src_port"`
	DstPort  int       `json:"dst_port"`
	Proto    string    `json:"proto"`
	Bytes    float64   `json:"bytes"`
	Packets  float64   `json:"packets"`
	Duration float64   `json:"duration"` // seconds
	TCPFlags string    `json:"tcp_flags"`
	Label    string    `json:"label,omitempty"` // training only, ignored by the engine
}

// Validate reports whether the record can be fed to the detection engine.
func (r *FlowRecord) Validate() error {
	if r.RowID <= 0 {
		return fmt.Errorf("row_id must be positive, got %d", r.RowID)
	}
	if r.Ts.IsZero() {
		return fmt.Errorf("row %d: missing timestamp", r.RowID)
	}
	if r.SrcPort < 0 || r.DstPort < 0 {
		return fmt.Errorf("row %d: negative port", r.RowID)
	}
	numeric := []struct {
		name string
		v    float64
	}{{"bytes", r.Bytes}, {"packets", r.Packets}, {"duration", r.Duration}}
	for _, n := range numeric {
		if math.IsNaN(n.v) || math.IsInf(n.v, 0) || n.v < 0 {
			return fmt.Errorf("row %d: invalid %s value %v", r.RowID, n.name, n.v)
		}
	}
	return nil
}
