package model

import "context"

// FlowDetections pairs a scored flow with the detections it produced.
type FlowDetections struct {
	Flow       FlowRecord
	Detections []Detection
}

// Writer defines a generic interface for persisting detections.
type Writer interface {
	// Write persists the detections of a batch of flows. Flows without
	// detections may be ignored.
	Write(ctx context.Context, flows []FlowDetections) error

	// Close flushes and releases the underlying resources.
	Close() error
}

// GroupByFlow attaches detections to the records they were raised for,
// keeping detection order. Detections whose row id matches no record are
// attached to a record holding only that row id.
func GroupByFlow(records []FlowRecord, dets []Detection) []FlowDetections {
	byID := make(map[int64]int, len(records))
	for i := range records {
		byID[records[i].RowID] = i
	}
	var out []FlowDetections
	for _, d := range dets {
		if n := len(out); n > 0 && out[n-1].Flow.RowID == d.RowID {
			out[n-1].Detections = append(out[n-1].Detections, d)
			continue
		}
		flow := FlowRecord{RowID: d.RowID}
		if i, ok := byID[d.RowID]; ok {
			flow = records[i]
		}
		out = append(out, FlowDetections{Flow: flow, Detections: []Detection{d}})
	}
	return out
}

// Flatten returns the detections of flows in order.
func Flatten(flows []FlowDetections) []Detection {
	var out []Detection
	for _, f := range flows {
		out = append(out, f.Detections...)
	}
	return out
}
