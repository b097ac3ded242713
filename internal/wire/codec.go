// Package wire encodes flow records and detections as protobuf Struct
// messages for transport over NATS.
package wire

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"FlowSentry/internal/model"
)

// MarshalFlow serializes a flow record.
func MarshalFlow(r *model.FlowRecord) ([]byte, error) {
	fields := map[string]*structpb.Value{
		"row_id":    structpb.NewNumberValue(float64(r.RowID)),
		"src_ip":    structpb.NewStringValue(r.SrcIP),
		"dst_ip":    structpb.NewStringValue(r.DstIP),
		"src_port":  structpb.NewNumberValue(float64(r.SrcPort)),
		"dst_port":  structpb.NewNumberValue(float64(r.DstPort)),
		"proto":     structpb.NewStringValue(r.Proto),
		"bytes":     structpb.NewNumberValue(r.Bytes),
		"packets":   structpb.NewNumberValue(r.Packets),
		"duration":  structpb.NewNumberValue(r.Duration),
		"tcp_flags": structpb.NewStringValue(r.TCPFlags),
	}
	if !r.Ts.IsZero() {
		fields["ts"] = structpb.NewStringValue(r.Ts.UTC().Format(time.RFC3339Nano))
	}
	if r.Label != "" {
		fields["label"] = structpb.NewStringValue(r.Label)
	}
	return proto.Marshal(&structpb.Struct{Fields: fields})
}

// UnmarshalFlow decodes a flow record. Absent fields keep their zero value so
// the stream processor can reject incomplete records.
func UnmarshalFlow(data []byte) (model.FlowRecord, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return model.FlowRecord{}, fmt.Errorf("failed to unmarshal flow record: %w", err)
	}
	f := s.GetFields()
	r := model.FlowRecord{
		RowID:    int64(f["row_id"].GetNumberValue()),
		SrcIP:    f["src_ip"].GetStringValue(),
		DstIP:    f["dst_ip"].GetStringValue(),
		SrcPort:  int(f["src_port"].GetNumberValue()),
		DstPort:  int(f["dst_port"].GetNumberValue()),
		Proto:    f["proto"].GetStringValue(),
		Bytes:    f["bytes"].GetNumberValue(),
		Packets:  f["packets"].GetNumberValue(),
		Duration: f["duration"].GetNumberValue(),
		TCPFlags: f["tcp_flags"].GetStringValue(),
		Label:    f["label"].GetStringValue(),
	}
	if ts := f["ts"].GetStringValue(); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return r, fmt.Errorf("row %d: invalid ts %q: %w", r.RowID, ts, err)
		}
		r.Ts = t
	}
	return r, nil
}

// MarshalDetection serializes a detection including its explain map.
func MarshalDetection(d *model.Detection) ([]byte, error) {
	explain, err := structpb.NewStruct(protoSafe(d.Explain))
	if err != nil {
		return nil, fmt.Errorf("failed to encode explain of row %d: %w", d.RowID, err)
	}
	s := &structpb.Struct{Fields: map[string]*structpb.Value{
		"row_id":      structpb.NewNumberValue(float64(d.RowID)),
		"reason":      structpb.NewStringValue(d.Reason),
		"score":       structpb.NewNumberValue(d.Score),
		"class_guess": structpb.NewStringValue(d.ClassGuess),
		"explain":     structpb.NewStructValue(explain),
	}}
	return proto.Marshal(s)
}

// UnmarshalDetection decodes a detection. Explain numbers come back as
// float64 and lists as []any.
func UnmarshalDetection(data []byte) (model.Detection, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return model.Detection{}, fmt.Errorf("failed to unmarshal detection: %w", err)
	}
	f := s.GetFields()
	d := model.Detection{
		RowID:      int64(f["row_id"].GetNumberValue()),
		Reason:     f["reason"].GetStringValue(),
		Score:      f["score"].GetNumberValue(),
		ClassGuess: f["class_guess"].GetStringValue(),
	}
	if ex := f["explain"].GetStructValue(); ex != nil {
		d.Explain = ex.AsMap()
	}
	return d, nil
}

// protoSafe converts typed slices, which structpb does not accept, into []any.
func protoSafe(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch vv := v.(type) {
		case []float64:
			list := make([]any, len(vv))
			for i, x := range vv {
				list[i] = x
			}
			out[k] = list
		case []string:
			list := make([]any, len(vv))
			for i, x := range vv {
				list[i] = x
			}
			out[k] = list
		default:
			out[k] = v
		}
	}
	return out
}
