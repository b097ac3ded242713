package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"FlowSentry/internal/classifier"
	"FlowSentry/internal/engine/features"
	"FlowSentry/internal/model"
)

var t0 = time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)

func rec(id int64, at time.Duration, src, dst string, dport int, bytes float64) model.FlowRecord {
	return model.FlowRecord{
		RowID:    id,
		Ts:       t0.Add(at),
		SrcIP:    src,
		DstIP:    dst,
		SrcPort:  50000 + int(id),
		DstPort:  dport,
		Proto:    "tcp",
		Bytes:    bytes,
		Packets:  2,
		Duration: 0.5,
		TCPFlags: "S",
	}
}

// mixedTraffic interleaves a port scan, a beacon, bulk uploads and background
// chatter across several hosts.
func mixedTraffic() []model.FlowRecord {
	var out []model.FlowRecord
	id := int64(0)
	add := func(at time.Duration, src, dst string, dport int, bytes float64, proto, flags string) {
		id++
		r := rec(id, at, src, dst, dport, bytes)
		r.Proto, r.TCPFlags = proto, flags
		out = append(out, r)
	}
	for i := 0; i < 200; i++ {
		at := time.Duration(i) * 500 * time.Millisecond
		switch i % 4 {
		case 0:
			add(at, "10.0.0.5", "10.0.0.9", 1000+i, 60, "tcp", "S")
		case 1:
			add(at, "10.0.0.7", "10.0.0.5", 443, 900, "tcp", "PA")
		case 2:
			add(at, "10.0.0.8", "203.0.113.4", 22, 3000, "tcp", "PA")
		default:
			if i%40 == 3 {
				add(at, "10.0.0.6", "198.51.100.7", 8443, 120, "udp", "")
			} else {
				add(at, "10.0.0.9", "10.0.0.7", 53, 80, "udp", "")
			}
		}
	}
	add(101*time.Second, "10.0.0.8", "203.0.113.4", 22, 2_000_000, "tcp", "PA")
	return out
}

func scanForest() *classifier.Forest {
	tree := classifier.Tree{
		ChildrenLeft:  []int{1, -1, 3, -1, -1},
		ChildrenRight: []int{2, -1, 4, -1, -1},
		Feature:       []int{0, -2, 1, -2, -2},
		Threshold:     []float64{10.5, -2, 0.5, -2, -2},
		Value:         [][]float64{{5, 5, 5}, {8, 1, 1}, {1, 1, 8}, {1, 8, 1}, {1, 1, 8}},
	}
	return classifier.NewForest([]classifier.Tree{tree}, []string{"benign", "port_scan", "dos"})
}

var forestColumns = []string{model.FeatUniqueDstPorts, "proto_udp", "bytes", "proto_gre"}

func runStream(t *testing.T, p *Pipeline, records []model.FlowRecord) []model.Detection {
	t.Helper()
	s := p.NewStream()
	var out []model.Detection
	for i := range records {
		dets, err := s.Process(context.Background(), &records[i])
		if err != nil {
			t.Fatalf("Process(row %d) error = %v", records[i].RowID, err)
		}
		out = append(out, dets...)
	}
	return out
}

func countReason(dets []model.Detection, reason string) int {
	n := 0
	for _, d := range dets {
		if d.Reason == reason {
			n++
		}
	}
	return n
}

func TestBatchStreamEquivalence(t *testing.T) {
	records := mixedTraffic()
	tests := []struct {
		name string
		opts Options
	}{
		{"heuristics only", Options{WindowSeconds: 60, WindowMode: features.WindowEnabled}},
		{"short window", Options{WindowSeconds: 5, WindowMode: features.WindowEnabled}},
		{"with classifier", Options{WindowSeconds: 60, WindowMode: features.WindowEnabled, Classifier: scanForest(), FeatureColumns: forestColumns}},
		{"windowing disabled", Options{WindowSeconds: 60, WindowMode: features.WindowDisabled, Classifier: scanForest(), FeatureColumns: forestColumns}},
		{"feature only", Options{WindowSeconds: 0, WindowMode: features.WindowEnabled}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.opts)
			batch := p.RunBatch(context.Background(), records)
			stream := runStream(t, p, records)
			if len(batch) == 0 {
				t.Fatal("expected detections from mixed traffic")
			}
			if !reflect.DeepEqual(batch, stream) {
				t.Fatalf("batch (%d detections) and stream (%d detections) differ", len(batch), len(stream))
			}
		})
	}
}

func TestAutoModeStreamMatchesBatchFromSecondSource(t *testing.T) {
	records := mixedTraffic()
	p := New(Options{WindowSeconds: 60, WindowMode: features.WindowAuto})
	// The second distinct source shows up on row 2; the stream cannot know
	// about it while scoring row 1.
	from := func(dets []model.Detection) []model.Detection {
		var out []model.Detection
		for _, d := range dets {
			if d.RowID >= 2 {
				out = append(out, d)
			}
		}
		return out
	}
	batch := from(p.RunBatch(context.Background(), records))
	stream := from(runStream(t, p, records))
	if !reflect.DeepEqual(batch, stream) {
		t.Fatalf("batch (%d detections) and stream (%d detections) differ", len(batch), len(stream))
	}
}

func TestEquivalenceCoversEveryReason(t *testing.T) {
	p := New(Options{WindowSeconds: 60, WindowMode: features.WindowEnabled, Classifier: scanForest(), FeatureColumns: forestColumns})
	dets := p.RunBatch(context.Background(), mixedTraffic())
	for _, reason := range []string{model.ReasonPortScan, model.ReasonExfiltration, model.ReasonBeaconing, model.ReasonML} {
		if countReason(dets, reason) == 0 {
			t.Errorf("no %s detections in mixed traffic", reason)
		}
	}
}

func TestPortScanScenario(t *testing.T) {
	var records []model.FlowRecord
	for i := 0; i < 25; i++ {
		records = append(records, rec(int64(i+1), time.Duration(i)*200*time.Millisecond, "A", "B", 1+i, 0))
	}
	p := New(Options{WindowSeconds: 60, WindowMode: features.WindowEnabled})

	for name, dets := range map[string][]model.Detection{
		"batch":  p.RunBatch(context.Background(), records),
		"stream": runStream(t, p, records),
	} {
		t.Run(name, func(t *testing.T) {
			var scans []model.Detection
			for _, d := range dets {
				if d.Reason == model.ReasonPortScan {
					scans = append(scans, d)
				}
			}
			if len(scans) != 6 {
				t.Fatalf("got %d port scan detections, want 6", len(scans))
			}
			prev := 0.0
			for i, d := range scans {
				wantRow := int64(20 + i)
				if d.RowID != wantRow || d.ClassGuess != model.ClassPortScan {
					t.Errorf("detection %d = %+v, want row %d", i, d, wantRow)
				}
				if d.Score <= prev || d.Score > 1 {
					t.Errorf("row %d score %v not rising within (0,1]", d.RowID, d.Score)
				}
				prev = d.Score
			}
			if scans[0].Score != 0.5 {
				t.Errorf("score at 20 ports = %v, want 0.5", scans[0].Score)
			}
		})
	}
}

func TestBeaconingScenario(t *testing.T) {
	var records []model.FlowRecord
	for i := 0; i < 6; i++ {
		records = append(records, rec(int64(i+1), time.Duration(i)*10*time.Second, "A", "C2", 443, 0))
	}
	p := New(Options{WindowSeconds: 60, WindowMode: features.WindowEnabled})
	dets := p.RunBatch(context.Background(), records)

	var rows []int64
	for _, d := range dets {
		if d.Reason == model.ReasonBeaconing {
			rows = append(rows, d.RowID)
			if d.ClassGuess != model.ClassBeaconing || d.Score < 0 || d.Score > 1 {
				t.Errorf("unexpected beacon detection %+v", d)
			}
		}
	}
	if !reflect.DeepEqual(rows, []int64{5, 6}) {
		t.Errorf("beaconing rows = %v, want [5 6]", rows)
	}
}

func TestWindowingDisabledFallback(t *testing.T) {
	var records []model.FlowRecord
	for i := 0; i < 30; i++ {
		records = append(records, rec(int64(i+1), time.Duration(i)*10*time.Second, "A", "B", 1+i, 5_000_000))
	}
	p := New(Options{WindowSeconds: 60, WindowMode: features.WindowAuto})
	if dets := p.RunBatch(context.Background(), records); len(dets) != 0 {
		t.Errorf("single-source input produced %d window detections", len(dets))
	}
}

func TestClassifierFailureKeepsHeuristics(t *testing.T) {
	var records []model.FlowRecord
	for i := 0; i < 25; i++ {
		records = append(records, rec(int64(i+1), time.Duration(i)*100*time.Millisecond, "A", "B", 1+i, 0))
	}
	// Two weights per class against three expected columns.
	broken := classifier.NewLinear([][]float64{{1, 1}, {0, 0}}, []float64{0, 0}, []string{"benign", "dos"})
	p := New(Options{
		WindowSeconds:  60,
		WindowMode:     features.WindowEnabled,
		Classifier:     broken,
		FeatureColumns: []string{"bytes", "packets", "duration"},
	})

	batch := p.RunBatch(context.Background(), records)
	stream := runStream(t, p, records)
	for name, dets := range map[string][]model.Detection{"batch": batch, "stream": stream} {
		if n := countReason(dets, model.ReasonPortScan); n != 6 {
			t.Errorf("%s: %d port scan detections, want 6", name, n)
		}
		if n := countReason(dets, model.ReasonML); n != 0 {
			t.Errorf("%s: %d ML detections from a failing classifier", name, n)
		}
	}
}

func TestMLDetectionFollowsHeuristics(t *testing.T) {
	var records []model.FlowRecord
	for i := 0; i < 21; i++ {
		records = append(records, rec(int64(i+1), time.Duration(i*i)*100*time.Millisecond, "A", "B", 1+i, 0))
	}
	// Always favours "dos" with p = e^2/(e^2+1). Timing is irregular so only
	// the port scan rule fires alongside.
	lin := classifier.NewLinear([][]float64{{0}, {0}}, []float64{0, 2}, []string{"benign", "dos"})
	p := New(Options{WindowSeconds: 60, WindowMode: features.WindowEnabled, Classifier: lin, FeatureColumns: []string{"bytes"}})
	dets := p.RunBatch(context.Background(), records)

	last := dets[len(dets)-2:]
	if last[0].Reason != model.ReasonPortScan || last[1].Reason != model.ReasonML {
		t.Fatalf("row 21 detections = %v, %v; want port scan then ML", last[0].Reason, last[1].Reason)
	}
	if last[1].ClassGuess != "dos" || last[1].RowID != 21 {
		t.Errorf("ML detection = %+v", last[1])
	}
	if n := countReason(dets, model.ReasonML); n != 21 {
		t.Errorf("ML detections = %d, want 21", n)
	}
}

func TestStreamSkipsBadRecordsWithoutStateChange(t *testing.T) {
	clean := []model.FlowRecord{
		rec(1, 0, "A", "B", 80, 100),
		rec(2, 10*time.Second, "A", "B", 81, 100),
		rec(4, 20*time.Second, "A", "B", 82, 100),
	}
	bad := []model.FlowRecord{
		rec(3, 5*time.Second, "A", "B", 99, 100),
		rec(5, 30*time.Second, "A", "B", 98, -1),
		{RowID: 6, SrcIP: "A", DstIP: "B"},
	}

	p := New(Options{WindowSeconds: 60, WindowMode: features.WindowEnabled})
	want := runStream(t, p, clean)

	s := p.NewStream()
	var got []model.Detection
	feed := []model.FlowRecord{clean[0], clean[1], bad[0], bad[1], bad[2], clean[2]}
	skipped := 0
	for i := range feed {
		dets, err := s.Process(context.Background(), &feed[i])
		if err != nil {
			if !errors.Is(err, ErrSkipped) {
				t.Fatalf("row %d: err = %v, want ErrSkipped", feed[i].RowID, err)
			}
			skipped++
			continue
		}
		got = append(got, dets...)
	}
	if skipped != 3 {
		t.Errorf("skipped %d records, want 3", skipped)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("skipped records changed the output:\n got %v\nwant %v", got, want)
	}
	if hosts, events := s.WindowSize(); hosts != 2 || events != 6 {
		t.Errorf("WindowSize() = %d, %d; want 2, 6", hosts, events)
	}
}

func TestBatchSkipsOutOfOrderLikeStream(t *testing.T) {
	records := []model.FlowRecord{
		rec(1, 0, "A", "B", 80, 100),
		rec(2, 10*time.Second, "C", "B", 81, 100),
		rec(3, 5*time.Second, "A", "B", 82, 100),
		rec(4, 20*time.Second, "A", "B", 83, 100),
	}
	p := New(Options{WindowSeconds: 60, WindowMode: features.WindowEnabled})
	batch := p.RunBatch(context.Background(), records)

	s := p.NewStream()
	var stream []model.Detection
	for i := range records {
		dets, err := s.Process(context.Background(), &records[i])
		if err == nil {
			stream = append(stream, dets...)
		}
	}
	if !reflect.DeepEqual(batch, stream) {
		t.Errorf("batch %v != stream %v", batch, stream)
	}
	for _, d := range batch {
		if d.RowID == 3 {
			t.Errorf("out-of-order row 3 produced %s", d.Reason)
		}
	}
}

func ExamplePipeline_RunBatch() {
	p := New(Options{WindowSeconds: 60, WindowMode: features.WindowEnabled})
	var records []model.FlowRecord
	for i := 0; i < 20; i++ {
		records = append(records, rec(int64(i+1), time.Duration(i*i)*100*time.Millisecond, "10.0.0.5", "10.0.0.9", 1000+i, 0))
	}
	for _, d := range p.RunBatch(context.Background(), records) {
		fmt.Println(d.RowID, d.Reason, d.ClassGuess, d.Score)
	}
	// Output: 20 Port_Scan_Rule port_scan 0.5
}

func TestRestoredStreamContinuesIdentically(t *testing.T) {
	records := mixedTraffic()
	p := New(Options{WindowSeconds: 30, WindowMode: features.WindowAuto})
	want := runStream(t, p, records)

	split := len(records) / 2
	first := p.NewStream()
	var got []model.Detection
	for i := range records[:split] {
		dets, err := first.Process(context.Background(), &records[i])
		if err != nil {
			t.Fatalf("row %d: %v", records[i].RowID, err)
		}
		got = append(got, dets...)
	}

	resumed, err := p.RestoreStream(first.State())
	if err != nil {
		t.Fatalf("RestoreStream() error = %v", err)
	}
	for i := range records[split:] {
		r := &records[split+i]
		dets, err := resumed.Process(context.Background(), r)
		if err != nil {
			t.Fatalf("row %d: %v", r.RowID, err)
		}
		got = append(got, dets...)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("resumed stream diverged:\n got %v\nwant %v", got, want)
	}

	if _, err := New(Options{WindowSeconds: 60}).RestoreStream(first.State()); err == nil {
		t.Error("expected error restoring into a different window length")
	}
	if _, err := New(Options{WindowSeconds: 30, WindowMode: features.WindowEnabled}).RestoreStream(first.State()); err == nil {
		t.Error("expected error restoring into a different window mode")
	}
}
