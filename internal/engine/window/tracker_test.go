package window

import (
	"math"
	"testing"
	"time"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(sec float64) time.Time {
	return base.Add(time.Duration(sec * float64(time.Second)))
}

func TestTracker_EvictsEventsOutsideWindow(t *testing.T) {
	tr := NewTracker(60)
	tr.Observe(at(0), "10.0.0.1", "10.0.0.2", 40000, 22, 100)
	tr.Observe(at(10), "10.0.0.1", "10.0.0.2", 40001, 23, 200)
	s := tr.Observe(at(70), "10.0.0.1", "10.0.0.2", 40002, 24, 300)

	// The t=0 event is older than 70-60 and must not count.
	if s.RecentConnCount != 2 {
		t.Errorf("RecentConnCount = %v, want 2", s.RecentConnCount)
	}
	if s.UniqueDstPorts != 2 {
		t.Errorf("UniqueDstPorts = %v, want 2", s.UniqueDstPorts)
	}
	if s.OutboundBytes != 500 {
		t.Errorf("OutboundBytes = %v, want 500", s.OutboundBytes)
	}
	if s.ConnectionsSameDst != 2 {
		t.Errorf("ConnectionsSameDst = %v, want 2", s.ConnectionsSameDst)
	}
}

func TestTracker_BoundaryEventIsKept(t *testing.T) {
	tr := NewTracker(60)
	tr.Observe(at(0), "a", "b", 1, 80, 1)
	s := tr.Observe(at(60), "a", "b", 1, 81, 1)
	// ts - window == 0 exactly, and only strictly older events are evicted.
	if s.RecentConnCount != 2 {
		t.Errorf("RecentConnCount = %v, want 2", s.RecentConnCount)
	}
}

func TestTracker_BeaconCVFewerThanThree(t *testing.T) {
	tr := NewTracker(60)
	s1 := tr.Observe(at(0), "a", "b", 1, 443, 10)
	s2 := tr.Observe(at(10), "a", "b", 1, 443, 10)
	if s1.BeaconCV != 1.0 || s2.BeaconCV != 1.0 {
		t.Fatalf("BeaconCV = %v, %v, want 1.0 for fewer than three timestamps", s1.BeaconCV, s2.BeaconCV)
	}
	s3 := tr.Observe(at(20), "a", "b", 1, 443, 10)
	if s3.BeaconCV != 0 {
		t.Errorf("BeaconCV for perfectly regular timing = %v, want 0", s3.BeaconCV)
	}
}

func TestTracker_BeaconCVIrregular(t *testing.T) {
	tr := NewTracker(600)
	tr.Observe(at(0), "a", "b", 1, 443, 10)
	tr.Observe(at(1), "a", "b", 1, 443, 10)
	s := tr.Observe(at(11), "a", "b", 1, 443, 10)
	// deltas 1 and 10: mean 5.5, population std 4.5
	want := 4.5 / 5.5
	if math.Abs(s.BeaconCV-want) > 1e-12 {
		t.Errorf("BeaconCV = %v, want %v", s.BeaconCV, want)
	}
}

func TestTracker_BeaconCVZeroMean(t *testing.T) {
	tr := NewTracker(60)
	tr.Observe(at(5), "a", "b", 1, 443, 10)
	tr.Observe(at(5), "a", "b", 1, 443, 10)
	s := tr.Observe(at(5), "a", "b", 1, 443, 10)
	if s.BeaconCV != 0 {
		t.Errorf("BeaconCV with identical timestamps = %v, want 0", s.BeaconCV)
	}
}

func TestTracker_UniquePortsIncludeCurrent(t *testing.T) {
	tr := NewTracker(60)
	var s Stats
	for i := 0; i < 20; i++ {
		s = tr.Observe(at(float64(i)*0.1), "scanner", "victim", 50000, 1000+i, 60)
	}
	if s.UniqueDstPorts != 20 {
		t.Errorf("UniqueDstPorts = %v, want 20", s.UniqueDstPorts)
	}
	// Repeating a port does not grow the distinct count.
	s = tr.Observe(at(3), "scanner", "victim", 50000, 1000, 60)
	if s.UniqueDstPorts != 20 {
		t.Errorf("UniqueDstPorts after repeat = %v, want 20", s.UniqueDstPorts)
	}
}

func TestTracker_InboundExcludesCurrentFlow(t *testing.T) {
	tr := NewTracker(60)
	tr.Observe(at(0), "server", "client", 443, 50000, 5000)
	s := tr.Observe(at(1), "client", "server", 50000, 443, 100)
	if s.InboundBytes != 5000 {
		t.Errorf("InboundBytes = %v, want 5000", s.InboundBytes)
	}
	if s.OutboundBytes != 100 {
		t.Errorf("OutboundBytes = %v, want 100", s.OutboundBytes)
	}
}

func TestTracker_ConnectionsSameDst(t *testing.T) {
	tr := NewTracker(60)
	tr.Observe(at(0), "a", "b", 1, 22, 1)
	tr.Observe(at(1), "a", "c", 1, 22, 1)
	s := tr.Observe(at(2), "a", "b", 1, 22, 1)
	if s.ConnectionsSameDst != 2 {
		t.Errorf("ConnectionsSameDst = %v, want 2", s.ConnectionsSameDst)
	}
	if s.RecentConnCount != 3 {
		t.Errorf("RecentConnCount = %v, want 3", s.RecentConnCount)
	}
}

func TestTracker_EmptySourceIsNotTracked(t *testing.T) {
	tr := NewTracker(60)
	s := tr.Observe(at(0), "", "b", 1, 22, 100)
	if s != (Stats{}) {
		t.Errorf("stats for empty src = %+v, want zero", s)
	}
	if _, ok := tr.hosts[""]; ok {
		t.Error("empty host id must not be tracked")
	}
	// The inbound bytes still land on the destination.
	got := tr.Observe(at(1), "b", "x", 22, 80, 1)
	if got.InboundBytes != 100 {
		t.Errorf("InboundBytes = %v, want 100", got.InboundBytes)
	}
}

func TestTracker_SweepBoundsIdleHosts(t *testing.T) {
	tr := NewTracker(10)
	for i := 0; i < 50; i++ {
		tr.Observe(at(float64(i)*0.1), "idle", "sink", 1, 80, 1)
	}
	tr.Observe(at(100), "busy", "sink2", 1, 80, 1)
	if got := tr.hosts["idle"].out.Len(); got != 0 {
		t.Errorf("idle host retains %d outbound events after sweep, want 0", got)
	}
	if tr.Hosts() != 4 {
		t.Errorf("Hosts() = %d, want 4", tr.Hosts())
	}
	if tr.ActiveHosts() != 2 {
		t.Errorf("ActiveHosts() = %d, want 2", tr.ActiveHosts())
	}
}

func TestEventQueue_CompactsPrefix(t *testing.T) {
	var q eventQueue
	for i := 0; i < 200; i++ {
		q.Push(event{port: i})
	}
	for i := 0; i < 150; i++ {
		if e := q.PopFront(); e.port != i {
			t.Fatalf("PopFront() port = %d, want %d", e.port, i)
		}
	}
	if q.Len() != 50 {
		t.Fatalf("Len() = %d, want 50", q.Len())
	}
	if e, _ := q.Front(); e.port != 150 {
		t.Errorf("Front() port = %d, want 150", e.port)
	}
	if q.head >= compactThreshold*2 {
		t.Errorf("queue did not compact, head = %d", q.head)
	}
}
