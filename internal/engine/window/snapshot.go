package window

import (
	"sort"
	"time"
)

// EventSnapshot is one retained event of a host window.
type EventSnapshot struct {
	Ts    time.Time
	Port  int
	Peer  string
	Bytes float64
}

// HostSnapshot holds the retained events of one host, oldest first.
type HostSnapshot struct {
	ID  string
	Out []EventSnapshot
	In  []EventSnapshot
}

// Snapshot is the complete state of a Tracker.
type Snapshot struct {
	WindowSeconds int
	NextSweep     time.Time
	Hosts         []HostSnapshot
}

// Snapshot copies the tracker state. Hosts are ordered by id.
func (t *Tracker) Snapshot() Snapshot {
	s := Snapshot{
		WindowSeconds: int(t.window / time.Second),
		NextSweep:     t.nextSweep,
		Hosts:         make([]HostSnapshot, 0, len(t.hosts)),
	}
	for id, h := range t.hosts {
		s.Hosts = append(s.Hosts, HostSnapshot{ID: id, Out: h.out.snapshot(), In: h.in.snapshot()})
	}
	sort.Slice(s.Hosts, func(i, j int) bool { return s.Hosts[i].ID < s.Hosts[j].ID })
	return s
}

// Restore rebuilds a tracker from a snapshot. The restored tracker yields the
// same stats for subsequent flows as the tracker the snapshot was taken from.
func Restore(s Snapshot) *Tracker {
	t := NewTracker(s.WindowSeconds)
	t.nextSweep = s.NextSweep
	for _, hs := range s.Hosts {
		h := t.host(hs.ID)
		for _, e := range hs.Out {
			h.out.Push(event{ts: e.Ts, port: e.Port, peer: e.Peer, bytes: e.Bytes})
			h.outPorts[e.Port]++
			h.outPeers[e.Peer]++
			h.outBytes += e.Bytes
		}
		for _, e := range hs.In {
			h.in.Push(event{ts: e.Ts, port: e.Port, peer: e.Peer, bytes: e.Bytes})
			h.inBytes += e.Bytes
		}
		t.events += len(hs.Out) + len(hs.In)
	}
	return t
}

func (q *eventQueue) snapshot() []EventSnapshot {
	if q.Len() == 0 {
		return nil
	}
	out := make([]EventSnapshot, 0, q.Len())
	q.Each(func(e event) {
		out = append(out, EventSnapshot{Ts: e.ts, Port: e.port, Peer: e.peer, Bytes: e.bytes})
	})
	return out
}
