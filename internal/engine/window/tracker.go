// Package window maintains per-host trailing time windows of flow activity and
// derives the windowed aggregate features used by the heuristic rules.
package window

import (
	"math"
	"time"
)

// Stats are the six windowed aggregates for one flow, computed as if the flow
// had just been appended to its source host's window.
type Stats struct {
	UniqueDstPorts     float64
	ConnectionsSameDst float64
	OutboundBytes      float64
	InboundBytes       float64
	BeaconCV           float64
	RecentConnCount    float64
}

// Values returns the stats in model.WindowColumns order.
func (s Stats) Values() []float64 {
	return []float64{
		s.UniqueDstPorts,
		s.ConnectionsSameDst,
		s.OutboundBytes,
		s.InboundBytes,
		s.BeaconCV,
		s.RecentConnCount,
	}
}

// hostState is the window of one host. Aggregates are maintained alongside
// the queues so they never need a full rescan.
type hostState struct {
	out      eventQueue
	in       eventQueue
	outPorts map[int]int
	outPeers map[string]int
	outBytes float64
	inBytes  float64
}

func newHostState() *hostState {
	return &hostState{
		outPorts: make(map[int]int),
		outPeers: make(map[string]int),
	}
}

// evict drops every event strictly older than cutoff.
func (h *hostState) evict(cutoff time.Time) {
	for {
		e, ok := h.out.Front()
		if !ok || !e.ts.Before(cutoff) {
			break
		}
		h.out.PopFront()
		h.outBytes -= e.bytes
		decr(h.outPorts, e.port)
		decr(h.outPeers, e.peer)
	}
	for {
		e, ok := h.in.Front()
		if !ok || !e.ts.Before(cutoff) {
			break
		}
		h.in.PopFront()
		h.inBytes -= e.bytes
	}
	if h.out.Len() == 0 {
		h.outBytes = 0
	}
	if h.in.Len() == 0 {
		h.inBytes = 0
	}
}

func (h *hostState) empty() bool {
	return h.out.Len() == 0 && h.in.Len() == 0
}

func decr[K comparable](m map[K]int, k K) {
	if m[k] <= 1 {
		delete(m, k)
		return
	}
	m[k]--
}

// Tracker keeps one hostState per host id. It is not safe for concurrent use;
// exactly one pipeline owns a Tracker at a time.
type Tracker struct {
	window    time.Duration
	hosts     map[string]*hostState
	nextSweep time.Time
	events    int
}

// NewTracker creates a tracker with a trailing window of windowSeconds.
// Negative values are treated as zero.
func NewTracker(windowSeconds int) *Tracker {
	if windowSeconds < 0 {
		windowSeconds = 0
	}
	return &Tracker{
		window: time.Duration(windowSeconds) * time.Second,
		hosts:  make(map[string]*hostState),
	}
}

// Window returns the trailing window length.
func (t *Tracker) Window() time.Duration {
	return t.window
}

func (t *Tracker) host(id string) *hostState {
	h, ok := t.hosts[id]
	if !ok {
		h = newHostState()
		t.hosts[id] = h
	}
	return h
}

// Observe evicts stale events for src and dst, computes the windowed stats of
// the flow and then records it as outbound for src and inbound for dst.
// Flows must be observed in non-decreasing ts order. An empty host id is never
// tracked: an empty src yields zero stats.
func (t *Tracker) Observe(ts time.Time, src, dst string, srcPort, dstPort int, bytes float64) Stats {
	cutoff := ts.Add(-t.window)
	t.maybeSweep(ts, cutoff)

	var srcState, dstState *hostState
	if src != "" {
		srcState = t.host(src)
		srcState.evict(cutoff)
	}
	if dst != "" {
		dstState = t.host(dst)
		dstState.evict(cutoff)
	}

	if srcState == nil {
		if dstState != nil {
			dstState.in.Push(event{ts: ts, port: srcPort, peer: src, bytes: bytes})
			dstState.inBytes += bytes
			t.events++
		}
		return Stats{}
	}

	stats := Stats{
		UniqueDstPorts:     float64(len(srcState.outPorts)),
		ConnectionsSameDst: float64(srcState.outPeers[dst] + 1),
		OutboundBytes:      srcState.outBytes + bytes,
		InboundBytes:       srcState.inBytes,
		RecentConnCount:    float64(srcState.out.Len() + 1),
		BeaconCV:           beaconCV(&srcState.out, ts),
	}
	if _, seen := srcState.outPorts[dstPort]; !seen {
		stats.UniqueDstPorts++
	}

	srcState.out.Push(event{ts: ts, port: dstPort, peer: dst, bytes: bytes})
	srcState.outPorts[dstPort]++
	srcState.outPeers[dst]++
	srcState.outBytes += bytes
	t.events++
	if dstState != nil {
		dstState.in.Push(event{ts: ts, port: srcPort, peer: src, bytes: bytes})
		dstState.inBytes += bytes
		t.events++
	}
	return stats
}

// maybeSweep trims every host once per window length of stream time so idle
// hosts do not pin expired events. Host entries themselves are kept.
func (t *Tracker) maybeSweep(ts, cutoff time.Time) {
	if ts.Before(t.nextSweep) {
		return
	}
	interval := t.window
	if interval < time.Second {
		interval = time.Second
	}
	t.nextSweep = ts.Add(interval)
	live := 0
	for _, h := range t.hosts {
		h.evict(cutoff)
		live += h.out.Len() + h.in.Len()
	}
	t.events = live
}

// Hosts returns the number of host ids seen so far.
func (t *Tracker) Hosts() int {
	return len(t.hosts)
}

// ActiveHosts returns the number of hosts with at least one event retained.
func (t *Tracker) ActiveHosts() int {
	n := 0
	for _, h := range t.hosts {
		if !h.empty() {
			n++
		}
	}
	return n
}

// Events returns an upper bound of retained events as of the last sweep plus
// everything recorded since.
func (t *Tracker) Events() int {
	return t.events
}

// beaconCV returns the coefficient of variation of the inter-arrival times of
// the retained outbound events plus a flow at ts. Fewer than three timestamps
// yield 1.0.
func beaconCV(out *eventQueue, ts time.Time) float64 {
	n := out.Len() + 1
	if n < 3 {
		return 1.0
	}
	deltas := make([]float64, 0, n-1)
	var prev time.Time
	first := true
	out.Each(func(e event) {
		if !first {
			deltas = append(deltas, e.ts.Sub(prev).Seconds())
		}
		prev = e.ts
		first = false
	})
	deltas = append(deltas, ts.Sub(prev).Seconds())

	var sum float64
	for _, d := range deltas {
		sum += d
	}
	mean := sum / float64(len(deltas))
	if mean <= 0 {
		return 0.0
	}
	var sq float64
	for _, d := range deltas {
		sq += (d - mean) * (d - mean)
	}
	cv := math.Sqrt(sq/float64(len(deltas))) / mean
	if math.IsNaN(cv) || math.IsInf(cv, 0) {
		return 0.0
	}
	return cv
}
