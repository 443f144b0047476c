package perf

import (
	"math"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultRingSize is the default capacity of the ring buffer.
const DefaultRingSize = 4096

// EntryKind says which layer produced a timing.
type EntryKind uint8

const (
	KindRequest  EntryKind = iota // inbound API request
	KindQuery                     // local SQLite statement
	KindUpstream                  // round trip to the sheet proxy or form endpoint
)

// Entry is a single timing stored in the ring buffer.
type Entry struct {
	Kind       EntryKind
	Path       string // "GET /api/me", "ExecContext", "GET sheet.example"
	StatusCode int
	DurationMs float64
	Timestamp  time.Time
}

// Collector is a fixed-size ring of timings. Record never blocks on readers;
// aggregation only happens in Snapshot.
type Collector struct {
	mu      sync.Mutex
	entries []Entry
	pos     int
	total   atomic.Int64
}

// NewCollector creates a collector holding the last size entries.
// PRE: size > 0, otherwise DefaultRingSize is used
// POST: Returns a ready-to-use collector
func NewCollector(size int) *Collector {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Collector{entries: make([]Entry, size)}
}

// Record stores e, overwriting the oldest entry when the ring is full.
// A nil collector drops the entry.
func (c *Collector) Record(e Entry) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries[c.pos] = e
	c.pos = (c.pos + 1) % len(c.entries)
	c.mu.Unlock()
	c.total.Add(1)
}

// TotalRecorded returns how many entries were ever recorded.
func (c *Collector) TotalRecorded() int64 {
	if c == nil {
		return 0
	}
	return c.total.Load()
}

// Snapshot is the aggregated view served on the admin perf endpoint.
type Snapshot struct {
	TotalRecorded   int64      `json:"totalRecorded"`
	RequestP50Ms    float64    `json:"requestP50Ms"`
	RequestP95Ms    float64    `json:"requestP95Ms"`
	RequestP99Ms    float64    `json:"requestP99Ms"`
	UpstreamP95Ms   float64    `json:"upstreamP95Ms"`
	SlowestPaths    []PathStat `json:"slowestPaths"`
	SlowestQueries  []PathStat `json:"slowestQueries"`
	SlowestUpstream []PathStat `json:"slowestUpstream"`
	UpstreamErrors  int        `json:"upstreamErrors"`
}

// PathStat aggregates timings for one path, statement kind or upstream host.
type PathStat struct {
	Path    string  `json:"path"`
	AvgMs   float64 `json:"avgMs"`
	MaxMs   float64 `json:"maxMs"`
	Count   int     `json:"count"`
	TotalMs float64 `json:"totalMs"`
}

// Snapshot aggregates entries recorded at or after since.
// PRE: topN >= 0
// POST: Each top list holds at most topN entries ordered by average duration, slowest first
func (c *Collector) Snapshot(since time.Time, topN int) Snapshot {
	c.mu.Lock()
	buf := make([]Entry, len(c.entries))
	copy(buf, c.entries)
	c.mu.Unlock()

	var requests, upstream []float64
	stats := map[EntryKind]map[string]*PathStat{
		KindRequest:  {},
		KindQuery:    {},
		KindUpstream: {},
	}
	snap := Snapshot{TotalRecorded: c.TotalRecorded()}

	for _, e := range buf {
		if e.Timestamp.IsZero() || e.Timestamp.Before(since) {
			continue
		}
		byPath, ok := stats[e.Kind]
		if !ok {
			continue
		}
		switch e.Kind {
		case KindRequest:
			requests = append(requests, e.DurationMs)
		case KindUpstream:
			upstream = append(upstream, e.DurationMs)
			if e.StatusCode == 0 || e.StatusCode >= 500 {
				snap.UpstreamErrors++
			}
		}
		s, ok := byPath[e.Path]
		if !ok {
			s = &PathStat{Path: e.Path}
			byPath[e.Path] = s
		}
		s.Count++
		s.TotalMs += e.DurationMs
		s.MaxMs = math.Max(s.MaxMs, e.DurationMs)
	}

	snap.SlowestPaths = topByAvg(stats[KindRequest], topN)
	snap.SlowestQueries = topByAvg(stats[KindQuery], topN)
	snap.SlowestUpstream = topByAvg(stats[KindUpstream], topN)

	if len(requests) > 0 {
		sort.Float64s(requests)
		snap.RequestP50Ms = percentile(requests, 50)
		snap.RequestP95Ms = percentile(requests, 95)
		snap.RequestP99Ms = percentile(requests, 99)
	}
	if len(upstream) > 0 {
		sort.Float64s(upstream)
		snap.UpstreamP95Ms = percentile(upstream, 95)
	}
	return snap
}

// percentile interpolates the p-th percentile of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (p / 100) * float64(len(sorted)-1)
	lower := int(math.Floor(idx))
	upper := int(math.Ceil(idx))
	if lower == upper || upper >= len(sorted) {
		return sorted[lower]
	}
	frac := idx - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

func topByAvg(stats map[string]*PathStat, n int) []PathStat {
	list := make([]PathStat, 0, len(stats))
	for _, s := range stats {
		s.AvgMs = s.TotalMs / float64(s.Count)
		list = append(list, *s)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].AvgMs != list[j].AvgMs {
			return list[i].AvgMs > list[j].AvgMs
		}
		return list[i].Path < list[j].Path
	})
	if len(list) > n {
		list = list[:n]
	}
	return list
}

// Transport times every round trip made through Base and records it as
// KindUpstream. It is installed on the sheet client's *http.Client.
type Transport struct {
	Base      http.RoundTripper
	Collector *Collector
}

// RoundTrip implements http.RoundTripper.
// POST: One entry is recorded per call; StatusCode is 0 when the trip failed
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	start := time.Now()
	resp, err := base.RoundTrip(req)
	status := 0
	if err == nil {
		status = resp.StatusCode
	}
	t.Collector.Record(Entry{
		Kind:       KindUpstream,
		Path:       req.Method + " " + req.URL.Host,
		StatusCode: status,
		DurationMs: float64(time.Since(start).Microseconds()) / 1000.0,
		Timestamp:  start,
	})
	return resp, err
}
