// Package metrics aggregates call outcomes per operation key.
//
// Every operation key owns its own entry and lock, so recording for one
// operation never waits on another. A snapshot copies each entry under
// that entry's lock.
package metrics

import (
	"runtime"
	"sort"
	"sync"
	"time"
)

// Observer is notified after each recorded call.
type Observer interface {
	Observe(operationKey, status string, latency time.Duration)
}

type ObserverFunc func(operationKey, status string, latency time.Duration)

func (f ObserverFunc) Observe(operationKey, status string, latency time.Duration) {
	f(operationKey, status, latency)
}

type Registry struct {
	entries sync.Map // map[string]*entry

	mu        sync.RWMutex
	observers []Observer
}

func NewRegistry() *Registry {
	return &Registry{}
}

// AddObserver attaches o to every future RecordCall.
func (r *Registry) AddObserver(o Observer) {
	r.mu.Lock()
	r.observers = append(r.observers, o)
	r.mu.Unlock()
}

// RecordCall counts one completed call of operationKey in the status bucket.
func (r *Registry) RecordCall(operationKey, status string, latency time.Duration) {
	r.load(operationKey).record(status, latency)

	r.mu.RLock()
	observers := r.observers
	r.mu.RUnlock()
	for _, o := range observers {
		o.Observe(operationKey, status, latency)
	}
}

func (r *Registry) load(key string) *entry {
	if e, ok := r.entries.Load(key); ok {
		return e.(*entry)
	}
	e, _ := r.entries.LoadOrStore(key, &entry{perStatus: make(map[string]uint64, 2)})
	return e.(*entry)
}

// Entry returns a copy of one operation's counters.
func (r *Registry) Entry(operationKey string) (MetricEntry, bool) {
	e, ok := r.entries.Load(operationKey)
	if !ok {
		return MetricEntry{}, false
	}
	return e.(*entry).copy(operationKey), true
}

// Snapshot returns the counters as of the call. Records made after an
// entry has been copied do not show up in the returned value.
func (r *Registry) Snapshot() Snapshot {
	s := Snapshot{
		Time:       time.Now(),
		Operations: make(map[string]MetricEntry),
		System:     ReadSystemMetric(),
	}
	r.entries.Range(func(key, value any) bool {
		k := key.(string)
		s.Operations[k] = value.(*entry).copy(k)
		return true
	})
	return s
}

type entry struct {
	mu        sync.Mutex
	total     uint64
	perStatus map[string]uint64
	latency   Latency
}

func (e *entry) record(status string, d time.Duration) {
	e.mu.Lock()
	e.total++
	e.perStatus[status]++
	e.latency.Count++
	e.latency.Total += d
	if d > e.latency.Max {
		e.latency.Max = d
	}
	e.mu.Unlock()
}

func (e *entry) copy(key string) MetricEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	per := make(map[string]uint64, len(e.perStatus))
	for k, v := range e.perStatus {
		per[k] = v
	}
	return MetricEntry{
		OperationKey:   key,
		TotalCalls:     e.total,
		PerStatusCalls: per,
		Latency:        e.latency,
	}
}

type MetricEntry struct {
	OperationKey   string            `json:"operationKey"`
	TotalCalls     uint64            `json:"totalCalls"`
	PerStatusCalls map[string]uint64 `json:"perStatusCalls"`
	Latency        Latency           `json:"latency"`
}

type Latency struct {
	Count uint64        `json:"count"`
	Total time.Duration `json:"total"`
	Max   time.Duration `json:"max"`
}

// Average is zero when nothing was recorded.
func (l Latency) Average() time.Duration {
	if l.Count == 0 {
		return 0
	}
	return l.Total / time.Duration(l.Count)
}

type Snapshot struct {
	Time       time.Time              `json:"time"`
	Operations map[string]MetricEntry `json:"operations"`
	System     SystemMetric           `json:"system"`
}

// Keys returns the operation keys in lexical order.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.Operations))
	for k := range s.Operations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Totals maps each operation key to its total call count.
func (s Snapshot) Totals() map[string]uint64 {
	res := make(map[string]uint64, len(s.Operations))
	for k, e := range s.Operations {
		res[k] = e.TotalCalls
	}
	return res
}

type SystemMetric struct {
	HeapUsed   uint64 `json:"heapUsed"`
	HeapAlloc  uint64 `json:"heapAlloc"`
	NumGC      uint32 `json:"numGC"`
	Goroutines int    `json:"goroutines"`
}

func ReadSystemMetric() SystemMetric {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return SystemMetric{
		HeapUsed:   ms.HeapInuse,
		HeapAlloc:  ms.HeapAlloc,
		NumGC:      ms.NumGC,
		Goroutines: runtime.NumGoroutine(),
	}
}
