package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

// ResourceUsage is a coarse view of the process, reported by the status API.
type ResourceUsage struct {
	CPUPercent  float64   `json:"cpu_percent"`
	HeapBytes   uint64    `json:"heap_bytes"`
	Goroutines  uint64    `json:"goroutines"`
	GCCycles    uint64    `json:"gc_cycles"`
	CollectedAt time.Time `json:"collected_at"`
}

const (
	sampleCPU        = "/sched/cpu:seconds"
	sampleHeap       = "/memory/classes/heap/objects:bytes"
	sampleGoroutines = "/sched/goroutines:goroutines"
	sampleGCCycles   = "/gc/cycles/total:gc-cycles"
)

// resourceTracker derives CPU usage from the delta between two snapshots.
type resourceTracker struct {
	mu      sync.Mutex
	samples []metrics.Sample
	lastCPU float64
	lastAt  time.Time
	numCPU  float64
}

func newResourceTracker() *resourceTracker {
	return &resourceTracker{
		samples: []metrics.Sample{
			{Name: sampleCPU},
			{Name: sampleHeap},
			{Name: sampleGoroutines},
			{Name: sampleGCCycles},
		},
		numCPU: float64(runtime.NumCPU()),
	}
}

func (r *resourceTracker) Snapshot() ResourceUsage {
	r.mu.Lock()
	defer r.mu.Unlock()

	metrics.Read(r.samples)
	now := time.Now()
	usage := ResourceUsage{CollectedAt: now}

	for _, s := range r.samples {
		switch s.Value.Kind() {
		case metrics.KindFloat64:
			if s.Name != sampleCPU {
				continue
			}
			cpu := s.Value.Float64()
			if !r.lastAt.IsZero() && r.numCPU > 0 {
				if wall := now.Sub(r.lastAt).Seconds(); wall > 0 {
					usage.CPUPercent = (cpu - r.lastCPU) / wall / r.numCPU * 100
				}
			}
			r.lastCPU = cpu
		case metrics.KindUint64:
			switch s.Name {
			case sampleHeap:
				usage.HeapBytes = s.Value.Uint64()
			case sampleGoroutines:
				usage.Goroutines = s.Value.Uint64()
			case sampleGCCycles:
				usage.GCCycles = s.Value.Uint64()
			}
		}
	}
	r.lastAt = now
	return usage
}
