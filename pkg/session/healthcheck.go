package session

import (
	"fmt"
	"time"

	"github.com/pbnjay/memory"
	"github.com/prometheus/procfs"
)

// ResourceSample is a point-in-time process/host resource reading, taken
// periodically (see StartPeriodic). No sample is taken when a table halts
// on an invariant violation; the halt itself only logs a dump of the
// table's state.
type ResourceSample struct {
	Taken          time.Time
	TotalSystemRAM uint64
	FreeSystemRAM  uint64
	ProcessRSS     uint64
	OpenFDs        int
}

// HealthSampler periodically reads system and process resource usage.
// pbnjay/memory supplies the host-wide totals (no cgo, portable across the
// platforms the teacher ships for); prometheus/procfs reads this
// process's /proc/self entries for the per-process figures. Both were
// already present in the teacher's dependency graph, unused; this wires
// them in for real.
type HealthSampler struct {
	proc procfs.Proc
}

// NewHealthSampler opens a procfs handle for the current process.
func NewHealthSampler() (*HealthSampler, error) {
	p, err := procfs.Self()
	if err != nil {
		return nil, fmt.Errorf("session: opening procfs self: %w", err)
	}
	return &HealthSampler{proc: p}, nil
}

// Sample takes one resource reading. Process-level figures degrade
// gracefully to zero if /proc is unavailable (e.g. non-Linux dev
// machines); the sampler is a diagnostic aid, never a correctness
// dependency.
func (h *HealthSampler) Sample() ResourceSample {
	s := ResourceSample{
		Taken:          time.Now(),
		TotalSystemRAM: memory.TotalMemory(),
		FreeSystemRAM:  memory.FreeMemory(),
	}
	if h == nil {
		return s
	}
	if stat, err := h.proc.Stat(); err == nil {
		s.ProcessRSS = uint64(stat.ResidentMemory())
	}
	if fds, err := h.proc.FileDescriptorsLen(); err == nil {
		s.OpenFDs = fds
	}
	return s
}

// StartPeriodic runs Sample every interval until stop is closed, invoking
// onSample with each reading. Intended for a lightweight background
// goroutine in cmd/tablesrv, not for the hot mutation path.
func (h *HealthSampler) StartPeriodic(interval time.Duration, stop <-chan struct{}, onSample func(ResourceSample)) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				onSample(h.Sample())
			}
		}
	}()
}
