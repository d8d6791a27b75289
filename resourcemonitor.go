package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// ResourceMonitor samples process CPU/RSS on a low-rate ticker, grounded
// on the teacher's gopsutil usage (load_history.go, instance_reporter.go)
// generalized from system load history to a single-process sampler
// feeding Prometheus gauges instead of a historical ring.
type ResourceMonitor struct {
	proc *process.Process
}

// NewResourceMonitor attaches to the current process.
func NewResourceMonitor() (*ResourceMonitor, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &ResourceMonitor{proc: proc}, nil
}

// Run samples every interval until ctx is cancelled and (if set) pushes
// each sample into the onSample callback. Only sampling errors are logged.
func (rm *ResourceMonitor) Run(ctx context.Context, interval time.Duration, onSample func(cpuPercent, rssBytes float64)) {
	_, _ = cpu.Percent(0, false) // warm the internal delta baseline

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pct, err := rm.proc.CPUPercentWithContext(ctx)
			if err != nil {
				log.Printf("WARN: resourcemonitor: cpu percent: %v", err)
				continue
			}
			mem, err := rm.proc.MemoryInfoWithContext(ctx)
			if err != nil {
				log.Printf("WARN: resourcemonitor: memory info: %v", err)
				continue
			}
			if onSample != nil {
				onSample(pct, float64(mem.RSS))
			}
		}
	}
}
