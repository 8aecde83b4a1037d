package system

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// ResourceReport is a snapshot of host and process usage printed by
// `build --stats`.
type ResourceReport struct {
	LogicalCPUs   int
	CPUPercent    float64
	MemTotal      uint64
	MemUsedPct    float64
	ProcessRSS    uint64
	Threads       int32
	Elapsed       time.Duration
	PooledBuffers int64
}

// CollectReport gathers the report. Individual probe failures leave the
// corresponding field zero.
func CollectReport(started time.Time, pool *PixelPool) ResourceReport {
	r := ResourceReport{Elapsed: time.Since(started)}

	if n, err := cpu.Counts(true); err == nil {
		r.LogicalCPUs = n
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		r.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		r.MemTotal = vm.Total
		r.MemUsedPct = vm.UsedPercent
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := p.MemoryInfo(); err == nil {
			r.ProcessRSS = mi.RSS
		}
		if th, err := p.NumThreads(); err == nil {
			r.Threads = th
		}
	}
	if pool != nil {
		r.PooledBuffers = pool.Allocated()
	}
	return r
}

func (r ResourceReport) String() string {
	return fmt.Sprintf(
		"--- [RESOURCE REPORT] ---\n"+
			"Total Time: %.2fs\n"+
			"CPU: %d logical, %.1f%% busy\n"+
			"Memory: %s total, %.1f%% used\n"+
			"Process: %s RSS, %d threads\n"+
			"Pixel buffers allocated: %d\n"+
			"-------------------------\n",
		r.Elapsed.Seconds(), r.LogicalCPUs, r.CPUPercent,
		humanize.IBytes(r.MemTotal), r.MemUsedPct, humanize.IBytes(r.ProcessRSS), r.Threads, r.PooledBuffers,
	)
}
