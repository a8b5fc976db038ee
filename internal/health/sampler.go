package health

import (
	"context"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// Sample is one reading of host utilisation, in percent (0-100).
type Sample struct {
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64
	Load1         float64
}

// Sampler reads host resource utilisation.
type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

// HostSampler reads the local host through gopsutil.
type HostSampler struct {
	DiskPath string
}

func NewHostSampler(diskPath string) *HostSampler {
	if strings.TrimSpace(diskPath) == "" {
		diskPath = "/"
	}
	return &HostSampler{DiskPath: diskPath}
}

func (h *HostSampler) Sample(ctx context.Context) (Sample, error) {
	// interval 0 compares against the previous call
	cpuPercent, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Sample{}, fmt.Errorf("cpu: %w", err)
	}
	var s Sample
	if len(cpuPercent) > 0 {
		s.CPUPercent = cpuPercent[0]
	}

	memStat, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("memory: %w", err)
	}
	s.MemoryPercent = memStat.UsedPercent

	diskStat, err := disk.UsageWithContext(ctx, h.DiskPath)
	if err != nil {
		return Sample{}, fmt.Errorf("disk %s: %w", h.DiskPath, err)
	}
	s.DiskPercent = diskStat.UsedPercent

	// load average is informational; not every platform has it
	if avg, err := load.AvgWithContext(ctx); err == nil {
		s.Load1 = avg.Load1
	}
	return s, nil
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func(ctx context.Context) (Sample, error)

func (f SamplerFunc) Sample(ctx context.Context) (Sample, error) { return f(ctx) }
