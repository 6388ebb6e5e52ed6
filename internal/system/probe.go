package system

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"tradewatch/internal/types"
)

// Probe reads host resource usage
type Probe interface {
	Sample(ctx context.Context) (*types.SystemMetricsSnapshot, error)
}

// ProbeFunc adapts a function to Probe
type ProbeFunc func(ctx context.Context) (*types.SystemMetricsSnapshot, error)

// Sample calls f(ctx)
func (f ProbeFunc) Sample(ctx context.Context) (*types.SystemMetricsSnapshot, error) {
	return f(ctx)
}

// GopsutilProbe samples the local host through gopsutil
type GopsutilProbe struct {
	// DiskPath is the mount point whose usage is reported
	DiskPath string
	// CPUInterval is passed to cpu.Percent; zero compares against the previous call
	CPUInterval time.Duration
}

// NewGopsutilProbe returns a probe reporting usage of the root filesystem
func NewGopsutilProbe() *GopsutilProbe {
	path := "/"
	if runtime.GOOS == "windows" {
		path = "C:\\"
	}
	return &GopsutilProbe{DiskPath: path}
}

// Sample reads CPU, memory and disk usage, which are required, and the
// optional load, network, process and uptime figures.
func (p *GopsutilProbe) Sample(ctx context.Context) (*types.SystemMetricsSnapshot, error) {
	snap := &types.SystemMetricsSnapshot{Timestamp: time.Now()}

	percents, err := cpu.PercentWithContext(ctx, p.CPUInterval, false)
	if err != nil {
		return nil, fmt.Errorf("cpu percent: %w", err)
	}
	if len(percents) > 0 {
		snap.CPUUsage = percents[0]
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		snap.CPUCount = n
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("virtual memory: %w", err)
	}
	snap.MemoryUsage = vm.UsedPercent
	snap.MemoryTotal = vm.Total
	snap.MemoryAvailable = vm.Available

	du, err := disk.UsageWithContext(ctx, p.DiskPath)
	if err != nil {
		return nil, fmt.Errorf("disk usage %s: %w", p.DiskPath, err)
	}
	snap.DiskUsage = du.UsedPercent
	snap.DiskTotal = du.Total
	snap.DiskFree = du.Free

	// 以下指标在部分平台上不可用，失败时保留零值
	if avg, err := load.AvgWithContext(ctx); err == nil {
		snap.LoadAverage = [3]float64{avg.Load1, avg.Load5, avg.Load15}
	}
	if counters, err := net.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
		snap.Network = types.NetworkIO{
			BytesSent:   counters[0].BytesSent,
			BytesRecv:   counters[0].BytesRecv,
			PacketsSent: counters[0].PacketsSent,
			PacketsRecv: counters[0].PacketsRecv,
		}
	}
	if pids, err := process.PidsWithContext(ctx); err == nil {
		snap.ProcessCount = len(pids)
	}
	if up, err := host.UptimeWithContext(ctx); err == nil {
		snap.Uptime = time.Duration(up) * time.Second
	}

	return snap, nil
}
