// Package monitor collects host system metrics for the health payload.
package monitor

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemInfo is a point-in-time view of the host.
type SystemInfo struct {
	GoVersion     string  `json:"go_version"`
	Platform      string  `json:"platform"`
	OS            string  `json:"os"`
	Arch          string  `json:"arch"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
	MemoryTotalMB uint64  `json:"memory_total_mb"`
	DiskPercent   float64 `json:"disk_percent"`
	UptimeSeconds uint64  `json:"uptime_seconds"`
}

// Collect gathers system metrics. Individual probe failures leave the
// corresponding fields at zero rather than failing the whole snapshot.
func Collect() SystemInfo {
	info := SystemInfo{
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}

	if hostStat, err := host.Info(); err == nil {
		info.Platform = hostStat.Platform + " " + hostStat.PlatformVersion
		info.UptimeSeconds = hostStat.Uptime
	}

	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		info.CPUPercent = cpuPercent[0]
	}

	if vmStat, err := mem.VirtualMemory(); err == nil {
		info.MemoryPercent = vmStat.UsedPercent
		info.MemoryUsedMB = vmStat.Used / 1024 / 1024
		info.MemoryTotalMB = vmStat.Total / 1024 / 1024
	}

	if diskStat, err := disk.Usage("/"); err == nil {
		info.DiskPercent = diskStat.UsedPercent
	}

	return info
}
