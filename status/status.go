// Package status reports host and process health for operations.
package status

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is one point-in-time reading of the host and process.
type Snapshot struct {
	Hostname      string  `json:"hostname"`
	Platform      string  `json:"platform"`
	HostUptimeSec uint64  `json:"host_uptime_sec"`
	CPUCount      int     `json:"cpu_count"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemUsedMB     uint64  `json:"mem_used_mb"`
	MemTotalMB    uint64  `json:"mem_total_mb"`
	MemPercent    float64 `json:"mem_percent"`
	Goroutines    int     `json:"goroutines"`
	ProcUptime    string  `json:"proc_uptime"`
	DBSizeBytes   int64   `json:"db_size_bytes"`
}

var startedAt = time.Now()

// Collect gathers a snapshot. dbPath may be empty when the database is
// in memory; the size is then reported as zero.
func Collect(dbPath string) (*Snapshot, error) {
	s := &Snapshot{
		CPUCount:   runtime.NumCPU(),
		Goroutines: runtime.NumGoroutine(),
		ProcUptime: time.Since(startedAt).Round(time.Second).String(),
	}

	info, err := host.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to read host info: %w", err)
	}
	s.Hostname = info.Hostname
	s.Platform = fmt.Sprintf("%s %s", info.Platform, info.PlatformVersion)
	s.HostUptimeSec = info.Uptime

	percents, err := cpu.Percent(0, false)
	if err != nil {
		return nil, fmt.Errorf("failed to read cpu usage: %w", err)
	}
	if len(percents) > 0 {
		s.CPUPercent = percents[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("failed to read memory usage: %w", err)
	}
	s.MemUsedMB = vm.Used / 1024 / 1024
	s.MemTotalMB = vm.Total / 1024 / 1024
	s.MemPercent = vm.UsedPercent

	if dbPath != "" {
		if fi, err := os.Stat(dbPath); err == nil {
			s.DBSizeBytes = fi.Size()
		}
	}
	return s, nil
}
