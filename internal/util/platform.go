package util

import (
	"fmt"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemInfo holds static information about the host.
type SystemInfo struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	CPUModel     string `json:"cpu_model"`
	CPUCores     int    `json:"cpu_cores"`
	TotalMemory  uint64 `json:"total_memory_mb"`
	GoVersion    string `json:"go_version"`
}

// GetSystemInfo gathers system information.
func GetSystemInfo() SystemInfo {
	info := SystemInfo{
		Architecture: runtime.GOARCH,
		CPUCores:     runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}
	if hostInfo, err := host.Info(); err == nil {
		info.OS = fmt.Sprintf("%s %s", hostInfo.Platform, hostInfo.PlatformVersion)
	}
	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}
	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = memInfo.Total / (1024 * 1024)
	}

	return info
}

// Usage is a point in time view of host load plus the process's own
// runtime figures.
type Usage struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
	DiskPercent   float64 `json:"disk_percent"`
	DiskFreeGB    uint64  `json:"disk_free_gb"`
	Uptime        string  `json:"uptime"`
	Goroutines    int     `json:"goroutines"`
	HeapMB        uint64  `json:"heap_mb"`
}

var processStart = time.Now()

// GetUsage samples CPU, memory and disk usage for the volume holding path.
// Figures that cannot be read are left at zero.
func GetUsage(path string) Usage {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	u := Usage{
		Uptime:     time.Since(processStart).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		HeapMB:     ms.HeapAlloc / (1024 * 1024),
	}
	if p, err := cpu.Percent(0, false); err == nil && len(p) > 0 {
		u.CPUPercent = p[0]
	}
	if m, err := GetMemoryUsage(); err == nil {
		u.MemoryPercent = m.UsedPercent
		u.MemoryUsedMB = m.Used
	}
	if d, err := disk.Usage(path); err == nil {
		u.DiskPercent = d.UsedPercent
		u.DiskFreeGB = d.Free / (1024 * 1024 * 1024)
	}
	return u
}

// MemoryUsage holds host memory statistics in megabytes.
type MemoryUsage struct {
	Total       uint64  `json:"total_mb"`
	Used        uint64  `json:"used_mb"`
	Available   uint64  `json:"available_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// GetMemoryUsage returns the current host memory usage.
func GetMemoryUsage() (*MemoryUsage, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return nil, err
	}
	return &MemoryUsage{
		Total:       v.Total / (1024 * 1024),
		Used:        v.Used / (1024 * 1024),
		Available:   v.Available / (1024 * 1024),
		UsedPercent: v.UsedPercent,
	}, nil
}

// GetLocalIP returns the primary non-loopback IPv4 address.
func GetLocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ipNet.IP.To4() != nil {
				return ipNet.IP.String()
			}
		}
	}
	return "127.0.0.1"
}
