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

// Platform represents the current operating system.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformLinux   Platform = "linux"
	PlatformUnknown Platform = "unknown"
)

// GetPlatform returns the current platform.
func GetPlatform() Platform {
	switch runtime.GOOS {
	case "windows":
		return PlatformWindows
	case "linux":
		return PlatformLinux
	default:
		return PlatformUnknown
	}
}

// SystemInfo holds information about the host system.
type SystemInfo struct {
	Platform     Platform      `json:"platform"`
	Hostname     string        `json:"hostname"`
	OS           string        `json:"os"`
	Architecture string        `json:"architecture"`
	CPUModel     string        `json:"cpu_model"`
	CPUCores     int           `json:"cpu_cores"`
	CPUThreads   int           `json:"cpu_threads"`
	TotalMemory  uint64        `json:"total_memory_mb"`
	Uptime       time.Duration `json:"uptime"`
	LocalIP      string        `json:"local_ip"`
}

// GetSystemInfo gathers system information. Fields gopsutil cannot read on
// this platform are left zero.
func GetSystemInfo() SystemInfo {
	info := SystemInfo{
		Platform:     GetPlatform(),
		Architecture: runtime.GOARCH,
		CPUThreads:   runtime.NumCPU(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}

	if hostInfo, err := host.Info(); err == nil {
		info.OS = fmt.Sprintf("%s %s", hostInfo.Platform, hostInfo.PlatformVersion)
		info.Uptime = time.Duration(hostInfo.Uptime) * time.Second
	}

	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}
	if cores, err := cpu.Counts(false); err == nil {
		info.CPUCores = cores
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = memInfo.Total / (1024 * 1024)
	}

	if ip, err := GetLocalIP(); err == nil {
		info.LocalIP = ip
	}

	return info
}

// GetLocalIP returns the primary local IPv4 address.
func GetLocalIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}

	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ipNet.IP.To4() != nil {
				return ipNet.IP.String(), nil
			}
		}
	}
	return "127.0.0.1", nil
}

// ResourceUsage is a point-in-time reading of process host load.
type ResourceUsage struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskFreeGB    uint64  `json:"disk_free_gb"`
	DiskPercent   float64 `json:"disk_percent"`
}

// GetResourceUsage reads CPU, memory and the disk holding path.
func GetResourceUsage(path string) (ResourceUsage, error) {
	var usage ResourceUsage

	percentages, err := cpu.Percent(0, false)
	if err != nil {
		return usage, fmt.Errorf("cpu usage: %w", err)
	}
	if len(percentages) > 0 {
		usage.CPUPercent = percentages[0]
	}

	memInfo, err := mem.VirtualMemory()
	if err != nil {
		return usage, fmt.Errorf("memory usage: %w", err)
	}
	usage.MemoryUsedMB = memInfo.Used / (1024 * 1024)
	usage.MemoryPercent = memInfo.UsedPercent

	diskInfo, err := disk.Usage(path)
	if err != nil {
		return usage, fmt.Errorf("disk usage of %s: %w", path, err)
	}
	usage.DiskFreeGB = diskInfo.Free / (1024 * 1024 * 1024)
	usage.DiskPercent = diskInfo.UsedPercent

	return usage, nil
}

// EnsureDir creates a directory and all parent directories if they don't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
