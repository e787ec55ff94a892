// Package systeminfo captures the host context embedded in report headers
// so results can be traced back to the machine and account that produced
// them.
package systeminfo

import (
	"os"
	"os/user"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"metasift/logger"
)

// HostInfo is the environment snapshot taken once per run.
type HostInfo struct {
	Hostname        string `json:"hostname,omitempty"`
	OS              string `json:"os"`
	Platform        string `json:"platform,omitempty"`
	PlatformVersion string `json:"platform_version,omitempty"`
	KernelVersion   string `json:"kernel_version,omitempty"`
	Architecture    string `json:"architecture"`
	CPUCount        int    `json:"cpu_count"`
	TotalMemory     uint64 `json:"total_memory_bytes,omitempty"`
	BootTime        string `json:"boot_time,omitempty"`
	Username        string `json:"username,omitempty"`
	WorkingDir      string `json:"working_dir,omitempty"`
}

// Collect gathers the host snapshot. Every probe is best effort: a failed
// probe logs and leaves its fields empty rather than delaying analysis.
func Collect() *HostInfo {
	info := &HostInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		CPUCount:     runtime.NumCPU(),
	}

	if hi, err := host.Info(); err != nil {
		logger.Warnf("Could not read host details: %v", err)
		if name, hostErr := os.Hostname(); hostErr == nil {
			info.Hostname = name
		}
	} else {
		info.Hostname = hi.Hostname
		info.Platform = hi.Platform
		info.PlatformVersion = hi.PlatformVersion
		info.KernelVersion = hi.KernelVersion
		if hi.BootTime > 0 {
			info.BootTime = time.Unix(int64(hi.BootTime), 0).UTC().Format(time.RFC3339)
		}
	}

	if vm, err := mem.VirtualMemory(); err != nil {
		logger.Debugf("Could not read memory details: %v", err)
	} else {
		info.TotalMemory = vm.Total
	}

	if u, err := user.Current(); err == nil {
		info.Username = u.Username
	}
	if wd, err := os.Getwd(); err == nil {
		info.WorkingDir = wd
	}
	return info
}
