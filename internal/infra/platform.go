package infra

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/host"
)

// PlatformInfo describes the host for status output.
type PlatformInfo struct {
	OS       string `json:"os"`
	Platform string `json:"platform,omitempty"`
	Version  string `json:"version,omitempty"`
	Arch     string `json:"arch"`
	Hostname string `json:"hostname,omitempty"`
	Elevated bool   `json:"elevated"`
}

// DetectPlatform gathers host details. Missing host info is not an error;
// the GOOS/GOARCH fields are always set.
func DetectPlatform() PlatformInfo {
	info := PlatformInfo{
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		Elevated: IsElevated(),
	}
	if h, err := host.Info(); err == nil {
		info.Platform = h.Platform
		info.Version = h.PlatformVersion
		info.Hostname = h.Hostname
	}
	return info
}
