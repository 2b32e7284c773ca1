package inventory

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/host"
)

// Station identifies the workstation the daemon runs on. It is written into
// inventory log notes and reported by the status endpoint.
type Station struct {
	Hostname string    `json:"hostname"`
	Platform string    `json:"platform,omitempty"`
	BootTime time.Time `json:"bootTime,omitempty"`
}

// DetectStation reads host information, falling back to os.Hostname when
// the platform query fails.
func DetectStation() Station {
	info, err := host.Info()
	if err == nil && info.Hostname != "" {
		st := Station{Hostname: info.Hostname, Platform: info.Platform}
		if info.BootTime > 0 {
			st.BootTime = time.Unix(int64(info.BootTime), 0)
		}
		return st
	}
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "unknown"
	}
	return Station{Hostname: name}
}

// HostUptime reports how long the host has been up, or zero if unknown.
func HostUptime() time.Duration {
	secs, err := host.Uptime()
	if err != nil {
		return 0
	}
	return time.Duration(secs) * time.Second
}
