//go:build !linux

package sysinfo

import (
	"fmt"
	"time"
)

// HostUptime is unsupported off Linux; callers fall back to bot uptime only.
func HostUptime() (time.Duration, error) {
	return 0, fmt.Errorf("host uptime not supported on this platform")
}
