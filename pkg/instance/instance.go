// Package instance names the running process for lock ownership and logs.
package instance

import (
	"os"
	"strings"
)

// GetID returns LEDGER_WORKER_ID, else the hostname, else "worker-0".
func GetID() string {
	if id := strings.TrimSpace(os.Getenv("LEDGER_WORKER_ID")); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
