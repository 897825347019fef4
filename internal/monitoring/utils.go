package monitoring

import (
	"fmt"
	"os"
)

// GenerateInstanceID creates a unique identifier for an instance
// Format: {hostname}-{type}
// Restarting a process on the same host updates the same record.
func GenerateInstanceID(instanceType InstanceType) string {
	return fmt.Sprintf("%s-%s", GetHostname(), instanceType)
}

// GetHostname returns the system hostname
func GetHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
