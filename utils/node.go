package utils

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// GenerateNodeID produces a unique identity for this process, used as the
// owner value of the orchestrator lease.
func GenerateNodeID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}
	return fmt.Sprintf("%s-%d-%s", hostname, os.Getpid(), uuid.New().String()[:8])
}
