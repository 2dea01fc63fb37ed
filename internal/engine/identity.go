package engine

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// Identity generates a per-process worker identity. Leases stamped with
// it survive in the store, so it carries enough context to trace a row
// back to the process that held it.
func Identity() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}
