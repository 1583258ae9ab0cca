package instance

import (
	"os"
	"strings"
)

// lookupOrder lists the variables that can name a process, most specific first.
var lookupOrder = []string{"DYNO", "WORKER_ID", "HOSTNAME"}

// ID names this process in logs so lines from different replicas can be told
// apart. It falls back to "local".
func ID() string {
	for _, key := range lookupOrder {
		if id := strings.TrimSpace(os.Getenv(key)); id != "" {
			return id
		}
	}
	return "local"
}
