package instance

import "os"

var idEnvKeys = []string{"WORKER_ID", "DYNO", "K_REVISION"}

// GetID returns the process instance identifier used in log context.
// It falls back to the hostname, then to "local".
func GetID() string {
	for _, key := range idEnvKeys {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
