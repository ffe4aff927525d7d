package cache

import (
	"fmt"
	"log/slog"
	"time"
)

// New constructs the backend named by the configuration. Switching backends
// does not change the observable Lookup/Store semantics.
func New(backend string, capacity int, ttl time.Duration, remoteURL string, logger *slog.Logger) (Cache, error) {
	switch backend {
	case BackendNull, "":
		return NewNull(), nil
	case BackendMemory:
		return NewMemory(capacity, ttl), nil
	case BackendRemote:
		if remoteURL == "" {
			return nil, fmt.Errorf("cache backend %q requires remote_url", backend)
		}
		return NewRemote(remoteURL, ttl, logger)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}
