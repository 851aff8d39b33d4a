package instance

import (
	"os"

	"github.com/angelmondragon/cartcache-backend/pkg/env"
)

// GetID identifies this process in logs: CARTCACHE_INSTANCE_ID, then the
// platform dyno name, then the hostname.
func GetID() string {
	if id := env.Get("CARTCACHE_INSTANCE_ID", env.Get("DYNO", "")); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
