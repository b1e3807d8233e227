package transport

import (
	"crypto/tls"
	"time"
)

func deadlineNow() time.Time {
	return time.Now().Add(5 * time.Second)
}

func insecureTLSConfig() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicit opt-out via the route descriptor's verify-TLS flag (spec §3)
}
