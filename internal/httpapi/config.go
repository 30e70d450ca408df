package httpapi

import (
	"sync"

	"golang.org/x/time/rate"
)

// maxBodyBytes controls the maximum allowed request body size for JSON endpoints.
var maxBodyBytes int64 = 1 << 20

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 20
		return
	}
	maxBodyBytes = n
}

// inferTimeout bounds a single /infer request in seconds. Zero means the
// request runs until the client or server gives up.
var inferTimeout = int64(0)

// SetInferTimeoutSeconds sets the infer timeout in seconds (0 disables).
func SetInferTimeoutSeconds(sec int64) {
	if sec < 0 {
		sec = 0
	}
	inferTimeout = sec
}

// CORS configuration. With no origins, no CORS middleware is added.
var corsAllowedOrigins []string

var (
	corsAllowedMethods = []string{"POST"}
	corsAllowedHeaders = []string{"Content-Type"}
	corsMaxAge         = 3600
)

// SetCORSOptions configures CORS for routers built afterwards. Empty methods
// or headers keep the defaults (POST, Content-Type); maxAge <= 0 keeps 3600.
func SetCORSOptions(origins, methods, headers []string, maxAge int) {
	corsAllowedOrigins = append([]string(nil), origins...)
	if len(methods) > 0 {
		corsAllowedMethods = append([]string(nil), methods...)
	} else {
		corsAllowedMethods = []string{"POST"}
	}
	if len(headers) > 0 {
		corsAllowedHeaders = append([]string(nil), headers...)
	} else {
		corsAllowedHeaders = []string{"Content-Type"}
	}
	if maxAge > 0 {
		corsMaxAge = maxAge
	} else {
		corsMaxAge = 3600
	}
}

var (
	rateMu      sync.RWMutex
	rateLimiter *rate.Limiter
)

// SetRateLimit installs a process-wide token bucket for /infer. rps <= 0
// disables limiting.
func SetRateLimit(rps float64, burst int) {
	rateMu.Lock()
	defer rateMu.Unlock()
	if rps <= 0 {
		rateLimiter = nil
		return
	}
	if burst <= 0 {
		burst = 1
	}
	rateLimiter = rate.NewLimiter(rate.Limit(rps), burst)
}

func limiter() *rate.Limiter {
	rateMu.RLock()
	defer rateMu.RUnlock()
	return rateLimiter
}
