// Package inference serves answers for conversation histories.
//
// Files by concern:
//   - service.go: Service, Run/RunDetailed orchestration (format, generate,
//     split the thought) and lifecycle.
//   - config.go: Config and defaults.
//   - errors.go: Kind taxonomy, *Error and the generation stage mapping.
//   - pool.go: bounded worker pool with queue wait and panic recovery.
//   - cache.go: optional TTL answer cache keyed by prompt digest.
//   - metrics.go: prometheus collectors.
package inference
