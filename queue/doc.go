// Package queue enforces per-endpoint dispatch shaping: concurrency
// caps and sustained-rate limits applied on top of the global dispatch
// window.
//
// Endpoints are the remote GPU workers jobs are dispatched to. The
// global rate limiter bounds total dispatch throughput; this package
// lets operators additionally cap individual endpoints so one noisy
// endpoint cannot monopolise the dispatch window.
//
// # Per-Endpoint Configuration
//
// Use [Config] to set per-endpoint limits:
//
//	queue.Config{
//	    EndpointID:     "ep-whisper",
//	    MaxConcurrency: 3,      // max 3 in-flight jobs on this endpoint
//	    RateLimit:      2,      // max 2 dispatches/s to this endpoint
//	    RateBurst:      4,      // allow bursts up to 4
//	}
//
// # Manager
//
// [Manager] enforces the limits at dispatch time. It uses a
// token-bucket rate limiter (golang.org/x/time/rate) and an
// active-count gate for concurrency limits.
//
//	m := queue.NewManager(configs...)
//	if m.Acquire(endpointID) {
//	    defer m.Release(endpointID)
//	    // dispatch the job
//	}
//
// Endpoints without a [Config] have no limits beyond the global window.
package queue
