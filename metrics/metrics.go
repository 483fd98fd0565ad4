// Package metrics records operational counters and latencies.
package metrics

import "time"

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Counter and latency names.
const (
	InvoicesCreated  = "invoices_created"
	VerifyOutcome    = "verify_outcome"
	PriceFallback    = "price_fallback"
	RPCFailover      = "rpc_failover"
	ActivationFailed = "activation_failed"

	VerifyLatency = "verify"
	ScanLatency   = "scan"
	RPCLatency    = "rpc"
)

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}

// NoopRecorder discards everything.
type NoopRecorder struct{}

func (NoopRecorder) IncCounter(string, map[string]string)                    {}
func (NoopRecorder) ObserveLatency(string, time.Duration, map[string]string) {}
