// Package observability defines the metric events emitted by the messenger
// transport. Exporters live in subpackages.
package observability

import "time"

type RequestResult string

const (
	RequestResultOK        RequestResult = "ok"
	RequestResultRejected  RequestResult = "rejected"
	RequestResultTimeout   RequestResult = "timeout"
	RequestResultLost      RequestResult = "lost"
	RequestResultCanceled  RequestResult = "canceled"
	RequestResultSendError RequestResult = "send_error"
)

// TransportObserver receives transport-level metric events. Pending is called
// while the transport holds its lock, so implementations must not call back
// into the transport.
type TransportObserver interface {
	// State reports the connection state after every transition.
	State(state string)
	// Handshake reports the outcome of one authentication attempt.
	Handshake(reason string, d time.Duration)
	// Request reports a finished round trip for an envelope kind.
	Request(kind string, result RequestResult, d time.Duration)
	// Pending reports the size of the pending request table.
	Pending(n int)
	// Inbound reports an envelope decoded by the receive loop.
	Inbound(kind string)
	// ConnectionLost reports a connection that went from authenticated to lost.
	ConnectionLost()
}

type noopTransportObserver struct{}

func (noopTransportObserver) State(string)                                 {}
func (noopTransportObserver) Handshake(string, time.Duration)              {}
func (noopTransportObserver) Request(string, RequestResult, time.Duration) {}
func (noopTransportObserver) Pending(int)                                  {}
func (noopTransportObserver) Inbound(string)                               {}
func (noopTransportObserver) ConnectionLost()                              {}

// NoopTransportObserver is a zero-cost observer used when metrics are disabled.
var NoopTransportObserver TransportObserver = noopTransportObserver{}
