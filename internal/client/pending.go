package client

import (
	"github.com/omochice/toy-messenger/pkg/protocol"
)

type result struct {
	env protocol.Envelope
	err error
}

// pendingRequest is owned by whichever goroutine removes it from the pending
// table; that goroutine alone sends on done, so a send never blocks.
type pendingRequest struct {
	kind protocol.Kind
	done chan result
}

func newPendingRequest(kind protocol.Kind) *pendingRequest {
	return &pendingRequest{kind: kind, done: make(chan result, 1)}
}

func (p *pendingRequest) resolve(r result) {
	p.done <- r
}

// reserveLocked registers a request under the next sequence number. Callers hold t.mu.
func (t *Transport) reserveLocked(kind protocol.Kind) (uint64, *pendingRequest) {
	t.nextSeq++
	p := newPendingRequest(kind)
	t.pending[t.nextSeq] = p
	return t.nextSeq, p
}

// release removes p if it is still registered under seq and reports whether
// the caller now owns it.
func (t *Transport) release(seq uint64, p *pendingRequest) bool {
	t.mu.Lock()
	if t.pending[seq] != p {
		t.mu.Unlock()
		return false
	}
	delete(t.pending, seq)
	t.obs.Pending(len(t.pending))
	t.mu.Unlock()
	return true
}

// take removes and returns the request answered by a response.
func (t *Transport) take(seq uint64) (*pendingRequest, bool) {
	t.mu.Lock()
	p, ok := t.pending[seq]
	if ok {
		delete(t.pending, seq)
		t.obs.Pending(len(t.pending))
	}
	t.mu.Unlock()
	return p, ok
}

// failAll resolves every request of a detached table with err.
func failAll(pending map[uint64]*pendingRequest, err error) {
	for _, p := range pending {
		p.resolve(result{err: err})
	}
}
