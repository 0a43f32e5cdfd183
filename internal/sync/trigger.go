package sync

// BackgroundTrigger is a source of "sync now" requests coming from outside
// the application, e.g. a background worker or the local control API
type BackgroundTrigger interface {
	SyncRequests() <-chan struct{}
}

// ChanTrigger is a BackgroundTrigger fired programmatically. Requests made
// while one is already waiting are coalesced.
type ChanTrigger struct {
	ch chan struct{}
}

// NewChanTrigger creates a trigger
func NewChanTrigger() *ChanTrigger {
	return &ChanTrigger{ch: make(chan struct{}, 1)}
}

// Fire requests a sync and reports whether a new request was queued
func (t *ChanTrigger) Fire() bool {
	select {
	case t.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// SyncRequests implements BackgroundTrigger
func (t *ChanTrigger) SyncRequests() <-chan struct{} {
	return t.ch
}
