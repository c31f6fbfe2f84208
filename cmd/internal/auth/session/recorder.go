package session

// Recorder receives lifecycle events for metrics. Implementations must be
// safe for concurrent use.
type Recorder interface {
	SessionCreated(degraded bool)
	SessionsRevoked(reason string, n int)
	RefreshRotated(ok bool)
}

type nopRecorder struct{}

func (nopRecorder) SessionCreated(bool)         {}
func (nopRecorder) SessionsRevoked(string, int) {}
func (nopRecorder) RefreshRotated(bool)         {}
