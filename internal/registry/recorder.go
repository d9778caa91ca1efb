package registry

import (
	"sync"

	"github.com/pliu/murmur/internal/protocol"
)

// Recorder is an in-memory Session that keeps every notification it
// receives. It backs tests in packages that route through the registry.
type Recorder struct {
	SessionID string
	User      int64

	mu     sync.Mutex
	closed bool
	got    []protocol.Notification
}

func NewRecorder(sessionID string, userID int64) *Recorder {
	return &Recorder{SessionID: sessionID, User: userID}
}

func (r *Recorder) ID() string     { return r.SessionID }
func (r *Recorder) UserID() int64 { return r.User }

func (r *Recorder) Send(n protocol.Notification) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.got = append(r.got, n)
	return true
}

// Close makes later sends fail, like a session that left the active state.
func (r *Recorder) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func (r *Recorder) Notifications() []protocol.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Notification(nil), r.got...)
}

// OfType returns the received notifications whose wire type is typ.
func (r *Recorder) OfType(typ string) []protocol.Notification {
	var out []protocol.Notification
	for _, n := range r.Notifications() {
		if n.NotificationType() == typ {
			out = append(out, n)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.got = nil
	r.mu.Unlock()
}
