package game

import (
	"sync"

	"go.uber.org/zap"
)

// SessionAuthority maps session codes to authenticated user ids. A
// binding is created on login, replaced by a new login on the same
// connection, and removed on logout or when the owning transport
// closes.
//
// Resolution alone is not authorization: request handlers must also
// check that the presented code equals the id of the connection the
// request arrived on, so a code captured on one connection cannot be
// replayed on another.
type SessionAuthority struct {
	mu       sync.Mutex
	bindings map[string]string

	log *zap.Logger
}

func NewSessionAuthority(log *zap.Logger) *SessionAuthority {
	return &SessionAuthority{
		bindings: make(map[string]string),
		log:      log,
	}
}

// Bind associates a session code with a user, overwriting any prior
// binding for that code.
func (a *SessionAuthority) Bind(scode, uid string) {
	a.mu.Lock()
	a.bindings[scode] = uid
	a.mu.Unlock()

	a.log.Debug("Session bound", zap.String("uid", uid))
}

// Resolve returns the user a session code is bound to.
func (a *SessionAuthority) Resolve(scode string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	uid, ok := a.bindings[scode]
	return uid, ok
}

// Unbind removes a binding. Unbinding an unknown code is a no-op, so
// it is safe to hook straight to transport close events.
func (a *SessionAuthority) Unbind(scode string) {
	a.mu.Lock()
	uid, ok := a.bindings[scode]
	delete(a.bindings, scode)
	a.mu.Unlock()

	if ok {
		a.log.Debug("Session unbound", zap.String("uid", uid))
	}
}
