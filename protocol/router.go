package protocol

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Conn is the connection a message arrived on, as seen by a handler.
// The transport session implements it on the server side and the
// client connection implements it on the client side.
type Conn interface {
	// ID is the opaque session identifier of the connection.
	ID() string

	// Remote is the remote endpoint in host:port form.
	Remote() string

	// Write queues an already-encoded payload for sending.
	Write(payload []byte) (int, error)
}

// Handler processes a single decoded message.
type Handler func(conn Conn, msg *Message)

// Reply encodes a message and writes it to the connection. A write to
// a connection that has already closed is reported as an error by the
// transport and may be ignored by callers that run after the dispatch
// path (see Router.Dispatch).
func Reply(conn Conn, msg *Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}

	_, err = conn.Write(data)
	return err
}

// Router maps message ids to handlers and dispatches raw payloads to
// them. Ids are matched case-insensitively and the last registration
// for an id wins. One instance exists per role: the server routes
// *.req messages, the client routes *.res messages.
type Router struct {
	mu       sync.Mutex
	handlers map[string]Handler

	log *zap.Logger
}

func NewRouter(log *zap.Logger) *Router {
	return &Router{
		handlers: make(map[string]Handler),
		log:      log,
	}
}

// Handle registers a handler for a message id.
func (r *Router) Handle(id string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[strings.ToLower(id)] = handler
}

func (r *Router) lookup(id string) (Handler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handler, ok := r.handlers[strings.ToLower(id)]
	return handler, ok
}

// Dispatch decodes a raw payload and invokes the matching handler
// synchronously. Undecodable payloads and unknown ids are logged and
// dropped: the peer is malformed or desynchronized and there is
// nothing to answer at this layer. A panicking handler is contained
// here so it cannot take down the connection's read loop.
func (r *Router) Dispatch(conn Conn, payload []byte) {
	msg, err := Decode(payload)
	if err != nil {
		r.log.Warn("Failed to decode message",
			zap.String("remote", conn.Remote()),
			zap.Int("size", len(payload)),
			zap.Error(err))
		return
	}

	handler, ok := r.lookup(msg.ID())
	if !ok {
		r.log.Warn("No handler for message",
			zap.String("id", msg.ID()),
			zap.String("remote", conn.Remote()))
		return
	}

	defer func() {
		if cause := recover(); cause != nil {
			r.log.Error("Message handler panicked",
				zap.String("id", msg.ID()),
				zap.Any("cause", cause))
		}
	}()

	handler(conn, msg)
}
