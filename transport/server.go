package transport

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Server accepts inbound connections, wraps each one in a Session and
// owns the table of live sessions. Sessions register under their id
// on accept and are removed exactly once, driven by the session's
// closed callback.
type Server struct {
	ctx    context.Context
	cancel context.CancelFunc

	addr     string
	listener net.Listener

	mu       sync.Mutex
	sessions map[string]*Session

	// OnNewSession fires after a connection has been accepted and
	// registered, before its read loop starts.
	OnNewSession func(s *Session)

	// OnSessionClosed fires after a session has been removed from the
	// registry.
	OnSessionClosed func(s *Session, reason int)

	// OnMessage receives every reassembled frame from every session.
	OnMessage func(s *Session, payload []byte)

	loopWaiter sync.WaitGroup

	log *zap.Logger
}

func NewServer(options Options) *Server {
	return &Server{
		addr:     net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		sessions: make(map[string]*Session),
		log:      options.Log,
	}
}

// Start binds the listen socket and launches the accept loop. It
// returns once the server is listening, so Addr is valid immediately
// after a successful Start.
func (t *Server) Start(parentCtx context.Context) error {
	ctx, cancel := context.WithCancel(parentCtx)
	t.ctx = ctx
	t.cancel = cancel

	listener, err := reuseport.Listen("tcp", t.addr)
	if err != nil {
		cancel()
		return err
	}
	t.listener = listener

	t.log.Info("TCP server listening", zap.String("addr", listener.Addr().String()))

	t.loopWaiter.Add(1)
	go func() {
		defer t.loopWaiter.Done()
		t.acceptLoop()
	}()

	return nil
}

// Addr is the bound listen address. Useful when Start was given
// port 0.
func (t *Server) Addr() string {
	if t.listener == nil {
		return t.addr
	}
	return t.listener.Addr().String()
}

func (t *Server) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.ctx.Done():
				t.log.Info("Stopped accepting new connections")
			default:
				netOpError := new(net.OpError)
				if !errors.As(err, &netOpError) {
					t.log.Error("Accept failed", zap.Error(err))
				}
			}
			return
		}

		session := NewSession(conn, t.log.Named("conn"))
		session.OnMessage = t.OnMessage
		session.OnClosed = t.onSessionClosed

		t.addSession(session)

		t.log.Debug("New connection established",
			zap.String("session", session.ID()),
			zap.String("remote", session.Remote()))

		if t.OnNewSession != nil {
			t.OnNewSession(session)
		}

		t.loopWaiter.Add(1)
		go func() {
			defer t.loopWaiter.Done()
			session.Start()
		}()
	}
}

func (t *Server) onSessionClosed(session *Session, reason int) {
	t.removeSession(session)

	t.log.Debug("Connection lost",
		zap.String("session", session.ID()),
		zap.String("remote", session.Remote()),
		zap.Int("reason", reason))

	if t.OnSessionClosed != nil {
		t.OnSessionClosed(session, reason)
	}
}

func (t *Server) addSession(session *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sessions[session.ID()] = session
}

func (t *Server) removeSession(session *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.sessions, session.ID())
}

// Session looks up a live session by id.
func (t *Server) Session(id string) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, ok := t.sessions[id]
	return session, ok
}

// Sessions returns a point-in-time copy of the live sessions, safe to
// iterate while connections come and go.
func (t *Server) Sessions() []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	sessions := make([]*Session, 0, len(t.sessions))
	for _, session := range t.sessions {
		sessions = append(sessions, session)
	}

	return sessions
}

// Broadcast writes a payload to every live session, aggregating any
// write errors.
func (t *Server) Broadcast(payload []byte) (err error) {
	for _, session := range t.Sessions() {
		if _, werr := session.Write(payload); werr != nil {
			err = multierr.Append(err, werr)
		}
	}

	return err
}

// Close stops accepting, tears down every live session and waits for
// all loops to exit.
func (t *Server) Close() error {
	t.log.Info("Stopping TCP server")
	t.cancel()

	err := t.listener.Close()

	for _, session := range t.Sessions() {
		session.Stop(ClosedByLocal)
	}

	t.loopWaiter.Wait()
	t.log.Info("TCP server stopped")

	return err
}
