package transport

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"
)

const (
	// HeaderLength is the size of the length prefix on every frame.
	HeaderLength = 4

	// BufferLength bounds both a single frame and the chunk size used
	// while accumulating a frame body.
	BufferLength = 8192
)

// Close reasons passed to the OnClosed callback. Zero is an orderly
// peer-initiated close, everything else is an error or a local close.
const (
	ClosedByPeer   = 0
	ClosedByLocal  = 1
	ClosedIOError  = 2
	ClosedBadFrame = 3
)

var (
	ErrSessionClosed  = errors.New("session is closed")
	ErrBadFrameLength = errors.New("frame length must be within (0, BufferLength)")
)

// readState is the per-connection read cycle state. The read loop
// moves ReadingHeader -> ReadingBody -> (dispatch) -> ReadingHeader
// until the connection dies.
type readState int

const (
	readingHeader readState = iota
	readingBody
)

// Session owns one framed TCP connection. Frames are
// length-prefixed: a 4 byte little-endian payload length followed by
// the payload. The read and write paths run concurrently on their own
// goroutines; writes are serialized through an internal queue so
// Write is safe to call from any goroutine.
type Session struct {
	id     string
	remote string

	conn net.Conn

	// OnMessage receives every fully reassembled frame payload.
	OnMessage func(s *Session, payload []byte)

	// OnClosed fires exactly once when the session dies, with a
	// ClosedXxx reason.
	OnClosed func(s *Session, reason int)

	// OnWritten fires after a queued payload has been written to the
	// socket, carrying the payload without its header.
	OnWritten func(s *Session, payload []byte)

	writeQueue chan []byte

	stop     chan struct{}
	stopOnce sync.Once

	loopWaiter sync.WaitGroup

	log *zap.Logger
}

// NewSession wraps an established connection. The session does not
// read until Start is called.
func NewSession(conn net.Conn, log *zap.Logger) *Session {
	id := make([]byte, 32)
	if _, err := rand.Read(id); err != nil {
		panic(err)
	}

	return &Session{
		id:         base64.StdEncoding.EncodeToString(id),
		remote:     conn.RemoteAddr().String(),
		conn:       conn,
		writeQueue: make(chan []byte, 127),
		stop:       make(chan struct{}),
		log:        log,
	}
}

// ID is the session identifier: 256 bits of randomness, base64.
// After login the same value doubles as the session code.
func (s *Session) ID() string {
	return s.id
}

// Remote is the remote endpoint in host:port form.
func (s *Session) Remote() string {
	return s.remote
}

// Connected reports whether Stop has not yet been called.
func (s *Session) Connected() bool {
	select {
	case <-s.stop:
		return false
	default:
		return true
	}
}

// Start runs the read and write loops and blocks until both exit.
// Callers normally run it on its own goroutine.
func (s *Session) Start() {
	s.loopWaiter.Add(2)

	go func() {
		defer s.loopWaiter.Done()
		s.readLoop()
	}()

	go func() {
		defer s.loopWaiter.Done()
		s.writeLoop()
	}()

	s.loopWaiter.Wait()
}

// Stop tears the session down. It is idempotent: the closed callback
// fires exactly once, with the reason of the first Stop call.
func (s *Session) Stop(reason int) {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.conn.Close()

		if s.OnClosed != nil {
			s.OnClosed(s, reason)
		}
	})
}

// Write queues a payload for sending. The frame header is prepended
// by the write loop. Returns the total number of bytes that will be
// written, header included.
func (s *Session) Write(payload []byte) (int, error) {
	if len(payload) == 0 || len(payload) >= BufferLength {
		return 0, ErrBadFrameLength
	}

	buf := make([]byte, len(payload))
	copy(buf, payload)

	select {
	case <-s.stop:
		return 0, ErrSessionClosed
	case s.writeQueue <- buf:
		return len(payload) + HeaderLength, nil
	}
}

// readLoop drives the framing state machine. The header is read in
// full, validated, then the body is accumulated in chunks no larger
// than BufferLength until the declared length is reached.
func (s *Session) readLoop() {
	var (
		state  = readingHeader
		header = make([]byte, HeaderLength)
		chunk  = make([]byte, BufferLength)
		body   []byte
		length int
	)

	for s.Connected() {
		switch state {
		case readingHeader:
			if _, err := io.ReadFull(s.conn, header); err != nil {
				s.stopOnReadError(err)
				return
			}

			length = int(binary.LittleEndian.Uint32(header))
			if length <= 0 || length >= BufferLength {
				s.log.Warn("Peer sent an invalid frame length",
					zap.Int("length", length),
					zap.String("remote", s.remote))
				s.Stop(ClosedBadFrame)
				return
			}

			body = body[:0]
			state = readingBody

		case readingBody:
			want := length - len(body)
			if want > BufferLength {
				want = BufferLength
			}

			n, err := s.conn.Read(chunk[:want])
			if n > 0 {
				body = append(body, chunk[:n]...)
			}
			if err != nil {
				s.stopOnReadError(err)
				return
			}

			if len(body) == length {
				if s.OnMessage != nil {
					payload := make([]byte, length)
					copy(payload, body)
					s.OnMessage(s, payload)
				}

				state = readingHeader
			}
		}
	}
}

// stopOnReadError maps a read failure to a close reason. EOF is the
// peer shutting down in order, everything else is an I/O fault.
func (s *Session) stopOnReadError(err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		s.Stop(ClosedByPeer)
		return
	}

	if s.Connected() {
		s.log.Warn("Read failed",
			zap.String("remote", s.remote),
			zap.Error(err))
	}
	s.Stop(ClosedIOError)
}

func (s *Session) writeLoop() {
	frame := make([]byte, 0, BufferLength+HeaderLength)

	for {
		select {
		case <-s.stop:
			return

		case payload := <-s.writeQueue:
			frame = frame[:HeaderLength]
			binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
			frame = append(frame, payload...)

			if _, err := s.conn.Write(frame); err != nil {
				if s.Connected() {
					s.log.Warn("Write failed",
						zap.String("remote", s.remote),
						zap.Error(err))
				}
				s.Stop(ClosedIOError)
				return
			}

			if s.OnWritten != nil {
				s.OnWritten(s, payload)
			}
		}
	}
}
