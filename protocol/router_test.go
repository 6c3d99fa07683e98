package protocol_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/arcade/protocol"
)

// recorderConn records everything written to it.
type recorderConn struct {
	id      string
	written [][]byte
}

func (c *recorderConn) ID() string {
	return c.id
}

func (c *recorderConn) Remote() string {
	return "127.0.0.1:9999"
}

func (c *recorderConn) Write(payload []byte) (int, error) {
	c.written = append(c.written, payload)
	return len(payload), nil
}

func encode(msg *protocol.Message) []byte {
	data, err := msg.Encode()
	Expect(err).To(Succeed())
	return data
}

var _ = Describe("protocol / Router", func() {
	var (
		router *protocol.Router
		conn   *recorderConn
	)

	BeforeEach(func() {
		router = protocol.NewRouter(zap.NewNop())
		conn = &recorderConn{id: "session-1"}
	})

	It("dispatches a payload to the handler registered for its id", func() {
		var got *protocol.Message

		router.Handle("login.req", func(c protocol.Conn, msg *protocol.Message) {
			got = msg
		})

		router.Dispatch(conn, encode(protocol.New("login.req").With("uid", "alice")))

		Expect(got).NotTo(BeNil())
		Expect(got.String("uid")).To(Equal("alice"))
	})

	It("matches ids case-insensitively", func() {
		calls := 0

		router.Handle("Login.Req", func(c protocol.Conn, msg *protocol.Message) {
			calls++
		})

		router.Dispatch(conn, encode(protocol.New("LOGIN.REQ")))
		router.Dispatch(conn, encode(protocol.New("login.req")))

		Expect(calls).To(Equal(2))
	})

	It("lets the last registration for an id win", func() {
		var winner string

		router.Handle("ping", func(c protocol.Conn, msg *protocol.Message) {
			winner = "first"
		})
		router.Handle("PING", func(c protocol.Conn, msg *protocol.Message) {
			winner = "second"
		})

		router.Dispatch(conn, encode(protocol.New("ping")))

		Expect(winner).To(Equal("second"))
	})

	It("drops payloads that do not decode", func() {
		router.Handle("login.req", func(c protocol.Conn, msg *protocol.Message) {
			Fail("handler must not run for an undecodable payload")
		})

		Expect(func() {
			router.Dispatch(conn, []byte{0xff, 0x00, 0x01})
		}).NotTo(Panic())
	})

	It("drops messages with no registered handler", func() {
		Expect(func() {
			router.Dispatch(conn, encode(protocol.New("no.such.id")))
		}).NotTo(Panic())
	})

	It("contains a panicking handler", func() {
		router.Handle("boom", func(c protocol.Conn, msg *protocol.Message) {
			panic("handler exploded")
		})

		Expect(func() {
			router.Dispatch(conn, encode(protocol.New("boom")))
		}).NotTo(Panic())
	})

	Describe("Reply()", func() {
		It("encodes the message and writes it to the connection", func() {
			err := protocol.Reply(conn, protocol.New("pong").With("utc", int64(1)))
			Expect(err).To(Succeed())
			Expect(conn.written).To(HaveLen(1))

			echoed, err := protocol.Decode(conn.written[0])
			Expect(err).To(Succeed())
			Expect(echoed.ID()).To(Equal("pong"))
		})
	})
})
