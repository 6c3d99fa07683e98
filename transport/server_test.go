package transport_test

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/arcade/transport"
)

func makeServer() *transport.Server {
	tcp := transport.NewServer(transport.Options{
		Host: "127.0.0.1",
		Port: 0,
		Log:  zap.NewNop(),
	})

	err := tcp.Start(context.Background())
	Expect(err).To(Succeed())

	return tcp
}

func frame(payload []byte) []byte {
	out := make([]byte, transport.HeaderLength+len(payload))
	binary.LittleEndian.PutUint32(out, uint32(len(payload)))
	copy(out[transport.HeaderLength:], payload)
	return out
}

// readFrame reads one length-prefixed frame off a raw client socket.
func readFrame(conn net.Conn) ([]byte, error) {
	header := make([]byte, transport.HeaderLength)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, err
	}

	payload := make([]byte, binary.LittleEndian.Uint32(header))
	if _, err := io.ReadFull(conn, payload); err != nil {
		return nil, err
	}

	return payload, nil
}

var _ = Describe("transport / Server", func() {
	It("listens on an ephemeral port when given port 0", func() {
		tcp := makeServer()
		defer func() {
			Expect(tcp.Close()).To(Succeed())
		}()

		conn, err := net.Dial("tcp", tcp.Addr())
		Expect(err).To(Succeed())
		conn.Close()
	})

	It("reassembles a frame and delivers it through OnMessage", func() {
		tcp := makeServer()
		defer tcp.Close()

		received := make(chan []byte, 1)
		tcp.OnMessage = func(s *transport.Session, payload []byte) {
			received <- payload
		}

		conn, err := net.Dial("tcp", tcp.Addr())
		Expect(err).To(Succeed())
		defer conn.Close()

		_, err = conn.Write(frame([]byte("hello")))
		Expect(err).To(Succeed())

		Eventually(received).Should(Receive(Equal([]byte("hello"))))
	})

	It("reassembles a frame that arrives in arbitrary chunks", func() {
		tcp := makeServer()
		defer tcp.Close()

		received := make(chan []byte, 1)
		tcp.OnMessage = func(s *transport.Session, payload []byte) {
			received <- payload
		}

		conn, err := net.Dial("tcp", tcp.Addr())
		Expect(err).To(Succeed())
		defer conn.Close()

		whole := frame([]byte("fragmented delivery"))

		// One byte at a time defeats any assumption that a frame
		// arrives in a single read.
		for _, b := range whole {
			_, err := conn.Write([]byte{b})
			Expect(err).To(Succeed())
			time.Sleep(time.Millisecond)
		}

		Eventually(received).Should(Receive(Equal([]byte("fragmented delivery"))))
	})

	It("delivers back to back frames from one socket in order", func() {
		tcp := makeServer()
		defer tcp.Close()

		received := make(chan []byte, 2)
		tcp.OnMessage = func(s *transport.Session, payload []byte) {
			received <- payload
		}

		conn, err := net.Dial("tcp", tcp.Addr())
		Expect(err).To(Succeed())
		defer conn.Close()

		buf := append(frame([]byte("first")), frame([]byte("second"))...)
		_, err = conn.Write(buf)
		Expect(err).To(Succeed())

		Eventually(received).Should(Receive(Equal([]byte("first"))))
		Eventually(received).Should(Receive(Equal([]byte("second"))))
	})

	It("drops the connection on an oversize frame length without a message", func() {
		tcp := makeServer()
		defer tcp.Close()

		received := make(chan []byte, 1)
		closed := make(chan int, 1)
		tcp.OnMessage = func(s *transport.Session, payload []byte) {
			received <- payload
		}
		tcp.OnSessionClosed = func(s *transport.Session, reason int) {
			closed <- reason
		}

		conn, err := net.Dial("tcp", tcp.Addr())
		Expect(err).To(Succeed())
		defer conn.Close()

		header := make([]byte, transport.HeaderLength)
		binary.LittleEndian.PutUint32(header, transport.BufferLength)
		_, err = conn.Write(header)
		Expect(err).To(Succeed())

		Eventually(closed).Should(Receive(Equal(transport.ClosedBadFrame)))
		Consistently(received).ShouldNot(Receive())
	})

	It("drops the connection on a zero frame length", func() {
		tcp := makeServer()
		defer tcp.Close()

		closed := make(chan int, 1)
		tcp.OnSessionClosed = func(s *transport.Session, reason int) {
			closed <- reason
		}

		conn, err := net.Dial("tcp", tcp.Addr())
		Expect(err).To(Succeed())
		defer conn.Close()

		_, err = conn.Write(make([]byte, transport.HeaderLength))
		Expect(err).To(Succeed())

		Eventually(closed).Should(Receive(Equal(transport.ClosedBadFrame)))
	})

	It("reports an orderly peer close as ClosedByPeer", func() {
		tcp := makeServer()
		defer tcp.Close()

		closed := make(chan int, 1)
		tcp.OnSessionClosed = func(s *transport.Session, reason int) {
			closed <- reason
		}

		conn, err := net.Dial("tcp", tcp.Addr())
		Expect(err).To(Succeed())
		conn.Close()

		Eventually(closed).Should(Receive(Equal(transport.ClosedByPeer)))
	})

	It("frames writes going back to the client", func() {
		tcp := makeServer()
		defer tcp.Close()

		tcp.OnMessage = func(s *transport.Session, payload []byte) {
			// Echo straight back.
			_, err := s.Write(payload)
			Expect(err).To(Succeed())
		}

		conn, err := net.Dial("tcp", tcp.Addr())
		Expect(err).To(Succeed())
		defer conn.Close()

		_, err = conn.Write(frame([]byte("echo me")))
		Expect(err).To(Succeed())

		payload, err := readFrame(conn)
		Expect(err).To(Succeed())
		Expect(payload).To(Equal([]byte("echo me")))
	})

	It("tracks live sessions and removes them on close", func() {
		tcp := makeServer()
		defer tcp.Close()

		joined := make(chan string, 1)
		closed := make(chan int, 1)
		tcp.OnNewSession = func(s *transport.Session) {
			joined <- s.ID()
		}
		tcp.OnSessionClosed = func(s *transport.Session, reason int) {
			closed <- reason
		}

		conn, err := net.Dial("tcp", tcp.Addr())
		Expect(err).To(Succeed())

		var id string
		Eventually(joined).Should(Receive(&id))

		Expect(tcp.Sessions()).To(HaveLen(1))
		_, ok := tcp.Session(id)
		Expect(ok).To(BeTrue())

		conn.Close()
		Eventually(closed).Should(Receive())
		Eventually(tcp.Sessions).Should(BeEmpty())
	})

	It("broadcasts one payload to every live session", func() {
		tcp := makeServer()
		defer tcp.Close()

		joined := make(chan struct{}, 2)
		tcp.OnNewSession = func(s *transport.Session) {
			joined <- struct{}{}
		}

		a, err := net.Dial("tcp", tcp.Addr())
		Expect(err).To(Succeed())
		defer a.Close()

		b, err := net.Dial("tcp", tcp.Addr())
		Expect(err).To(Succeed())
		defer b.Close()

		Eventually(joined).Should(Receive())
		Eventually(joined).Should(Receive())

		Expect(tcp.Broadcast([]byte("to all"))).To(Succeed())

		for _, conn := range []net.Conn{a, b} {
			payload, err := readFrame(conn)
			Expect(err).To(Succeed())
			Expect(payload).To(Equal([]byte("to all")))
		}
	})
})

var _ = Describe("transport / Session", func() {
	It("refuses payloads that cannot fit a frame", func() {
		tcp := makeServer()
		defer tcp.Close()

		sessions := make(chan *transport.Session, 1)
		tcp.OnNewSession = func(s *transport.Session) {
			sessions <- s
		}

		conn, err := net.Dial("tcp", tcp.Addr())
		Expect(err).To(Succeed())
		defer conn.Close()

		var session *transport.Session
		Eventually(sessions).Should(Receive(&session))

		_, err = session.Write(nil)
		Expect(err).To(MatchError(transport.ErrBadFrameLength))

		_, err = session.Write(make([]byte, transport.BufferLength))
		Expect(err).To(MatchError(transport.ErrBadFrameLength))
	})

	It("closes exactly once with the first reason", func() {
		tcp := makeServer()
		defer tcp.Close()

		sessions := make(chan *transport.Session, 1)
		tcp.OnNewSession = func(s *transport.Session) {
			sessions <- s
		}

		reasons := make(chan int, 2)
		tcp.OnSessionClosed = func(s *transport.Session, reason int) {
			reasons <- reason
		}

		conn, err := net.Dial("tcp", tcp.Addr())
		Expect(err).To(Succeed())
		defer conn.Close()

		var session *transport.Session
		Eventually(sessions).Should(Receive(&session))

		session.Stop(transport.ClosedByLocal)
		session.Stop(transport.ClosedIOError)

		Eventually(reasons).Should(Receive(Equal(transport.ClosedByLocal)))
		Consistently(reasons).ShouldNot(Receive())

		Expect(session.Connected()).To(BeFalse())

		_, err = session.Write([]byte("late"))
		Expect(err).To(MatchError(transport.ErrSessionClosed))
	})
})
