package client

import (
	"net"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/luma/arcade/protocol"
	"github.com/luma/arcade/transport"
)

// Conn is the client side of the game link: exactly one outbound
// framed TCP connection plus a router for the server's response
// messages. Responses may arrive out of request order once the server
// offloads work, so callers correlate by content (echoed order ids
// and fields), not by arrival order.
type Conn struct {
	mu   sync.Mutex
	sess *transport.Session

	router *protocol.Router

	// OnDisconnected fires when the connection dies, with the
	// transport close reason.
	OnDisconnected func(reason int)

	uid     string
	scode   string
	address string

	log *zap.Logger
}

func New(log *zap.Logger) *Conn {
	c := &Conn{
		router: protocol.NewRouter(log.Named("dispatch")),
		log:    log,
	}

	// Keepalive probes from the server are answered without caller
	// involvement.
	c.router.Handle("ping", func(conn protocol.Conn, msg *protocol.Message) {
		c.send(protocol.New("pong").With("timestamp", msg.Int("timestamp")))
	})

	// The login response carries the session code every later request
	// must present.
	c.router.Handle("login.res", func(conn protocol.Conn, msg *protocol.Message) {
		c.mu.Lock()
		c.scode = msg.String("scode")
		c.address = msg.String("address")
		c.mu.Unlock()
	})

	c.router.Handle("error", func(conn protocol.Conn, msg *protocol.Message) {
		log.Warn("Server reported an error", zap.String("message", msg.String("message")))
	})

	return c
}

// Handle registers a response handler. Registering an id again
// replaces the previous handler, including the built-in ones.
func (c *Conn) Handle(id string, handler protocol.Handler) {
	c.router.Handle(id, handler)
}

// Start dials the server and begins the read cycle.
func (c *Conn) Start(addr string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}

	sess := transport.NewSession(conn, c.log.Named("conn"))
	sess.OnMessage = func(s *transport.Session, payload []byte) {
		c.router.Dispatch(s, payload)
	}
	sess.OnClosed = func(s *transport.Session, reason int) {
		c.log.Info("Disconnected", zap.Int("reason", reason))

		if c.OnDisconnected != nil {
			c.OnDisconnected(reason)
		}
	}

	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()

	go sess.Start()

	return nil
}

// Stop closes the connection.
func (c *Conn) Stop() {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	if sess != nil {
		sess.Stop(transport.ClosedByLocal)
	}
}

// Connected reports whether the connection is alive.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sess != nil && c.sess.Connected()
}

// SessionCode is the session code received at login, or "" before
// login completes.
func (c *Conn) SessionCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.scode
}

// Address is the ledger address received at login.
func (c *Conn) Address() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.address
}

// Send encodes and writes a message.
func (c *Conn) Send(msg *protocol.Message) error {
	return c.send(msg)
}

func (c *Conn) send(msg *protocol.Message) error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	if sess == nil {
		return transport.ErrSessionClosed
	}

	return protocol.Reply(sess, msg)
}

// Login authenticates. The passcode must already be hashed; raw
// passwords never go over the wire.
func (c *Conn) Login(uid, passcode string) error {
	c.mu.Lock()
	c.uid = uid
	c.mu.Unlock()

	return c.send(protocol.New("login.req").
		With("uid", uid).
		With("passcode", passcode))
}

func (c *Conn) Logout() error {
	return c.send(protocol.New("logout.req").With("session", c.SessionCode()))
}

func (c *Conn) Info() error {
	return c.send(protocol.New("info.req").With("session", c.SessionCode()))
}

func (c *Conn) Transfer(to string, value decimal.Decimal) error {
	return c.send(protocol.New("transfer.req").
		With("session", c.SessionCode()).
		With("to", to).
		With("value", value))
}

func (c *Conn) ShopList() error {
	return c.send(protocol.New("shop.list.req").With("session", c.SessionCode()))
}

func (c *Conn) ShopBuy(itemcode string) error {
	return c.send(protocol.New("shop.buy.req").
		With("session", c.SessionCode()).
		With("itemcode", itemcode))
}

func (c *Conn) MarketRegister(itemcode string, price decimal.Decimal) error {
	return c.send(protocol.New("market.register.req").
		With("session", c.SessionCode()).
		With("itemcode", itemcode).
		With("price", price))
}

func (c *Conn) MarketUnregister(order string) error {
	return c.send(protocol.New("market.unregister.req").
		With("session", c.SessionCode()).
		With("order", order))
}

func (c *Conn) MarketList() error {
	return c.send(protocol.New("market.list.req").With("session", c.SessionCode()))
}

func (c *Conn) MarketBuy(order string) error {
	return c.send(protocol.New("market.buy.req").
		With("session", c.SessionCode()).
		With("order", order))
}

// Ping measures round trip time against the server; the pong is
// delivered to the handler registered for "pong".
func (c *Conn) Ping() error {
	return c.send(protocol.New("ping").With("timestamp", time.Now().UnixMilli()))
}
