package game

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/luma/arcade/ledger"
	"github.com/luma/arcade/protocol"
	"github.com/luma/arcade/transport"
)

type Options struct {
	// Host/Port the TCP game service listens on. Port 0 picks a free
	// port (see Server.Addr).
	Host string
	Port int

	DB     *GameDB
	Ledger ledger.Client
	Wallet *ledger.Wallet

	// ShopAddress receives shop purchase payments.
	ShopAddress string

	// CommissionRate is the market cut, e.g. 0.05.
	CommissionRate decimal.Decimal

	// ReceiptTimeout bounds the market-buy confirmation wait.
	ReceiptTimeout time.Duration

	// RPCURL is advertised to clients on login so they can talk to
	// the ledger node directly.
	RPCURL string

	Log *zap.Logger
}

// Server is the game-side endpoint: it owns the TCP server, routes
// request messages to handlers, guards them with the session
// authority and drives the economy orchestrator.
type Server struct {
	ctx context.Context

	db       *GameDB
	economy  *Economy
	sessions *SessionAuthority
	wallet   *ledger.Wallet
	ledger   ledger.Client

	router *protocol.Router
	tcp    *transport.Server

	rpcURL string

	log *zap.Logger
}

func NewServer(options Options) *Server {
	log := options.Log

	s := &Server{
		ctx:      context.Background(),
		db:       options.DB,
		sessions: NewSessionAuthority(log.Named("sessions")),
		wallet:   options.Wallet,
		ledger:   options.Ledger,
		router:   protocol.NewRouter(log.Named("dispatch")),
		rpcURL:   options.RPCURL,
		log:      log,
	}

	s.economy = NewEconomy(
		options.DB,
		options.Ledger,
		options.Wallet,
		options.ShopAddress,
		options.CommissionRate,
		options.ReceiptTimeout,
		log.Named("economy"),
	)

	s.tcp = transport.NewServer(transport.Options{
		Host: options.Host,
		Port: options.Port,
		Log:  log.Named("transport"),
	})

	s.tcp.OnMessage = func(session *transport.Session, payload []byte) {
		s.router.Dispatch(session, payload)
	}

	// A vanished connection must not leave a stale authenticated
	// binding behind.
	s.tcp.OnSessionClosed = func(session *transport.Session, reason int) {
		s.sessions.Unbind(session.ID())
	}

	s.router.Handle("login.req", s.onLoginReq)
	s.router.Handle("logout.req", s.onLogoutReq)
	s.router.Handle("info.req", s.onInfoReq)
	s.router.Handle("transfer.req", s.onTransferReq)

	// shop
	s.router.Handle("shop.list.req", s.onShopListReq)
	s.router.Handle("shop.buy.req", s.onShopBuyReq)

	// market
	s.router.Handle("market.register.req", s.onMarketRegisterReq)
	s.router.Handle("market.unregister.req", s.onMarketUnregisterReq)
	s.router.Handle("market.list.req", s.onMarketListReq)
	s.router.Handle("market.buy.req", s.onMarketBuyReq)

	s.router.Handle("ping", s.onPing)
	s.router.Handle("pong", s.onPong)

	return s
}

func (s *Server) Start(ctx context.Context) error {
	s.ctx = ctx
	return s.tcp.Start(ctx)
}

func (s *Server) Close() error {
	return s.tcp.Close()
}

// Addr is the bound TCP listen address.
func (s *Server) Addr() string {
	return s.tcp.Addr()
}

// Connections is a point-in-time snapshot of the live transport
// sessions.
func (s *Server) Connections() []*transport.Session {
	return s.tcp.Sessions()
}

// PingAll sends a keepalive ping to every connected client. Clients
// echo the timestamp back in a pong and the round trip is logged.
func (s *Server) PingAll() error {
	ping := protocol.New("ping").With("timestamp", time.Now().UnixMilli())

	data, err := ping.Encode()
	if err != nil {
		return err
	}

	return s.tcp.Broadcast(data)
}

func (s *Server) replyError(conn protocol.Conn, message string) {
	if err := protocol.Reply(conn, protocol.New("error").With("message", message)); err != nil {
		s.log.Debug("Failed to write error response", zap.Error(err))
	}
}

func (s *Server) reply(conn protocol.Conn, msg *protocol.Message) {
	if err := protocol.Reply(conn, msg); err != nil {
		// The transport may have closed while the response was being
		// produced; there is nobody left to answer.
		s.log.Debug("Failed to write response",
			zap.String("id", msg.ID()),
			zap.Error(err))
	}
}

// authorize resolves the session code carried by a request and
// verifies it belongs to the very connection the request arrived on.
// Both checks have to pass: a code that resolves fine but was issued
// to another connection is a replay and is rejected.
func (s *Server) authorize(conn protocol.Conn, msg *protocol.Message) (string, bool) {
	scode := msg.String("session")

	uid, ok := s.sessions.Resolve(scode)
	if !ok || scode != conn.ID() {
		s.replyError(conn, ErrUnknownSession.Error())
		return "", false
	}

	return uid, true
}

func (s *Server) onLoginReq(conn protocol.Conn, msg *protocol.Message) {
	uid := msg.String("uid")
	passcode := msg.String("passcode")

	if _, err := s.db.Users.Authenticate(s.ctx, uid, passcode); err != nil {
		s.replyError(conn, errorText(err))
		return
	}

	// The transport session id doubles as the session code.
	scode := conn.ID()
	s.sessions.Bind(scode, uid)

	s.log.Info("User logged in",
		zap.String("uid", uid),
		zap.String("remote", conn.Remote()))

	s.reply(conn, protocol.New("login.res").
		With("scode", scode).
		With("address", s.wallet.UserAddress(uid)).
		With("rpcUrl", s.rpcURL))
}

func (s *Server) onLogoutReq(conn protocol.Conn, msg *protocol.Message) {
	if _, ok := s.authorize(conn, msg); !ok {
		return
	}

	s.sessions.Unbind(msg.String("session"))
	s.reply(conn, protocol.New("logout.res"))
}

func (s *Server) onInfoReq(conn protocol.Conn, msg *protocol.Message) {
	uid, ok := s.authorize(conn, msg)
	if !ok {
		return
	}

	user, err := s.db.Users.Select(s.ctx, uid)
	if err != nil {
		s.replyError(conn, errorText(err))
		return
	}

	// Balance and nonce come from the ledger, so run off the
	// dispatch path.
	go func() {
		address := s.wallet.UserAddress(uid)

		balance, err := s.ledger.Balance(s.ctx, address)
		if err != nil {
			s.replyError(conn, "ledger unavailable")
			return
		}

		nonce, err := s.ledger.Nonce(s.ctx, address)
		if err != nil {
			s.replyError(conn, "ledger unavailable")
			return
		}

		inventory, err := s.db.Inventories.Select(s.ctx, uid)
		if err != nil {
			s.replyError(conn, errorText(err))
			return
		}

		owned := make([]interface{}, 0, len(inventory))
		for _, code := range inventory {
			item, err := s.db.Items.Select(s.ctx, code)
			if err != nil {
				continue
			}
			owned = append(owned, item.Envelope())
		}

		info := protocol.NewMap().
			With("uid", uid).
			With("rdate", user.RegisterDate).
			With("address", address).
			With("balance", ledger.ToCoin(balance)).
			With("nonce", nonce).
			With("inventory", owned)

		s.reply(conn, protocol.New("info.res").With("info", info))
	}()
}

func (s *Server) onTransferReq(conn protocol.Conn, msg *protocol.Message) {
	uid, ok := s.authorize(conn, msg)
	if !ok {
		return
	}

	to := s.wallet.UserAddress(msg.String("to"))
	value := msg.Decimal("value")

	go func() {
		txid, err := s.ledger.Transfer(s.ctx, s.wallet.UserKey(uid), to, ledger.ToBeryl(value), 0)
		if err != nil || txid == "" {
			s.replyError(conn, ErrTxNotFound.Error())
			return
		}

		s.reply(conn, protocol.New("transfer.res").With("txid", txid))
	}()
}

func (s *Server) onShopListReq(conn protocol.Conn, msg *protocol.Message) {
	if _, ok := s.authorize(conn, msg); !ok {
		return
	}

	items, err := s.db.Items.All(s.ctx)
	if err != nil {
		s.replyError(conn, errorText(err))
		return
	}

	catalog := make([]interface{}, 0, len(items))
	for _, item := range items {
		catalog = append(catalog, item.Envelope())
	}

	s.reply(conn, protocol.New("shop.list.res").With("items", catalog))
}

func (s *Server) onShopBuyReq(conn protocol.Conn, msg *protocol.Message) {
	uid, ok := s.authorize(conn, msg)
	if !ok {
		return
	}

	itemcode := msg.String("itemcode")

	go func() {
		item, err := s.economy.ShopBuy(s.ctx, uid, itemcode)
		if err != nil {
			s.replyError(conn, errorText(err))
			return
		}

		s.reply(conn, protocol.New("shop.buy.res").With("item", item.Envelope()))
	}()
}

func (s *Server) onMarketRegisterReq(conn protocol.Conn, msg *protocol.Message) {
	uid, ok := s.authorize(conn, msg)
	if !ok {
		return
	}

	order, err := s.economy.Register(s.ctx, uid, msg.String("itemcode"), msg.Decimal("price"))
	if err != nil {
		s.replyError(conn, errorText(err))
		return
	}

	s.reply(conn, protocol.New("market.register.res").With("order", order))
}

func (s *Server) onMarketUnregisterReq(conn protocol.Conn, msg *protocol.Message) {
	uid, ok := s.authorize(conn, msg)
	if !ok {
		return
	}

	listing, err := s.economy.Unregister(s.ctx, uid, msg.String("order"))
	if err != nil {
		s.replyError(conn, errorText(err))
		return
	}

	s.reply(conn, protocol.New("market.unregister.res").With("order", listing.Order))
}

func (s *Server) onMarketListReq(conn protocol.Conn, msg *protocol.Message) {
	if _, ok := s.authorize(conn, msg); !ok {
		return
	}

	listings, err := s.db.Market.All(s.ctx)
	if err != nil {
		s.replyError(conn, errorText(err))
		return
	}

	sales := make([]interface{}, 0, len(listings))
	for _, listing := range listings {
		sales = append(sales, listing.Envelope())
	}

	s.reply(conn, protocol.New("market.list.res").With("sales", sales))
}

func (s *Server) onMarketBuyReq(conn protocol.Conn, msg *protocol.Message) {
	uid, ok := s.authorize(conn, msg)
	if !ok {
		return
	}

	order := msg.String("order")

	// The settlement includes a bounded wait for ledger confirmation,
	// which may take seconds. It must not hold the dispatch path
	// open; the response is written whenever the chain completes.
	go func() {
		listing, err := s.economy.Buy(s.ctx, uid, order)
		if err != nil {
			s.replyError(conn, errorText(err))
			return
		}

		s.reply(conn, protocol.New("market.buy.res").
			With("itemname", listing.ItemName).
			With("price", listing.Price))
	}()
}

func (s *Server) onPing(conn protocol.Conn, msg *protocol.Message) {
	s.reply(conn, protocol.New("pong").With("timestamp", msg.Int("timestamp")))
}

func (s *Server) onPong(conn protocol.Conn, msg *protocol.Message) {
	travel := time.Now().UnixMilli() - msg.Int("timestamp")

	s.log.Debug("Pong received",
		zap.String("remote", conn.Remote()),
		zap.Int64("travelMs", travel))
}
