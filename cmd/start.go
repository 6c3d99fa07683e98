package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/arcade/game"
	"github.com/luma/arcade/internal/env"
	"github.com/luma/arcade/ledger"
	"github.com/luma/arcade/storage"
)

var (
	// The host to listen on
	host string

	// The port to listen for admin http requests on
	httpPort string

	// The port to listen for game clients on
	port int
)

func init() {
	flags := StartCmd.PersistentFlags()

	flags.IntVarP(&port, "port", "p", 7760, "The port to listen for game client connections on")
	flags.StringVar(&httpPort, "http-port", "7761", "The port to listen to admin HTTP requests on")
	flags.StringVarP(&host, "host", "a", "0.0.0.0", "The host to listen on")
}

var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start up the Arcade game service",
	Long: `Start up the Arcade game service

Usage
	arcade start

`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
		defer signalStop()

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		log, err := env.MakeLogger(conf.DebugHTTP)
		if err != nil {
			return err
		}

		fileLimit, err := setFileLimit()
		if err != nil {
			return err
		}

		log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

		commission, err := decimal.NewFromString(conf.Commission)
		if err != nil {
			return err
		}

		wallet := ledger.NewWallet(conf.GameSeed)

		shopAddress := conf.ShopAddress
		if shopAddress == "" {
			shopAddress = wallet.UserAddress("@shop")
		}

		var (
			ledgerClient ledger.Client
			devLedger    *ledger.DevLedger
		)

		if conf.LedgerURL != "" {
			ledgerClient = ledger.NewRPCClient(conf.LedgerURL, log.Named("ledger"))
		} else {
			log.Warn("No ledger url configured, settling against the in-process dev ledger")
			devLedger = ledger.NewDevLedger()
			ledgerClient = devLedger
		}

		db, err := game.NewGameDB(ctx,
			storage.NewInmemoryStore(),
			storage.NewInmemoryStore(),
			storage.NewInmemoryStore(),
			storage.NewInmemoryStore(),
		)
		if err != nil {
			return err
		}

		gameServer := game.NewServer(game.Options{
			Host:           host,
			Port:           port,
			DB:             db,
			Ledger:         ledgerClient,
			Wallet:         wallet,
			ShopAddress:    shopAddress,
			CommissionRate: commission,
			ReceiptTimeout: time.Duration(conf.ReceiptTimeoutSec) * time.Second,
			RPCURL:         conf.RPCURL,
			Log:            log.Named("game"),
		})

		router := setupRouter(conf.DebugHTTP, log)

		admin := &adminAPI{
			server: gameServer,
			db:     db,
			wallet: wallet,
			dev:    devLedger,
			log:    log.Named("admin"),
		}
		admin.registerRoutes(router)

		s := &http.Server{
			Addr:    net.JoinHostPort(host, httpPort),
			Handler: router,
		}

		// Initializing the server in a goroutine so that
		// it won't block the graceful shutdown handling below
		go func() {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Http server errored", zap.Error(err))
			}
		}()

		if err := gameServer.Start(ctx); err != nil {
			return err
		}

		log.Info("Listening",
			zap.String("host", host),
			zap.String("gameAddr", gameServer.Addr()),
			zap.String("httpPort", httpPort))

		// Listen for the interrupt signal.
		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		// The context is used to inform the server it has 5 seconds to finish
		// the request it is currently handling
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.SetKeepAlivesEnabled(false)

		if err := s.Shutdown(shutdownCtx); err != nil {
			log.Error("Http server forced to shutdown", zap.Error(err))
		}

		if err := gameServer.Close(); err != nil {
			log.Error("Game server forced to shutdown", zap.Error(err))
		}

		if err := db.Close(); err != nil {
			log.Error("Game db did not close cleanly", zap.Error(err))
		}

		log.Info("Exiting")
		return nil
	},
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Add a ginzap middleware, which:
	//   - Logs all requests, like a combined access and error log.
	//   - Logs to stdout.
	//   - RFC3339 with UTC time format.
	r.Use(ginzap.Ginzap(log, time.RFC3339, true))

	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/health"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}

func setFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}
