package env

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	// GameSeed is the master seed user ledger identities derive from.
	GameSeed string `env:"ARCADE_GAME_SEED,default=arcade-dev-seed"`

	// Commission is the market commission rate, e.g. "0.05".
	Commission string `env:"ARCADE_COMMISSION,default=0.05"`

	// ShopAddress receives shop purchase payments. Empty derives one
	// from the game seed.
	ShopAddress string `env:"ARCADE_SHOP_ADDRESS"`

	// LedgerURL points at a ledger node's JSON-RPC endpoint. Empty
	// runs against the in-process dev ledger.
	LedgerURL string `env:"ARCADE_LEDGER_URL"`

	// RPCURL is the ledger endpoint advertised to clients on login.
	RPCURL string `env:"ARCADE_RPC_URL"`

	// ReceiptTimeoutSec bounds the market-buy confirmation wait.
	ReceiptTimeoutSec int `env:"ARCADE_RECEIPT_TIMEOUT,default=30"`

	DebugHTTP bool `env:"ARCADE_DEBUG_HTTP"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			panic(err)
		}
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	return &config, nil
}
