package transport

import (
	"go.uber.org/zap"
)

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on. Port 0 picks a free port; see Server.Addr.
	Port int

	Log *zap.Logger
}
