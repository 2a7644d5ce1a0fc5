package slackwebhook

import (
	"log/slog"

	"github.com/flowrelay/flowrelay/internal/config"
	"github.com/flowrelay/flowrelay/internal/port/transport"
)

func init() {
	transport.Register(modeName, func(cfg *config.Config, log *slog.Logger) (transport.Transport, error) {
		return New(cfg, log)
	})
}
