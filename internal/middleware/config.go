package middleware

import (
	"context"

	"github.com/AlexKimmel/tgbot/internal/config"
	"github.com/AlexKimmel/tgbot/internal/dispatch"
)

type ctxKey int

const (
	keyConfig ctxKey = iota
	keyUser
)

// Config makes cfg available to every handler through ConfigFrom.
func Config(cfg *config.Root) dispatch.Middleware {
	return func(next dispatch.Handler) dispatch.Handler {
		return dispatch.HandlerFunc(func(ctx context.Context, ev *dispatch.Event) error {
			return next.Handle(WithConfig(ctx, cfg), ev)
		})
	}
}

func WithConfig(ctx context.Context, cfg *config.Root) context.Context {
	return context.WithValue(ctx, keyConfig, cfg)
}

func ConfigFrom(ctx context.Context) (*config.Root, bool) {
	cfg, ok := ctx.Value(keyConfig).(*config.Root)
	return cfg, ok && cfg != nil
}
