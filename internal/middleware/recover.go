package middleware

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/AlexKimmel/tgbot/internal/dispatch"
)

// Recover converts a handler panic into an error returned for the update.
func Recover() dispatch.Middleware {
	return func(next dispatch.Handler) dispatch.Handler {
		return dispatch.HandlerFunc(func(ctx context.Context, ev *dispatch.Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					zerolog.Ctx(ctx).Error().
						Interface("panic", r).
						Bytes("stack", debug.Stack()).
						Int("update_id", ev.Update.UpdateID).
						Msg("handler panic recovered")
					err = fmt.Errorf("panic handling update %d: %v", ev.Update.UpdateID, r)
				}
			}()
			return next.Handle(ctx, ev)
		})
	}
}
