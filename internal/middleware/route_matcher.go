package middleware

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/AlexKimmel/tgbot/internal/dispatch"
	"github.com/AlexKimmel/tgbot/internal/routing"
)

// RouteMatcher stores the matched route in the context. Updates no route
// wants are dropped.
func RouteMatcher(rr *routing.Router) dispatch.Middleware {
	return func(next dispatch.Handler) dispatch.Handler {
		return dispatch.HandlerFunc(func(ctx context.Context, ev *dispatch.Event) error {
			rt, ok := rr.Match(ev)
			if !ok {
				zerolog.Ctx(ctx).Debug().
					Int("update_id", ev.Update.UpdateID).
					Msg("no matching route")
				return nil
			}
			return next.Handle(routing.WithRoute(ctx, rt), ev)
		})
	}
}
