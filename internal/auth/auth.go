package auth

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/AlexKimmel/tgbot/internal/dispatch"
	"github.com/AlexKimmel/tgbot/internal/routing"
)

type ctxKey int

const keyAdmin ctxKey = 0

// Store is a static in-memory set of admin user ids.
type Store struct {
	admins map[int64]struct{}
}

// NewStatic creates a store from the configured admin ids.
func NewStatic(ids []int64) *Store {
	admins := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		admins[id] = struct{}{}
	}
	return &Store{admins: admins}
}

func (s *Store) IsAdmin(userID int64) bool {
	_, ok := s.admins[userID]
	return ok
}

// WithAdmin records in ctx whether the sender is an admin.
func WithAdmin(ctx context.Context, admin bool) context.Context {
	return context.WithValue(ctx, keyAdmin, admin)
}

// IsAdminFrom reports the flag stored by the middleware.
func IsAdminFrom(ctx context.Context) bool {
	v, _ := ctx.Value(keyAdmin).(bool)
	return v
}

// Middleware marks admins in the context and silently drops updates for
// admin-only routes sent by anyone else.
func (s *Store) Middleware() dispatch.Middleware {
	return func(next dispatch.Handler) dispatch.Handler {
		return dispatch.HandlerFunc(func(ctx context.Context, ev *dispatch.Event) error {
			admin := false
			if u := ev.Sender(); u != nil {
				admin = s.IsAdmin(u.ID)
			}
			ctx = WithAdmin(ctx, admin)

			if rt, ok := routing.RouteFrom(ctx); ok && rt.AdminOnly && !admin {
				zerolog.Ctx(ctx).Debug().Str("route", rt.ID).Msg("admin route denied")
				dispatch.SetOutcome(ctx, dispatch.OutcomeDropped)
				return nil
			}
			return next.Handle(ctx, ev)
		})
	}
}
