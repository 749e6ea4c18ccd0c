package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/AlexKimmel/tgbot/internal/dispatch"
	"github.com/AlexKimmel/tgbot/internal/ratelimit"
	"github.com/AlexKimmel/tgbot/internal/routing"
)

// Throttle admits at most one update per chat per policy window on routes
// that carry a RateLimit flag. Suppressed updates end here without a reply.
// When the limiter fails, failOpen decides whether the update goes through.
func Throttle(
	lim ratelimit.Limiter,
	failOpen bool,
	onLimited func(policy string),
	onError func(policy string),
) dispatch.Middleware {
	return throttle(lim, failOpen, onLimited, onError, time.Now)
}

func throttle(
	lim ratelimit.Limiter,
	failOpen bool,
	onLimited func(policy string),
	onError func(policy string),
	now func() time.Time,
) dispatch.Middleware {
	return func(next dispatch.Handler) dispatch.Handler {
		return dispatch.HandlerFunc(func(ctx context.Context, ev *dispatch.Event) error {
			rt, ok := routing.RouteFrom(ctx)
			if !ok || rt.RateLimit == nil {
				return next.Handle(ctx, ev)
			}

			policy := rt.RateLimit.Key
			if policy == "" {
				policy = ratelimit.DefaultPolicy
			}
			subject := strconv.FormatInt(ev.ChatID(), 10)

			dec, err := lim.Allow(ctx, policy, subject, now())
			if err != nil {
				if onError != nil {
					onError(policy)
				}
				lvl := zerolog.ErrorLevel
				if failOpen {
					lvl = zerolog.WarnLevel
				}
				zerolog.Ctx(ctx).WithLevel(lvl).Err(err).
					Str("policy", policy).
					Bool("fail_open", failOpen).
					Msg("rate limiter error")
				if failOpen {
					return next.Handle(ctx, ev)
				}
				dispatch.SetOutcome(ctx, dispatch.OutcomeDropped)
				return nil
			}

			if !dec.Allowed {
				if onLimited != nil {
					onLimited(dec.Policy)
				}
				dispatch.SetOutcome(ctx, dispatch.OutcomeThrottled)
				zerolog.Ctx(ctx).Debug().
					Str("policy", dec.Policy).
					Str("chat", subject).
					Time("until", dec.ExpiresAt).
					Msg("throttled")
				return nil
			}

			return next.Handle(ctx, ev)
		})
	}
}
