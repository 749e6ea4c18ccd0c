package routing

import (
	"context"
	"fmt"
	"strings"

	"github.com/AlexKimmel/tgbot/internal/dispatch"
)

// RateLimit marks a route as throttled under the named policy.
// An empty Key means the default policy.
type RateLimit struct {
	Key string
}

type Route struct {
	ID        string
	Command   string // without the slash; "" matches any non-command text
	AdminOnly bool
	RateLimit *RateLimit
	Handler   dispatch.Handler
}

type Router struct {
	routes []*Route
}

func New() *Router {
	return &Router{}
}

func (r *Router) Add(rt *Route) {
	rt.Command = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(rt.Command), "/"))
	r.routes = append(r.routes, rt)
}

func (r *Router) Routes() []*Route {
	return r.routes
}

// Match picks the first route for the event. Commands match by name
// (case-insensitive, "@botname" suffix ignored); plain text matches the
// first catch-all route.
func (r *Router) Match(ev *dispatch.Event) (*Route, bool) {
	msg := ev.Message()
	if msg == nil {
		return nil, false
	}

	if msg.IsCommand() {
		cmd := strings.ToLower(msg.Command())
		for _, rt := range r.routes {
			if rt.Command != "" && rt.Command == cmd {
				return rt, true
			}
		}
		return nil, false
	}

	if msg.Text == "" {
		return nil, false
	}
	for _, rt := range r.routes {
		if rt.Command == "" {
			return rt, true
		}
	}
	return nil, false
}

// Handler runs the handler of the route stored in the context.
func Handler() dispatch.Handler {
	return dispatch.HandlerFunc(func(ctx context.Context, ev *dispatch.Event) error {
		rt, ok := RouteFrom(ctx)
		if !ok || rt.Handler == nil {
			return fmt.Errorf("no route in context for update %d", ev.Update.UpdateID)
		}
		return rt.Handler.Handle(ctx, ev)
	})
}

// --- context helpers ---
type ctxKey int

const keyRoute ctxKey = 0

func WithRoute(ctx context.Context, rt *Route) context.Context {
	return context.WithValue(ctx, keyRoute, rt)
}

func RouteFrom(ctx context.Context) (*Route, bool) {
	v := ctx.Value(keyRoute)
	if v == nil {
		return nil, false
	}
	rt, ok := v.(*Route)
	return rt, ok && rt != nil
}
