package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/AlexKimmel/tgbot/internal/auth"
	"github.com/AlexKimmel/tgbot/internal/dispatch"
	"github.com/AlexKimmel/tgbot/internal/middleware"
	"github.com/AlexKimmel/tgbot/internal/routing"
)

const helpText = `Available commands:
/start - greeting
/help - this message`

type Handlers struct {
	sender Sender
}

func NewHandlers(s Sender) *Handlers {
	return &Handlers{sender: s}
}

// Routes returns the bot's routes; plain text goes to echo.
func (h *Handlers) Routes() []*routing.Route {
	return []*routing.Route{
		{ID: "start", Command: "start", RateLimit: &routing.RateLimit{}, Handler: dispatch.HandlerFunc(h.Start)},
		{ID: "help", Command: "help", Handler: dispatch.HandlerFunc(h.Help)},
		{ID: "admin", Command: "admin", AdminOnly: true, Handler: dispatch.HandlerFunc(h.Admin)},
		{ID: "echo", RateLimit: &routing.RateLimit{Key: "echo"}, Handler: dispatch.HandlerFunc(h.Echo)},
	}
}

func (h *Handlers) Start(ctx context.Context, ev *dispatch.Event) error {
	name := ""
	if u, ok := middleware.UserFrom(ctx); ok {
		name = u.FullName
	} else if from := ev.Sender(); from != nil {
		name = strings.TrimSpace(from.FirstName + " " + from.LastName)
	}
	if name == "" {
		name = "there"
	}
	return h.sender.Send(ctx, ev.ChatID(), fmt.Sprintf("Hello, %s!", name))
}

func (h *Handlers) Help(ctx context.Context, ev *dispatch.Event) error {
	text := helpText
	if auth.IsAdminFrom(ctx) {
		text += "\n/admin - admin panel"
	}
	return h.sender.Send(ctx, ev.ChatID(), text)
}

func (h *Handlers) Admin(ctx context.Context, ev *dispatch.Event) error {
	text := "Hello, admin!"
	if cfg, ok := middleware.ConfigFrom(ctx); ok {
		var names []string
		for _, p := range cfg.Throttling.RatePolicies() {
			names = append(names, fmt.Sprintf("%s (%s, %d)", p.Name, p.Window, p.Capacity))
		}
		text += "\nThrottling policies: " + strings.Join(names, ", ")
	}
	return h.sender.Send(ctx, ev.ChatID(), text)
}

func (h *Handlers) Echo(ctx context.Context, ev *dispatch.Event) error {
	return h.sender.Send(ctx, ev.ChatID(), ev.Text())
}
