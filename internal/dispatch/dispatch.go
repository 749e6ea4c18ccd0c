// Package dispatch holds the update pipeline primitives: an Event wrapping
// one Telegram update, handlers and the middleware chain around them.
package dispatch

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Event struct {
	Update tgbotapi.Update
}

func NewEvent(upd tgbotapi.Update) *Event {
	return &Event{Update: upd}
}

// Message returns the message the update carries, including the message a
// callback query is attached to.
func (e *Event) Message() *tgbotapi.Message {
	switch {
	case e.Update.Message != nil:
		return e.Update.Message
	case e.Update.EditedMessage != nil:
		return e.Update.EditedMessage
	case e.Update.CallbackQuery != nil:
		return e.Update.CallbackQuery.Message
	}
	return nil
}

// ChatID is the id the event is throttled and answered by; 0 if none.
func (e *Event) ChatID() int64 {
	if m := e.Message(); m != nil && m.Chat != nil {
		return m.Chat.ID
	}
	return 0
}

// Sender returns the user that caused the update, if any.
func (e *Event) Sender() *tgbotapi.User {
	if e.Update.CallbackQuery != nil {
		return e.Update.CallbackQuery.From
	}
	if m := e.Message(); m != nil {
		return m.From
	}
	return nil
}

func (e *Event) Text() string {
	if m := e.Message(); m != nil {
		return m.Text
	}
	return ""
}

type Handler interface {
	Handle(ctx context.Context, ev *Event) error
}

type HandlerFunc func(ctx context.Context, ev *Event) error

func (f HandlerFunc) Handle(ctx context.Context, ev *Event) error { return f(ctx, ev) }

type Middleware func(next Handler) Handler

// Chain wraps h so that mws[0] runs first.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Outcomes recorded for an update that ended without error.
const (
	OutcomeOK        = "ok"
	OutcomeThrottled = "throttled"
	OutcomeDropped   = "dropped"
)

type outcomeKey struct{}

// Outcome is written by middlewares that stop an update early and read by
// whoever installed it with WithOutcome.
type Outcome struct {
	value string
}

func (o *Outcome) Value() string {
	if o.value == "" {
		return OutcomeOK
	}
	return o.value
}

func WithOutcome(ctx context.Context) (context.Context, *Outcome) {
	o := &Outcome{}
	return context.WithValue(ctx, outcomeKey{}, o), o
}

// SetOutcome records how the update ended; a no-op without WithOutcome.
func SetOutcome(ctx context.Context, outcome string) {
	if o, ok := ctx.Value(outcomeKey{}).(*Outcome); ok {
		o.value = outcome
	}
}
