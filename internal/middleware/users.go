package middleware

import (
	"context"
	"strings"

	"github.com/AlexKimmel/tgbot/internal/database/models"
	"github.com/AlexKimmel/tgbot/internal/database/repo"
	"github.com/AlexKimmel/tgbot/internal/dispatch"
)

type UserStore interface {
	GetOrCreateUser(ctx context.Context, p repo.UserParams) (*models.User, error)
}

// Users upserts the sender of every update and stores the row in the
// context. Updates without a sender pass through untouched.
func Users(store UserStore) dispatch.Middleware {
	return func(next dispatch.Handler) dispatch.Handler {
		return dispatch.HandlerFunc(func(ctx context.Context, ev *dispatch.Event) error {
			from := ev.Sender()
			if from == nil {
				return next.Handle(ctx, ev)
			}

			params := repo.UserParams{
				UserID:   from.ID,
				FullName: strings.TrimSpace(from.FirstName + " " + from.LastName),
				Language: from.LanguageCode,
			}
			if params.Language == "" {
				params.Language = "en"
			}
			if from.UserName != "" {
				name := from.UserName
				params.Username = &name
			}

			user, err := store.GetOrCreateUser(ctx, params)
			if err != nil {
				return err
			}
			return next.Handle(WithUser(ctx, user), ev)
		})
	}
}

func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, keyUser, u)
}

func UserFrom(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(keyUser).(*models.User)
	return u, ok && u != nil
}
