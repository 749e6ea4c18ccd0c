package obs

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/AlexKimmel/tgbot/internal/dispatch"
)

func SetupLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	return zerolog.New(os.Stdout).With().Timestamp().Logger().Level(lvl)
}

// UpdateLogger derives the per-update logger attached to the pipeline context.
func UpdateLogger(base zerolog.Logger, ev *dispatch.Event) zerolog.Logger {
	lc := base.With().Int("update_id", ev.Update.UpdateID)
	if id := ev.ChatID(); id != 0 {
		lc = lc.Int64("chat_id", id)
	}
	if u := ev.Sender(); u != nil {
		lc = lc.Int64("user_id", u.ID)
	}
	return lc.Logger()
}

// Logger is the access log middleware for the ops HTTP server.
func Logger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return hlog.NewHandler(logger)(
			hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
				lvl := zerolog.InfoLevel
				if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
					lvl = zerolog.DebugLevel
				}
				hlog.FromRequest(r).WithLevel(lvl).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("remote", r.RemoteAddr).
					Int("status", status).
					Int("size", size).
					Dur("dur", duration).
					Msg("req")
			})(
				hlog.UserAgentHandler("ua")(
					hlog.RequestIDHandler("req_id", "X-Request-ID")(next),
				),
			),
		)
	}
}
