package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/AlexKimmel/tgbot/internal/dispatch"
	"github.com/AlexKimmel/tgbot/internal/obs"
)

// UpdateSource is the long-polling half of *tgbotapi.BotAPI.
type UpdateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type PollerConfig struct {
	Workers int // updates handled concurrently
	Timeout int // long-poll timeout in seconds
}

type Poller struct {
	src     UpdateSource
	handler dispatch.Handler
	logger  zerolog.Logger
	cfg     PollerConfig
}

func NewPoller(src UpdateSource, h dispatch.Handler, logger zerolog.Logger, cfg PollerConfig) *Poller {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30
	}
	return &Poller{src: src, handler: h, logger: logger, cfg: cfg}
}

// Run receives updates until ctx is done or the source closes, handling at
// most Workers updates at a time. Handler errors are logged, not returned.
func (p *Poller) Run(ctx context.Context) error {
	uc := tgbotapi.NewUpdate(0)
	uc.Timeout = p.cfg.Timeout
	updates := p.src.GetUpdatesChan(uc)
	defer p.src.StopReceivingUpdates()

	var g errgroup.Group
	g.SetLimit(p.cfg.Workers)

	p.logger.Info().Int("workers", p.cfg.Workers).Msg("polling for updates")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("polling stopped")
			return g.Wait()
		case upd, ok := <-updates:
			if !ok {
				p.logger.Info().Msg("update channel closed")
				return g.Wait()
			}
			ev := dispatch.NewEvent(upd)
			g.Go(func() error {
				p.handle(ctx, ev)
				return nil
			})
		}
	}
}

func (p *Poller) handle(ctx context.Context, ev *dispatch.Event) {
	logger := obs.UpdateLogger(p.logger, ev)
	ctx = logger.WithContext(ctx)

	if err := p.handler.Handle(ctx, ev); err != nil {
		logger.Error().Err(err).Msg("update handling failed")
	}
}
