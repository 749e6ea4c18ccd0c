package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/AlexKimmel/tgbot/internal/auth"
	"github.com/AlexKimmel/tgbot/internal/bot"
	"github.com/AlexKimmel/tgbot/internal/config"
	"github.com/AlexKimmel/tgbot/internal/database"
	_ "github.com/AlexKimmel/tgbot/internal/database/migrations"
	"github.com/AlexKimmel/tgbot/internal/database/repo"
	"github.com/AlexKimmel/tgbot/internal/dispatch"
	"github.com/AlexKimmel/tgbot/internal/middleware"
	"github.com/AlexKimmel/tgbot/internal/obs"
	"github.com/AlexKimmel/tgbot/internal/ratelimit"
	"github.com/AlexKimmel/tgbot/internal/ratelimit/memory"
	"github.com/AlexKimmel/tgbot/internal/ratelimit/redisstore"
	"github.com/AlexKimmel/tgbot/internal/routing"
)

const (
	version     = "v0.1.0"
	pollTimeout = 30 // seconds
)

func main() {
	envFile := flag.String("env", "", "path to the .env file (default ./.env, optional)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	logger := obs.SetupLogger(cfg.Observability.LogLevel)
	logger.Info().Str("version", version).Msg("starting bot")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("bot stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("bye")
}

func run(ctx context.Context, cfg *config.Root, logger zerolog.Logger) error {
	db, err := database.NewDB(ctx, logger, cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	lim, err := newLimiter(cfg, logger)
	if err != nil {
		return err
	}
	defer lim.Close()

	api, err := tgbotapi.NewBotAPIWithClient(cfg.TgBot.Token.Value(), tgbotapi.APIEndpoint,
		bot.NewHTTPClient(pollTimeout*time.Second))
	if err != nil {
		return err
	}
	logger.Info().Str("username", api.Self.UserName).Msg("authorized on telegram")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := obs.NewMetrics(reg)

	rr := routing.New()
	for _, rt := range bot.NewHandlers(bot.NewSender(api, cfg.TgBot.SendRate)).Routes() {
		rr.Add(rt)
	}

	pipeline := dispatch.Chain(routing.Handler(),
		middleware.Recover(),
		middleware.RouteMatcher(rr),
		metrics.Middleware(),
		middleware.Config(cfg),
		middleware.Throttle(lim, cfg.Throttling.FailOpen, metrics.OnThrottled, metrics.OnLimiterError),
		middleware.Users(repo.NewUserRepo(db.DB)),
		auth.NewStatic(cfg.TgBot.AdminIDs).Middleware(),
	)

	poller := bot.NewPoller(api, pipeline, logger, bot.PollerConfig{Workers: cfg.TgBot.Workers, Timeout: pollTimeout})
	srv := &http.Server{
		Addr:              cfg.Observability.OpsAddr,
		Handler:           obs.Logger(logger)(opsMux(reg)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("ops server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return poller.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("graceful shutdown failed")
		}
		return nil
	})
	return g.Wait()
}

// newLimiter builds the configured limiter and registers every policy.
func newLimiter(cfg *config.Root, logger zerolog.Logger) (ratelimit.Limiter, error) {
	var lim ratelimit.Limiter
	if cfg.TgBot.UseRedis {
		rl, err := redisstore.New(redisstore.Config{URL: cfg.Redis.DSN()}, logger)
		if err != nil {
			return nil, err
		}
		lim = rl
	} else {
		lim = memory.New()
	}

	for _, p := range cfg.Throttling.RatePolicies() {
		if err := lim.Register(p); err != nil {
			_ = lim.Close()
			return nil, err
		}
		logger.Info().
			Str("policy", p.Name).
			Dur("window", p.Window).
			Int("capacity", p.Capacity).
			Bool("redis", cfg.TgBot.UseRedis).
			Msg("registered throttling policy")
	}
	return lim, nil
}

func opsMux(reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(version))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}
