package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/suPer8Hu/chatvault/internal/ai"
	"github.com/suPer8Hu/chatvault/internal/auth"
	"github.com/suPer8Hu/chatvault/internal/chat"
	"github.com/suPer8Hu/chatvault/internal/config"
	"github.com/suPer8Hu/chatvault/internal/db"
	"github.com/suPer8Hu/chatvault/internal/events"
	"github.com/suPer8Hu/chatvault/internal/httpapi"
	"github.com/suPer8Hu/chatvault/internal/httpapi/handlers"
	"github.com/suPer8Hu/chatvault/internal/logger"
	"github.com/suPer8Hu/chatvault/internal/metrics"
	"github.com/suPer8Hu/chatvault/internal/search"
	"github.com/suPer8Hu/chatvault/internal/store/rabbitmq"
	"github.com/suPer8Hu/chatvault/internal/store/redisstore"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		addr       = pflag.String("addr", "", "listen address (overrides HTTP_ADDR)")
		dsn        = pflag.String("db", "", "database DSN (overrides DB_DSN)")
		envFile    = pflag.String("env-file", ".env", "dotenv file to load before reading the environment")
		issueToken = pflag.String("issue-token", "", "print a bearer token for this subject and exit")
		tokenTTL   = pflag.Duration("token-ttl", 30*24*time.Hour, "lifetime of --issue-token tokens")
	)
	pflag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	if *dsn != "" {
		cfg.DBDSN = *dsn
	}

	if *issueToken != "" {
		tok, err := auth.Sign(cfg.APISecret, *issueToken, *tokenTTL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(tok)
		return
	}

	l := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger.Init(l)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	l := log.Logger

	gdb, err := db.Connect(cfg.DBDSN, logger.Component(l, "db"))
	if err != nil {
		return err
	}
	repo := chat.NewRepo(gdb)
	if err := repo.Migrate(ctx); err != nil {
		return err
	}

	reg := ai.NewRegistry()
	closeProviders, err := ai.RegisterDefaults(ctx, reg, ai.Settings{
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OllamaBaseURL: cfg.OllamaBaseURL,
		GeminiAPIKey:  cfg.GeminiAPIKey,
		DefaultModel:  cfg.DefaultModel,
	})
	if err != nil {
		return err
	}
	defer closeProviders()

	m := metrics.New()
	bus := events.NewBus(0, logger.Component(l, "events"))
	chatLog := logger.Component(l, "chat")

	opts := []chat.Option{
		chat.WithDefaults(cfg.AIProvider, cfg.DefaultModel),
		chat.WithBudgets(chat.BudgetPolicy{
			Maximum:            cfg.ContextMaxTokens,
			Reserve:            cfg.ContextReserveTokens,
			ModelLimits:        cfg.ModelContextLimits,
			CountSystemMessage: cfg.CountSystemMessage,
		}),
		chat.WithEmitter(bus),
		chat.WithObserver(m),
		chat.WithLogger(chatLog),
	}

	if cfg.RedisAddr != "" {
		rds, err := redisstore.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rds.Close()
		opts = append(opts, chat.WithGuard(redisstore.NewGuard(rds, cfg.FlightTTL)), chat.WithSharedStore())
		l.Info().Str("addr", cfg.RedisAddr).Msg("using redis flight guard")
	}

	var (
		inline *chat.InlineTitles
		relay  func(context.Context) error
	)
	switch cfg.TitleGeneration {
	case config.TitleInline:
		inline = chat.NewInlineTitles(chat.NewTitler(repo, reg, bus, m, chatLog), time.Minute)
		opts = append(opts, chat.WithTitles(inline))
	case config.TitleQueue:
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			return fmt.Errorf("rabbit publisher: %w", err)
		}
		defer pub.Close()
		opts = append(opts, chat.WithTitles(pub))
		relay = func(ctx context.Context) error {
			return pub.ConsumeEvents(ctx, bus, logger.Component(l, "events"))
		}
	}

	counter := ai.NewTiktokenCounter()
	counter.Preload(cfg.DefaultModel)
	svc := chat.NewService(repo, reg, counter, opts...)
	if err := svc.Load(ctx); err != nil {
		return err
	}

	h := handlers.NewHandler(svc, search.NewEngine(logger.Component(l, "search")), bus, m, logger.Component(l, "http"))
	router := httpapi.NewRouter(h, httpapi.Options{APISecret: cfg.APISecret, Metrics: m, Log: logger.Component(l, "http")})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// event streams end when the process is asked to stop
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		l.Info().
			Str("addr", cfg.HTTPAddr).
			Str("provider", cfg.AIProvider).
			Str("titles", string(cfg.TitleGeneration)).
			Bool("auth", cfg.APISecret != "").
			Msg("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if relay != nil {
		g.Go(func() error {
			if err := relay(gctx); err != nil {
				return fmt.Errorf("title event relay: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		l.Info().Msg("server shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err = g.Wait()
	if inline != nil {
		inline.Wait()
	}
	return err
}
