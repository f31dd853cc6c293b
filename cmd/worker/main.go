package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/suPer8Hu/chatvault/internal/ai"
	"github.com/suPer8Hu/chatvault/internal/chat"
	"github.com/suPer8Hu/chatvault/internal/config"
	"github.com/suPer8Hu/chatvault/internal/db"
	"github.com/suPer8Hu/chatvault/internal/logger"
	"github.com/suPer8Hu/chatvault/internal/metrics"
	"github.com/suPer8Hu/chatvault/internal/store/rabbitmq"
)

// worker consumes title jobs published by the server in TITLE_GENERATION=queue mode.
func main() {
	var (
		envFile     = pflag.String("env-file", ".env", "dotenv file to load before reading the environment")
		concurrency = pflag.Int("concurrency", 0, "parallel jobs (overrides WORKER_CONCURRENCY)")
		maxAttempts = pflag.Int("max-attempts", 3, "deliveries before a job goes to the dead-letter queue")
		jobTimeout  = pflag.Duration("job-timeout", time.Minute, "deadline for one title job")
		metricsAddr = pflag.String("metrics-addr", ":9091", "address serving /metrics (empty disables)")
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
	if *concurrency > 0 {
		cfg.WorkerConcurrency = min(*concurrency, 50)
	}

	l := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger.Init(l)

	gdb, err := db.Connect(cfg.DBDSN, logger.Component(l, "db"))
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	repo := chat.NewRepo(gdb)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Provider registry (route by job.Provider + job.Model)
	reg := ai.NewRegistry()
	closeProviders, err := ai.RegisterDefaults(ctx, reg, ai.Settings{
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OllamaBaseURL: cfg.OllamaBaseURL,
		GeminiAPIKey:  cfg.GeminiAPIKey,
		DefaultModel:  cfg.DefaultModel,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("providers")
	}
	defer closeProviders()

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit publisher")
	}
	defer pub.Close()

	// title events reach the UI through the server's event stream
	events := rabbitmq.NewEventEmitter(pub, logger.Component(l, "events"))
	defer events.Close()

	m := metrics.New()
	if *metricsAddr != "" {
		serveMetrics(ctx, *metricsAddr, m, l)
	}
	titler := chat.NewTitler(repo, reg, events, m, logger.Component(l, "titles"))

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit dial")
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit channel")
	}
	defer ch.Close()

	if err := rabbitmq.DeclareQueues(ch, cfg.RabbitQueue); err != nil {
		log.Fatal().Err(err).Msg("queue declare")
	}

	//  strict concurrency control
	n := cfg.WorkerConcurrency
	if err := ch.Qos(n, 0, false); err != nil {
		log.Fatal().Err(err).Msg("qos")
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("consume")
	}

	l.Info().Str("queue", cfg.RabbitQueue).Int("concurrency", n).Msg("worker started")

	w := &worker{titler: titler, retry: pub, maxAttempts: *maxAttempts, timeout: *jobTimeout, log: l}

	// worker pool
	jobs := make(chan amqp.Delivery, n*2)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				w.handle(ctx, workerID, d)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			l.Info().Msg("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				l.Error().Msg("delivery channel closed")
				close(jobs)
				wg.Wait()
				return
			}
			jobs <- d
		}
	}
}

func newMetricsServer(addr string, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
}

func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, l zerolog.Logger) {
	srv := newMetricsServer(addr, m)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error().Err(err).Str("addr", addr).Msg("metrics server")
		}
	}()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
}

type retrier interface {
	Retry(ctx context.Context, body []byte, attempt int) error
}

type worker struct {
	titler      *chat.Titler
	retry       retrier
	maxAttempts int
	timeout     time.Duration
	log         zerolog.Logger
}

func (w *worker) handle(ctx context.Context, workerID int, d amqp.Delivery) {
	var job chat.TitleJob
	if err := json.Unmarshal(d.Body, &job); err != nil || job.Validate() != nil {
		w.log.Warn().Int("worker", workerID).Err(err).Msg("bad message")
		_ = d.Nack(false, false)
		return
	}
	attempt := rabbitmq.Attempt(d.Headers)
	jl := w.log.With().Int("worker", workerID).Str("job", job.ID).Int64("chat_id", job.ChatID).Int("attempt", attempt).Logger()

	start := time.Now()
	jctx, cancel := context.WithTimeout(ctx, w.timeout)
	title, err := w.titler.Generate(jctx, job)
	cancel()

	if err == nil {
		if err := d.Ack(false); err != nil {
			jl.Error().Err(err).Msg("ack failed")
		}
		jl.Info().Str("title", title).Dur("cost", time.Since(start)).Msg("title saved")
		return
	}

	if attempt < w.maxAttempts {
		rerr := w.retry.Retry(ctx, d.Body, attempt+1)
		if rerr == nil {
			_ = d.Ack(false)
			jl.Warn().Err(err).Dur("cost", time.Since(start)).Msg("title job failed, retry scheduled")
			return
		}
		jl.Error().Err(rerr).Msg("retry publish failed")
	}
	// dead-letter
	_ = d.Nack(false, false)
	jl.Error().Err(err).Dur("cost", time.Since(start)).Msg("title job failed")
}
