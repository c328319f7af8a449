package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"quiz-coordinator/internal/app"
	"quiz-coordinator/internal/auth"
	"quiz-coordinator/internal/config"
	"quiz-coordinator/internal/domain"
	"quiz-coordinator/internal/infra/memory"
	"quiz-coordinator/internal/infra/postgres"
	"quiz-coordinator/internal/infra/rabbitmq"
	redisstore "quiz-coordinator/internal/infra/redis"
	"quiz-coordinator/internal/metrics"
	transport "quiz-coordinator/internal/transport/http"
)

const (
	serviceName     = "quiz-coordinator"
	defaultPort     = "8080"
	shutdownTimeout = 10 * time.Second
)

// newStartCmd builds the CLI subcommand to start the server.
func newStartCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg, log)
		},
	}
}

// quizSource loads and saves authoritative quiz content.
type quizSource interface {
	memory.QuizLoader
	app.QuizWriter
}

func runServer(ctx context.Context, cfg config.Config, log *logrus.Entry) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg, log); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
	}

	var source quizSource = memory.NewQuizStore(sampleQuizzes())
	var results app.ResultStore = memory.NewResultStore()
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		source = postgres.NewQuizStore(pool)

		db := openBun(cfg.Postgres.URL)
		defer db.Close()
		results = postgres.NewResultStore(db)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var (
		quizzes  app.QuizCache
		locks    app.LockStore
		versions app.VersionStore
		rooms    app.RoomRepository
		purger   *memory.LockStore
	)
	if redisClient != nil {
		quizzes = redisstore.NewQuizRepository(redisClient, source, quizTTL)
		locks = redisstore.NewLockStore(redisClient)
		versions = redisstore.NewVersionStore(redisClient)
		rooms = redisstore.NewRoomStore(redisClient, config.TTLDuration(cfg.Redis.TTL, 2*time.Hour))
	} else {
		purger = memory.NewLockStore()
		quizzes = memory.NewQuizRepository(source, quizTTL)
		locks = purger
		versions = memory.NewVersionStore()
		rooms = memory.NewRoomStore()
	}

	var publisher app.ResultPublisher = app.NopPublisher()
	if cfg.RabbitMQ.URL != "" {
		p, err := rabbitmq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, log)
		if err != nil {
			log.WithError(err).Warn("rabbitmq unavailable, room results will not be published")
		} else {
			defer p.Close()
			publisher = p
		}
	}

	roomSvc := app.NewRoomService(rooms, quizzes,
		app.WithResultStore(results),
		app.WithPublisher(publisher),
		app.WithRoomPolicy(roomPolicy(cfg)),
		app.WithLogger(log),
		app.WithMetrics(m),
	)
	sessions := app.NewSessionService(locks, config.TTLDuration(cfg.Sessions.HeartbeatTimeout, app.DefaultHeartbeatTimeout), log, m)
	guard := app.NewVersionGuard(versions, m)
	quizSvc := app.NewQuizService(quizzes, source, guard, sessions, roomSvc, log)

	var parser *auth.Parser
	if cfg.Auth.JWTSecret != "" {
		parser = auth.NewParser(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience)
	} else {
		log.Warn("no jwt secret configured, trusting X-User-ID headers")
	}

	handler := transport.NewHandler(roomSvc, sessions, quizSvc, parser, log)
	wsHandler := transport.NewWSHandler(roomSvc, sessions, log, m)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           transport.NewRouter(handler, wsHandler, reg),
		ReadHeaderTimeout: 15 * time.Second,
	}

	sweepInterval := config.TTLDuration(cfg.Rooms.SweepInterval, time.Minute)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("port", cfg.Server.Port).Info("starting quiz coordinator")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return roomSvc.RunJanitor(gctx, sweepInterval)
	})
	if purger != nil {
		g.Go(func() error {
			return purgeLocks(gctx, purger, sweepInterval, log)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		roomSvc.Close(shutdownCtx)
		return err
	})
	return g.Wait()
}

func purgeLocks(ctx context.Context, store *memory.LockStore, interval time.Duration, log logrus.FieldLogger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := store.Purge(); n > 0 {
				log.WithField("purged", n).Debug("expired session locks purged")
			}
		}
	}
}

func roomPolicy(cfg config.Config) app.RoomPolicy {
	policy := app.DefaultRoomPolicy()
	if cfg.Rooms.DefaultMaxParticipants > 0 {
		policy.DefaultMaxParticipants = cfg.Rooms.DefaultMaxParticipants
	}
	policy.AutoEndGrace = config.TTLDuration(cfg.Rooms.AutoEndGrace, policy.AutoEndGrace)
	policy.IdleTimeout = config.TTLDuration(cfg.Rooms.IdleTimeout, policy.IdleTimeout)
	policy.CompletedRetention = config.TTLDuration(cfg.Rooms.CompletedRetention, policy.CompletedRetention)
	if cfg.Scoring.BasePoints > 0 {
		policy.Scoring.BasePoints = cfg.Scoring.BasePoints
	}
	if cfg.Scoring.FloorFactor > 0 {
		policy.Scoring.FloorFactor = cfg.Scoring.FloorFactor
	}
	policy.Scoring.DefaultTimeLimit = config.TTLDuration(cfg.Scoring.DefaultTimeLimit, policy.Scoring.DefaultTimeLimit)
	return policy
}

// sampleQuizzes seeds the in-memory store when no database is configured.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Warm-up",
			Questions: []domain.Question{
				{
					ID:               "q1",
					Prompt:           "What is 2 + 2?",
					Type:             domain.QuestionMultipleChoice,
					TimeLimitSeconds: 30,
					Options: []domain.Option{
						{ID: "o1", Text: "3"},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5"},
					},
				},
				{
					ID:               "q2",
					Prompt:           "The Pacific is the largest ocean.",
					Type:             domain.QuestionTrueFalse,
					TimeLimitSeconds: 20,
					Options: []domain.Option{
						{ID: "true", Text: "True", Correct: true},
						{ID: "false", Text: "False"},
					},
				},
				{
					ID:               "q3",
					Prompt:           "Name the chemical symbol for gold.",
					Type:             domain.QuestionText,
					Answer:           "Au",
					TimeLimitSeconds: 30,
					Points:           150,
				},
			},
		},
	}
}
