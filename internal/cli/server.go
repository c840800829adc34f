package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arena-engine/internal/arena"
	"arena-engine/internal/config"
	"arena-engine/internal/domain"
	"arena-engine/internal/format"
	"arena-engine/internal/infra/memory"
	pgloader "arena-engine/internal/infra/postgres"
	redisinfra "arena-engine/internal/infra/redis"
	"arena-engine/internal/infra/resultapi"
	"arena-engine/internal/secure"
	transport "arena-engine/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the arena server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.Duration(cfg.Redis.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	codec := secure.NewCodec(cfg.Arena.Secret)

	var loader memory.ExamLoader = memory.NewStaticExamLoader(sampleExams(codec))
	if pool != nil {
		loader = pgloader.NewExamLoader(pool)
	}

	examTTL := config.Duration(cfg.Exam.TTL, 10*time.Minute)
	var exams transport.ExamRepository
	if redisClient != nil {
		exams = redisinfra.NewExamRepository(redisClient, loader, examTTL)
	} else {
		exams = memory.NewExamRepository(loader, examTTL)
	}

	var registry transport.ArenaRegistry
	if redisClient != nil {
		registry = redisinfra.NewArenaStore(redisClient, redisTTL)
	} else {
		registry = memory.NewArenaStore()
	}

	submitTimeout := config.Duration(cfg.Submission.Timeout, 8*time.Second)
	results := resultapi.New(cfg.Submission.URL, submitTimeout+2*time.Second)

	arenaCfg := arena.Config{
		CountdownSeconds: cfg.Arena.CountdownSeconds,
		FeedbackDelay:    config.Duration(cfg.Arena.FeedbackDelay, 0),
		SubmitTimeout:    submitTimeout,
		Locale:           format.Locale(cfg.Arena.Locale),
	}

	wsHandler := transport.NewWSHandler(registry, exams, codec, results, arenaCfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting arena engine on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleExams provides a minimal lesson for running without Postgres; the
// canonical answers are encrypted with the configured secret so grading
// behaves exactly as it does against real content.
func sampleExams(codec *secure.Codec) map[string]domain.ExamSession {
	seal := func(answer any) string {
		blob, err := codec.Encrypt(answer)
		if err != nil {
			return ""
		}
		return blob
	}
	return map[string]domain.ExamSession{
		"lesson-1": {
			LessonID:                    "lesson-1",
			TimeLimitPerQuestionSeconds: 15,
			Questions: []domain.Question{
				{
					ID:     "q1",
					Kind:   domain.SingleChoice,
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3"},
						{ID: "o2", Text: "4"},
						{ID: "o3", Text: "5"},
					},
					Explanation:  "2 + 2 = 4.",
					SecureAnswer: seal("o2"),
				},
				{
					ID:     "q2",
					Kind:   domain.Ordering,
					Prompt: "Order from smallest to largest",
					Items: []domain.Option{
						{ID: "i1", Text: "1"},
						{ID: "i2", Text: "10"},
						{ID: "i3", Text: "100"},
					},
					Explanation:  "1 < 10 < 100.",
					SecureAnswer: seal([]string{"i1", "i2", "i3"}),
				},
				{
					ID:           "q3",
					Kind:         domain.TrueFalse,
					Prompt:       "7 is a prime number",
					Explanation:  "7 has no divisors other than 1 and itself.",
					SecureAnswer: seal("true"),
				},
			},
		},
	}
}
