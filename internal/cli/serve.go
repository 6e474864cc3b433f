package cli

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"quiznet/internal/config"
	"quiznet/internal/game"
	"quiznet/internal/questions"
	"quiznet/internal/transport/tcpserver"
	"quiznet/internal/transport/udpserver"
	"quiznet/internal/transport/wsbridge"
)

// NewServeCmd builds the CLI subcommand to run both quiz servers.
func NewServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the TCP and UDP quiz servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyOverrides(&cfg)

	finalTCP := cfg.Server.TCPAddr
	if finalTCP == "" {
		finalTCP = ":8889"
	}
	finalUDP := cfg.Server.UDPAddr
	if finalUDP == "" {
		finalUDP = ":8888"
	}

	timeLimit := config.Duration(cfg.Game.TimeLimit, 10*time.Second)
	roundPause := config.Duration(cfg.Game.RoundPause, 2*time.Second)
	rebroadcast := config.Duration(cfg.Game.Rebroadcast, 2*time.Second)
	heartbeat := config.Duration(cfg.Game.Heartbeat, 2*time.Second)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader, cleanup, err := buildLoader(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	repo := questions.NewRepository(loader, config.Duration(cfg.Questions.TTL, 10*time.Minute))
	bank, err := repo.GetQuestions(ctx)
	if err != nil {
		return fmt.Errorf("load question bank: %w", err)
	}
	log.Printf("loaded %d questions", len(bank))

	tcpSrv := tcpserver.New(finalTCP)
	tcpSrv.Attach(game.NewHostedSession(game.Config{
		Sender:          tcpSrv,
		Questions:       questions.Shuffle(bank),
		TimeLimit:       timeLimit,
		RoundPause:      roundPause,
		DropOnSendError: true,
	}))

	udpSrv := udpserver.New(finalUDP, heartbeat)
	udpSrv.Attach(game.NewSession(game.Config{
		Sender:           udpSrv,
		Questions:        questions.Shuffle(bank),
		TimeLimit:        timeLimit,
		RoundPause:       roundPause,
		Rebroadcast:      rebroadcast,
		IncludeAddresses: true,
	}))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tcpSrv.ListenAndServe(gctx) })
	g.Go(func() error { return udpSrv.ListenAndServe(gctx) })
	if cfg.Server.WSAddr != "" {
		bridge := wsbridge.New(finalTCP)
		g.Go(func() error { return bridge.ListenAndServe(gctx, cfg.Server.WSAddr) })
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Println("shutting down servers...")
	return nil
}

// buildLoader picks the question source: Postgres when configured (running
// migrations first), then Redis, then the local text file.
func buildLoader(ctx context.Context, cfg config.Config) (questions.Loader, func(), error) {
	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return nil, nil, err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		return questions.NewPostgresLoader(pool), pool.Close, nil
	}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return questions.NewRedisLoader(client, cfg.Questions.RedisKey), func() { client.Close() }, nil
	}
	path := cfg.Questions.Path
	if path == "" {
		path = "questions.txt"
	}
	return questions.NewFileLoader(path), func() {}, nil
}

func applyOverrides(cfg *config.Config) {
	if tcpAddr != "" {
		cfg.Server.TCPAddr = tcpAddr
	}
	if udpAddr != "" {
		cfg.Server.UDPAddr = udpAddr
	}
	if questionsPath != "" {
		cfg.Questions.Path = questionsPath
	}
}
