// Package main provides the arena server binary that runs match combat loops
// and streams them to spectators over server-sent events.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gladiator/internal/arena"
	"github.com/cory-johannsen/gladiator/internal/arenaserver"
	"github.com/cory-johannsen/gladiator/internal/combat"
	"github.com/cory-johannsen/gladiator/internal/config"
	"github.com/cory-johannsen/gladiator/internal/dice"
	"github.com/cory-johannsen/gladiator/internal/narration"
	"github.com/cory-johannsen/gladiator/internal/observability"
	"github.com/cory-johannsen/gladiator/internal/queue"
	"github.com/cory-johannsen/gladiator/internal/roster"
	"github.com/cory-johannsen/gladiator/internal/server"
	"github.com/cory-johannsen/gladiator/internal/storage/memory"
	"github.com/cory-johannsen/gladiator/internal/storage/postgres"
	"github.com/cory-johannsen/gladiator/internal/stream"
	"github.com/cory-johannsen/gladiator/internal/sweeper"
)

// stores groups the persistence the server runs on.
type stores struct {
	matches    arenaserver.MatchStore
	logs       arenaserver.LogStore
	gladiators arenaserver.GladiatorStore
	stale      sweeper.StaleFailer
}

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	inMemory := flag.Bool("memory", false, "keep matches in process memory instead of PostgreSQL")
	rosterPath := flag.String("roster", "", "roster YAML seeded into the in-memory store; requires -memory")
	shutdownTimeout := flag.Duration("shutdown-timeout", 15*time.Second, "bound on stopping each service")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	if *rosterPath != "" && !*inMemory {
		logger.Fatal("-roster requires -memory; use seed-roster for PostgreSQL")
	}

	ctx := context.Background()
	lifecycle := server.NewLifecycle(logger, *shutdownTimeout)

	arenaStart := time.Now()
	arenas, err := arena.LoadDirectory(cfg.Arena.Dir, cfg.Arena.Default)
	if err != nil {
		logger.Fatal("loading arenas", zap.Error(err))
	}
	logger.Info("arenas loaded",
		zap.Strings("ids", arenas.IDs()),
		zap.String("default", cfg.Arena.Default),
		zap.Duration("elapsed", time.Since(arenaStart)),
	)

	// Matchmaking queue removal is skipped when Redis is not configured.
	var mmQueue *queue.RedisQueue
	if cfg.Redis.Addr != "" {
		rdb := queue.NewClient(cfg.Redis)
		defer rdb.Close()
		mmQueue = queue.New(rdb, cfg.Redis.KeyPrefix)
		logger.Info("matchmaking queue configured", zap.String("addr", cfg.Redis.Addr))
	}

	var st stores
	if *inMemory {
		store := memory.NewStore()
		st = stores{matches: store, logs: store, gladiators: store, stale: store}
		if *rosterPath != "" {
			seedMemory(ctx, store, *rosterPath, mmQueue, logger)
		}
		logger.Warn("running on the in-memory store; matches are lost on restart")
	} else {
		dbStart := time.Now()
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		defer pool.Close()
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		matches := postgres.NewMatchRepository(pool.DB())
		logs := postgres.NewLogRepository(pool.DB())
		st = stores{matches: matches, logs: logs, gladiators: postgres.NewGladiatorRepository(pool.DB()), stale: matches}

		lifecycle.Add("database-health", &server.FuncService{
			StartFn: func(ctx context.Context) error {
				return pool.Watch(ctx, 30*time.Second, logger)
			},
		})
	}

	var provider narration.Provider
	if cfg.Narration.Provider == "anthropic" {
		provider = narration.NewAnthropicProvider(cfg.Narration)
	}
	narrator := narration.New(provider, narration.OptionsFromConfig(cfg.Narration), logger)
	logger.Info("narration configured", zap.String("provider", cfg.Narration.Provider))

	hub := stream.NewHub()
	watcher := stream.NewWatcher(st.matches, st.logs, hub, cfg.Stream.WatchPollInterval, logger)

	// Loops and watches run on loopCtx, which only the combat-loops service cancels.
	loopCtx, stopLoops := context.WithCancel(ctx)
	defer stopLoops()

	deps := arenaserver.Deps{
		Matches:    st.matches,
		Logs:       st.logs,
		Gladiators: st.gladiators,
		Arenas:     arenas,
		Narrator:   narrator,
		Roller:     dice.NewLoggedRoller(dice.NewCryptoSource(), logger),
		Clock:      combat.RealClock{},
		Hub:        hub,
		Watcher:    watcher,
		Logger:     logger,
	}
	if mmQueue != nil {
		deps.Queue = mmQueue
	}
	svc := arenaserver.NewService(loopCtx, deps)
	app := arenaserver.NewApp(cfg.HTTP, arenaserver.NewHandler(svc, cfg.Stream.PingInterval, logger))

	// Services stop in reverse order: loops end first so their streams close
	// before the listener drains.
	lifecycle.Add("http", arenaserver.NewHTTPService(app, cfg.HTTP.Addr(), logger))
	if cfg.Sweeper.Interval > 0 {
		lifecycle.Add("sweeper", sweeper.New(st.stale, hub, cfg.Sweeper, logger))
	}
	lifecycle.Add("combat-loops", &server.FuncService{
		StartFn: func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		},
		StopFn: func(ctx context.Context) error {
			stopLoops()
			return svc.Wait(ctx)
		},
	})

	logger.Info("arena server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("http_addr", cfg.HTTP.Addr()),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

// seedMemory loads the roster at path into store and logs the created matches.
func seedMemory(ctx context.Context, store *memory.Store, path string, q *queue.RedisQueue, logger *zap.Logger) {
	r, err := roster.Load(path)
	if err != nil {
		logger.Fatal("loading roster", zap.String("path", path), zap.Error(err))
	}
	var enq roster.Enqueuer
	if q != nil {
		enq = q
	}
	sum, err := roster.Apply(ctx, r, store, enq, time.Now().UTC())
	if err != nil {
		logger.Fatal("seeding roster", zap.String("path", path), zap.Error(err))
	}
	for _, m := range sum.Matches {
		logger.Info("seeded match",
			zap.String("match_id", m.ID),
			zap.String("participant_a", m.ParticipantA),
			zap.String("participant_b", m.ParticipantB),
			zap.String("arena", m.Arena),
		)
	}
	logger.Info("roster seeded",
		zap.Int("gladiators", len(sum.Gladiators)),
		zap.Int("matches", len(sum.Matches)),
		zap.Int("queued", sum.Queued),
	)
}
