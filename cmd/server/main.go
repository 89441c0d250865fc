// Command server is the monitoring core's single process: it wires every
// capability and component, registers the scheduled jobs from §4.1, serves
// the health/status HTTP surface, and runs until an interrupt signal.
package main

import (
	"context"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketpulse/monitor/internal/backup"
	"github.com/marketpulse/monitor/internal/briefing"
	"github.com/marketpulse/monitor/internal/cache"
	"github.com/marketpulse/monitor/internal/cipher"
	"github.com/marketpulse/monitor/internal/config"
	"github.com/marketpulse/monitor/internal/database"
	"github.com/marketpulse/monitor/internal/events"
	"github.com/marketpulse/monitor/internal/feedback"
	"github.com/marketpulse/monitor/internal/llm"
	"github.com/marketpulse/monitor/internal/llm/anthropic"
	"github.com/marketpulse/monitor/internal/logger"
	"github.com/marketpulse/monitor/internal/market"
	"github.com/marketpulse/monitor/internal/messenger"
	"github.com/marketpulse/monitor/internal/patrol"
	"github.com/marketpulse/monitor/internal/patterns"
	"github.com/marketpulse/monitor/internal/scheduler"
	"github.com/marketpulse/monitor/internal/search"
	"github.com/marketpulse/monitor/internal/server"
	"github.com/marketpulse/monitor/internal/signal"
	"github.com/marketpulse/monitor/internal/store"
	"github.com/marketpulse/monitor/internal/streammanager"
	"github.com/marketpulse/monitor/internal/tradedetector"
	"github.com/marketpulse/monitor/internal/trigger"
	"github.com/marketpulse/monitor/internal/vectorstore"
	"github.com/marketpulse/monitor/internal/vectorstore/qdrant"
)

func main() {
	bootLog := logger.New(logger.Config{Level: "info", Pretty: true})

	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal().Err(err).Msg("load configuration failed")
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	log.Info().Msg("starting monitoring core")

	db, err := database.New(database.Config{
		Path:    cfg.DataDir + "/monitor.db",
		Profile: database.ProfileStandard,
		Name:    "monitor",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("open database failed")
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("run migrations failed")
	}

	masterKey, err := cipher.LoadOrCreateKeyFile(cfg.EncryptionKeyPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load master key failed")
	}
	cph, err := cipher.New(masterKey)
	if err != nil {
		log.Fatal().Err(err).Msg("build cipher failed")
	}

	repos := store.New(db.Conn(), log)

	var netCache cache.NetworkBackend
	if cfg.RedisURL != "" {
		netCache = cache.NewRedisBackend(cfg.RedisURL)
	}
	memCache := cache.New(netCache, log)

	mkt := market.New(cfg.CryptoPanicAPIKey, 15*time.Second, log)
	searcher := search.New(cfg.TavilyAPIKey, 15*time.Second, log)

	llmSrc := buildLLMSource(cfg, log)

	vectors := buildVectorStore(cfg, log)

	msgr := messenger.New(log)

	streamMgr := streammanager.New(repos.BaseStreams, memCache, mkt, log)

	pat := patterns.New(patterns.Repos{
		Trades: repos.Trades, Signals: repos.Signals, Principles: repos.Principles,
		Connections: repos.ExchangeConnections, Episodes: repos.Episodes, Messages: repos.ChatMessages,
	})

	eventBus := events.NewBus()
	eventBus.Subscribe(events.PatrolCompleted, func(e *events.Event) {
		if d, ok := e.Data.(*events.PatrolCompletedData); ok && d.AnomaliesFound > 0 {
			log.Info().Int64("user_id", d.UserID).Int("anomalies", d.AnomaliesFound).Msg("patrol found anomalies")
		}
	})
	eventManager := events.NewManager(eventBus, log)

	signalPipeline := signal.New(signal.Repos{
		Users: repos.Users, Triggers: repos.UserTriggers, Signals: repos.Signals,
		Principles: repos.Principles, Episodes: repos.Episodes, Trades: repos.Trades,
		Messages: repos.ChatMessages, Streams: repos.BaseStreams,
	}, mkt, searcher, llmSrc, vectors, msgr, cfg.DailySignalLimit, log)

	triggerEngine := trigger.New(repos.UserTriggers, repos.ChatMessages, msgr, signalPipeline, eventManager, log)

	feedbackLearner := feedback.New(feedback.Repos{
		Users: repos.Users, Signals: repos.Signals, Episodes: repos.Episodes,
	}, vectors, log)

	detector := tradedetector.New(tradedetector.Repos{
		Connections: repos.ExchangeConnections, Trades: repos.Trades, Principles: repos.Principles,
		Episodes: repos.Episodes, Users: repos.Users, Messages: repos.ChatMessages,
	}, cph, llmSrc, vectors, msgr, feedbackLearner, eventManager, cfg.DustThresholdPercent, 15*time.Second, log)

	patrolEngine := patrol.New(patrol.Repos{
		Users: repos.Users, Streams: repos.BaseStreams, Triggers: repos.UserTriggers,
		Signals: repos.Signals, Episodes: repos.Episodes, Trades: repos.Trades,
		Messages: repos.ChatMessages, PatrolLogs: repos.PatrolLogs,
	}, streamMgr, searcher, llmSrc, vectors, msgr, eventManager, log)

	briefingGen := briefing.New(briefing.Repos{
		Trades: repos.Trades, Triggers: repos.UserTriggers, Streams: repos.BaseStreams,
		Principles: repos.Principles, Episodes: repos.Episodes, Signals: repos.Signals,
		Messages: repos.ChatMessages,
	}, mkt, pat, llmSrc, vectors, msgr, log)
	briefingJob := briefing.NewJob(repos.Users, briefingGen, log)

	backupCtx, cancelBackup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelBackup()
	backupJob, err := backup.New(backupCtx, backup.Config{
		Bucket: cfg.SnapshotS3Bucket,
		Region: cfg.SnapshotS3Region,
	}, db.Conn(), db.Path(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("build backup job failed")
	}

	sched := scheduler.New(log)
	registerJobs(sched, registerJobsArgs{
		detector:       detector,
		streamMgr:      streamMgr,
		triggers:       triggerEngine,
		patrol:         patrolEngine,
		users:          repos.Users,
		userTrigs:      repos.UserTriggers,
		briefingJob:    briefingJob,
		backupJob:      backupJob,
		tradePoll:      cfg.TradePollInterval,
		hotPoll:        cfg.HotPollInterval,
		patrolInterval: time.Duration(cfg.PatrolIntervalSeconds) * time.Second,
		log:            log,
	})
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Port:      cfg.Port,
		Log:       log,
		Store:     repos,
		Scheduler: sched,
		DevMode:   cfg.DevMode,
	})
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("monitoring core started")

	quit := make(chan os.Signal, 1)
	ossignal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http server forced shutdown")
	}
	log.Info().Msg("monitoring core stopped")
}

func buildLLMSource(cfg *config.Config, log zerolog.Logger) llm.Source {
	return anthropic.New(anthropic.Config{
		APIKey:      cfg.AnthropicAPIKey,
		FastModel:   cfg.ModelFast,
		DeepModel:   cfg.ModelDeep,
		CacheSystem: true,
	}, nil, log)
}

func buildVectorStore(cfg *config.Config, log zerolog.Logger) *vectorstore.Store {
	if cfg.QdrantAddr == "" {
		return vectorstore.New(vectorstore.NullBackend{}, vectorstore.HashEmbedder{}, log)
	}
	dsn := cfg.QdrantAddr
	if cfg.QdrantAPIKey != "" {
		dsn = dsn + "?api_key=" + cfg.QdrantAPIKey
	}
	backend, err := qdrant.New(dsn, cfg.VectorNamespace+"_episodes", vectorstore.HashEmbeddingDimension)
	if err != nil {
		log.Warn().Err(err).Msg("connect qdrant failed, falling back to no-op vector backend")
		return vectorstore.New(vectorstore.NullBackend{}, vectorstore.HashEmbedder{}, log)
	}
	return vectorstore.New(backend, vectorstore.HashEmbedder{}, log)
}
