// Command orchestrator wires the fog-compute deployment orchestrator's
// components together and serves its HTTP surface.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	"github.com/DNYoussef/fog-compute-sub001/internal/config"
	"github.com/DNYoussef/fog-compute-sub001/internal/database"
	"github.com/DNYoussef/fog-compute-sub001/pkg/api"
	"github.com/DNYoussef/fog-compute-sub001/pkg/audit"
	"github.com/DNYoussef/fog-compute-sub001/pkg/controller"
	"github.com/DNYoussef/fog-compute-sub001/pkg/events"
	"github.com/DNYoussef/fog-compute-sub001/pkg/metrics"
	"github.com/DNYoussef/fog-compute-sub001/pkg/nodes"
	"github.com/DNYoussef/fog-compute-sub001/pkg/persistence"
	"github.com/DNYoussef/fog-compute-sub001/pkg/rewards"
	"github.com/DNYoussef/fog-compute-sub001/pkg/runtime"
	"github.com/DNYoussef/fog-compute-sub001/pkg/scheduler"
	sharedhttp "github.com/DNYoussef/fog-compute-sub001/pkg/shared/http"
	"github.com/DNYoussef/fog-compute-sub001/pkg/tokens"
)

func main() {
	logger := logrus.New()

	watcher, err := config.NewWatcher(configPath(), logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}
	cfg := watcher.Current()
	logger.SetLevel(parseLevel(cfg.Logging.Level))
	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	watchStop := make(chan struct{})
	go func() {
		if err := watcher.Watch(watchStop); err != nil {
			logger.WithError(err).Error("configuration watcher stopped")
		}
	}()

	dbConfig := database.DefaultConfig()
	dbConfig.LoadFromEnv()
	db, err := database.Connect(dbConfig, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()
	if err := persistence.Migrate(db.DB); err != nil {
		logger.WithError(err).Fatal("failed to run migrations")
	}
	store := persistence.NewPostgresStore(db)

	reg := metrics.NewRegistry(prometheus.NewRegistry())

	dockerEnabled, _ := parseBool(os.Getenv("DOCKER_ENABLED"))
	var rt runtime.Runtime = runtime.NewMockRuntime()
	if dockerEnabled {
		logger.Warn("DOCKER_ENABLED is set but no production container runtime adapter is wired; using the mock runtime")
	}
	breakerRuntime := runtime.NewBreakerRuntime(rt)

	directory := nodes.NewInMemoryDirectory()

	tokenSystem := tokens.NewInMemorySystem()
	breakerTokens := tokens.NewBreakerSystem(tokenSystem)

	weights := scheduler.Weights{
		ResourceScoreWeight:   cfg.Scheduler.ResourceScoreWeight,
		LoadScoreCPUWeight:    cfg.Scheduler.LoadScoreCPUWeight,
		LoadScoreMemoryWeight: cfg.Scheduler.LoadScoreMemoryWeight,
		LocalityScoreWeight:   cfg.Scheduler.LocalityScoreWeight,
		MaxLatencyMS:          cfg.Scheduler.MaxLatencyMS,
		DefaultRegion:         cfg.Scheduler.DefaultRegion,
	}
	sched := scheduler.New(store, directory, breakerRuntime, weights, cfg.Scheduler.QueueSize, logger, reg)

	schedCtx, cancelScheduler := context.WithCancel(context.Background())
	go sched.Run(schedCtx)
	defer cancelScheduler()

	quota, err := controller.NewQuotaPolicy(context.Background())
	if err != nil {
		logger.WithError(err).Fatal("failed to prepare quota policy")
	}

	var slackClient *slack.Client
	if token := os.Getenv("SLACK_BOT_TOKEN"); token != "" {
		slackClient = slack.New(token, slack.OptionHTTPClient(sharedhttp.NewClient(sharedhttp.DefaultClientConfig())))
	}
	settlement := rewards.New(
		breakerTokens, store,
		rewards.Config{
			StakingAPY:         cfg.Rewards.StakingAPY,
			RuntimeRatePerHour: cfg.Rewards.RuntimeRatePerHour,
			MinRewardThreshold: cfg.Rewards.MinRewardThreshold,
		},
		audit.NewRing(1024), reg, slackClient, os.Getenv("SLACK_ALERT_CHANNEL"), logger,
	)

	go flushAuditLogPeriodically(schedCtx, settlement, logger)

	hooks := buildHooks(logger)

	deploymentController := controller.New(
		store, sched, breakerRuntime, settlementAdapter{settlement}, quota, hooks, cfg.Resources, logger,
	)

	handler := api.NewHandler(deploymentController, store)
	mux := http.NewServeMux()
	mux.Handle("/api/deployment/", http.StripPrefix("/api/deployment", api.CORSHandler(api.CORSFromEnvironment())(handler.Routes())))
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: ":" + cfg.Server.HTTPPort, Handler: mux}
	go func() {
		logger.WithField("port", cfg.Server.HTTPPort).Info("starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	waitForShutdown(logger, srv, cancelScheduler, sched)
	close(watchStop)
}

// settlementAdapter bridges rewards.CleanupResult onto controller.Settlement
// without pkg/controller needing to import pkg/rewards (which in turn
// depends on pkg/audit/pkg/metrics/pkg/tokens — kept out of controller's
// import graph).
type settlementAdapter struct {
	inner *rewards.Settlement
}

func (a settlementAdapter) CleanupWithDistribution(ctx context.Context, deploymentID, userID uuid.UUID) controller.SettlementOutcome {
	result := a.inner.CleanupWithDistribution(ctx, deploymentID, userID)
	return controller.SettlementOutcome{Success: result.Success, Error: result.Error}
}

func buildHooks(logger *logrus.Logger) controller.Hooks {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		return events.NoopHooks{}
	}
	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	channel := os.Getenv("REDIS_EVENTS_CHANNEL")
	if channel == "" {
		channel = "fog:deployments"
	}
	return events.NewRedisPublisher(client, channel, logger)
}

func waitForShutdown(logger *logrus.Logger, srv *http.Server, cancelScheduler context.CancelFunc, sched *scheduler.Scheduler) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	sched.Shutdown()
	cancelScheduler()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
}

// flushAuditLogPeriodically drains the reward-distribution audit ring to
// an append-only newline-delimited JSON file once a minute. Rows appended
// beyond the ring's capacity between two ticks are still evicted before
// they are flushed.
func flushAuditLogPeriodically(ctx context.Context, settlement *rewards.Settlement, logger *logrus.Logger) {
	path := os.Getenv("AUDIT_LOG_PATH")
	if path == "" {
		path = "audit.log"
	}

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				logger.WithError(err).Warn("failed to open audit log for flushing")
				continue
			}
			n, err := settlement.FlushAuditLog(f)
			f.Close()
			if err != nil {
				logger.WithError(err).Warn("failed to flush audit log")
			} else if n > 0 {
				logger.WithField("records", n).Info("flushed reward audit log")
			}
		}
	}
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config.yaml"
}

func parseLevel(level string) logrus.Level {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return parsed
}

func parseBool(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return v == "true" || v == "1", nil
}
