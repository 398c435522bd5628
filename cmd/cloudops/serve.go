package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/opscart/cloudops-cost-optimizer/pkg/actuator"
	"github.com/opscart/cloudops-cost-optimizer/pkg/analytics"
	"github.com/opscart/cloudops-cost-optimizer/pkg/config"
	"github.com/opscart/cloudops-cost-optimizer/pkg/credentials"
	"github.com/opscart/cloudops-cost-optimizer/pkg/gateway"
	"github.com/opscart/cloudops-cost-optimizer/pkg/inventory"
	"github.com/opscart/cloudops-cost-optimizer/pkg/locker"
	"github.com/opscart/cloudops-cost-optimizer/pkg/models"
	"github.com/opscart/cloudops-cost-optimizer/pkg/monitoring"
	"github.com/opscart/cloudops-cost-optimizer/pkg/optimizer"
	"github.com/opscart/cloudops-cost-optimizer/pkg/savings"
	"github.com/opscart/cloudops-cost-optimizer/pkg/scheduler"
	"github.com/opscart/cloudops-cost-optimizer/pkg/server"
	"github.com/opscart/cloudops-cost-optimizer/pkg/storage"
)

const lockTTL = 2 * time.Minute

func serviceCommands() []*cobra.Command {
	services := []struct {
		name  string
		short string
		run   func(ctx context.Context) error
	}{
		{config.ServiceGateway, "Run the API gateway", runGateway},
		{config.ServiceUser, "Run the user credential service", runUserService},
		{config.ServiceMonitoring, "Run the AWS monitoring service", runMonitoring},
		{config.ServiceAnalytics, "Run the metrics analytics service", runAnalytics},
		{config.ServiceOptimizer, "Run the cost optimizer service", runOptimizer},
	}

	cmds := make([]*cobra.Command, 0, len(services))
	for _, s := range services {
		cmds = append(cmds, &cobra.Command{
			Use:   s.name,
			Short: s.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := cfg.ValidateService(s.name); err != nil {
					return fmt.Errorf("invalid configuration: %w", err)
				}
				gin.SetMode(gin.ReleaseMode)
				return s.run(cmd.Context())
			},
		})
	}
	return cmds
}

func serverConfig(service string, port int) server.Config {
	sc := server.DefaultConfig(service, port)
	sc.WriteTimeout = cfg.HTTPTimeout * 6
	return sc
}

func runGateway(ctx context.Context) error {
	gw, err := gateway.New(gateway.Upstreams{
		UserService: cfg.UserServiceURL,
		Monitoring:  cfg.MonitoringServiceURL,
		Analytics:   cfg.AnalyticsServiceURL,
		Optimizer:   cfg.OptimizerServiceURL,
	}, cfg.HTTPTimeout*3, log)
	if err != nil {
		return err
	}

	sc := serverConfig(config.ServiceGateway, cfg.Ports.Gateway)
	sc.RateLimit = cfg.RateLimit
	sc.RateLimitBurst = cfg.RateLimitBurst
	r := server.NewEngine(sc, log)
	gw.Register(r)
	return server.Run(ctx, sc, r, log)
}

func runUserService(ctx context.Context) error {
	db, err := credentials.OpenDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	cipher, err := credentials.NewCipher(cfg.EncryptionKey)
	if err != nil {
		return err
	}
	svc := credentials.NewService(credentials.NewRepo(db, log), cipher, log)

	sc := serverConfig(config.ServiceUser, cfg.Ports.UserService)
	r := server.NewEngine(sc, log)
	server.NewCredentialsHandler(svc, log).Register(r)
	return server.Run(ctx, sc, r, log)
}

func runMonitoring(ctx context.Context) error {
	var fallback *models.Credential
	if cfg.AWSAccessKeyID != "" {
		fallback = &models.Credential{
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			Region:          cfg.AWSRegion,
		}
	}
	creds := monitoring.NewCredentialClient(cfg.UserServiceURL, cfg.HTTPTimeout, cfg.CredentialCacheTTL, fallback, log)

	var opts []monitoring.Option
	if cfg.MetricsSource == config.MetricsPrometheus {
		src, err := monitoring.NewPrometheusSource(cfg.PrometheusURL, log)
		if err != nil {
			return err
		}
		if !src.IsAvailable(ctx) {
			log.Warn("prometheus not reachable, metrics will report N/A until it is", "url", cfg.PrometheusURL)
		}
		opts = append(opts, monitoring.WithMetricsSource(src))
	}
	svc := monitoring.NewService(creds, log, opts...)

	sc := serverConfig(config.ServiceMonitoring, cfg.Ports.Monitoring)
	r := server.NewEngine(sc, log)
	server.NewMonitoringHandler(svc, log).Register(r)
	return server.Run(ctx, sc, r, log)
}

func runAnalytics(ctx context.Context) error {
	store, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	svc := analytics.NewService(store, newInventory(), log)

	sc := serverConfig(config.ServiceAnalytics, cfg.Ports.Analytics)
	r := server.NewEngine(sc, log)
	server.NewAnalyticsHandler(svc, log).Register(r)

	return runWithScheduler(ctx, sc, r, func(s *scheduler.Scheduler) error {
		return s.Add("collect-metrics", cfg.MetricsSchedule, func(ctx context.Context, userID string) error {
			_, err := svc.Collect(ctx, userID)
			return err
		})
	})
}

func runOptimizer(ctx context.Context) error {
	store, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	lk, closeLocker, err := newLocker(ctx)
	if err != nil {
		return err
	}
	defer closeLocker()

	svc := optimizer.NewService(optimizer.Deps{
		Store:     store,
		Inventory: newInventory(),
		Actuator:  actuator.NewClient(cfg.MonitoringServiceURL, cfg.HTTPTimeout, log),
		Locker:    lk,
		Log:       log,
	})

	sc := serverConfig(config.ServiceOptimizer, cfg.Ports.Optimizer)
	r := server.NewEngine(sc, log)
	server.NewOptimizerHandler(svc, savings.NewCalculator(store), log).Register(r)

	return runWithScheduler(ctx, sc, r, func(s *scheduler.Scheduler) error {
		return s.Add("generate-recommendations", cfg.RecommendationSchedule, func(ctx context.Context, userID string) error {
			_, err := svc.Generate(ctx, userID)
			return err
		})
	})
}

// runWithScheduler serves r and, when enabled, the scheduled jobs added by
// register until ctx is cancelled
func runWithScheduler(ctx context.Context, sc server.Config, r *gin.Engine, register func(*scheduler.Scheduler) error) error {
	var s *scheduler.Scheduler
	if cfg.SchedulerEnabled {
		s = scheduler.New(cfg.ScheduledUsers, 0, log)
		if err := register(s); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, sc, r, log)
	})
	if s != nil {
		g.Go(func() error {
			return s.Run(gctx)
		})
	}
	return g.Wait()
}

func newInventory() inventory.Provider {
	return inventory.NewClient(cfg.GatewayURL, inventory.GatewayPath, cfg.HTTPTimeout*3, log)
}

// newLocker returns a Redis locker when REDIS_ADDR is set, otherwise an
// in-process one
func newLocker(ctx context.Context) (locker.Locker, func(), error) {
	if cfg.RedisAddr == "" {
		return locker.NewLocal(), func() {}, nil
	}
	rl, err := locker.NewRedis(ctx, cfg.RedisAddr, lockTTL)
	if err != nil {
		return nil, nil, err
	}
	log.Info("using redis locks", "addr", cfg.RedisAddr)
	return rl, func() { _ = rl.Close() }, nil
}
