package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/api"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/config"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/inference"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/ml"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/observability/alerting"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/observability/metrics"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/prediction"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/profile"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/storage/mysql"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/storage/redis"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/pkg/logger"
)

// main 是 vitals 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("vitalsd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("VITALS_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "vitals.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()
	appLog := logger.Named("vitalsd")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	stores, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	queue, err := openQueue(ctx, cfg.Queue)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			appLog.Warn("关闭预测记录队列失败", slog.Any("error", err))
		}
	}()

	var reg *metrics.Registry
	if cfg.Metrics.Enabled {
		reg = metrics.New()
	}

	predictorOpts := []inference.Option{
		inference.WithThreshold(cfg.Model.Threshold),
		inference.WithLogger(logger.Named("inference")),
		inference.WithLoadHook(func(m *ml.Model) { reg.SetModel(m.Version) }),
	}
	if cfg.Cache.Driver == "redis" {
		cache, err := redis.NewPredictionCache(ctx, redis.Config{
			Address:  cfg.Cache.Address,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
			Prefix:   cfg.Cache.Prefix,
			TTL:      cfg.Cache.TTL(),
		})
		if err != nil {
			return err
		}
		defer cache.Close()
		predictorOpts = append(predictorOpts, inference.WithCache(cache))
	}
	predictor := inference.New(cfg.Model.Path, predictorOpts...)
	reg.SetModel("")
	if err := predictor.Load(); err != nil {
		// 模型缺失不影响档案接口，预测接口会返回模型未加载。
		appLog.Warn("模型未加载", slog.String("path", cfg.Model.Path), slog.Any("error", err))
	}

	recorder := prediction.NewRecorder(stores.records, queue, queue,
		prediction.WithWorkerCount(cfg.Queue.Workers),
		prediction.WithPublishTimeout(cfg.Queue.PublishTimeout()),
		prediction.WithAlertDispatcher(buildDispatcher(cfg.Alerting)),
		prediction.WithMetrics(reg),
		prediction.WithRecorderLogger(logger.Named("recorder")),
	)

	server := api.NewServer(api.OptionsFromConfig(cfg), api.Dependencies{
		Predictor: predictor,
		Profiles:  profile.NewService(stores.profiles),
		Recorder:  recorder,
		History:   stores.records,
		Metrics:   reg,
		Logger:    logger.Named("api"),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled(server.Start(gctx))
	})
	g.Go(func() error {
		return ignoreCanceled(recorder.Start(gctx))
	})
	if cfg.Model.Watch {
		g.Go(func() error {
			return watchModel(gctx, predictor, appLog)
		})
	}
	appLog.Info("vitalsd 已启动",
		slog.String("address", cfg.Server.Address),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("queue", cfg.Queue.Driver),
		slog.Bool("model_loaded", predictor.Loaded()),
	)
	return g.Wait()
}

func ignoreCanceled(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type modelWatcher interface {
	Watch(ctx context.Context) error
}

// watchModel 运行模型热加载。监听失败只记录告警，模型缺失不应导致进程退出。
func watchModel(ctx context.Context, w modelWatcher, appLog *slog.Logger) error {
	if err := ignoreCanceled(w.Watch(ctx)); err != nil {
		appLog.Warn("模型热加载已停用", slog.Any("error", err))
	}
	return nil
}

type stores struct {
	profiles profile.Store
	records  prediction.Store
	db       *mysql.DB
}

func (s *stores) Close() error {
	var errs []error
	if s.profiles != nil {
		errs = append(errs, s.profiles.Close())
	}
	if s.records != nil {
		errs = append(errs, s.records.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return &stores{profiles: profile.NewMemoryStore(), records: prediction.NewMemoryStore()}, nil
	case "sqlite", "mysql":
		if cfg.Storage.Driver == "sqlite" && cfg.Storage.DSN != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Storage.DSN), 0o755); err != nil {
				return nil, err
			}
		}
		db, err := mysql.Open(ctx, mysql.Config{
			Driver:          mysql.Dialect(cfg.Storage.Driver),
			DSN:             cfg.Storage.DSN,
			MaxOpenConns:    cfg.Storage.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.ConnMaxLifetime(),
			ConnMaxIdleTime: cfg.Storage.ConnMaxIdleTime(),
		})
		if err != nil {
			return nil, err
		}
		return &stores{
			profiles: mysql.NewProfileStore(db),
			records:  mysql.NewRecordStore(db),
			db:       db,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", mysql.ErrUnsupportedDriver, cfg.Storage.Driver)
	}
}

func openQueue(ctx context.Context, cfg config.QueueConfig) (prediction.Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return prediction.NewMemoryQueue(cfg.Buffer), nil
	case "redis":
		return prediction.NewRedisQueue(ctx, prediction.RedisQueueConfig{
			Address:      cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			Queue:        cfg.Redis.Queue,
			BlockWait:    time.Duration(cfg.Redis.BlockWaitSeconds) * time.Second,
			MaxAttempts:  cfg.Redis.MaxAttempts,
			RetryBackoff: time.Duration(cfg.Redis.RetryBackoffMS) * time.Millisecond,
		})
	case "rabbitmq":
		return prediction.NewRabbitMQQueue(prediction.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Driver)
	}
}

func buildDispatcher(cfg config.AlertingConfig) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if cfg.LogEnabled {
		notifiers = append(notifiers, &alerting.LogNotifier{Logger: logger.Named("alert")})
	}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.WebhookURL, cfg.Timeout()))
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanout(notifiers...)
}
