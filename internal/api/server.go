package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/config"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/inference"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/observability/metrics"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/prediction"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/profile"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/pkg/logger"
)

// Predictor 是预测接口依赖的推理能力。
type Predictor interface {
	Predict(ctx context.Context, vitals inference.Vitals) (inference.Prediction, error)
	Status() inference.Status
}

// Recorder 把成功的预测投递到历史记录队列。
type Recorder interface {
	Record(ctx context.Context, source string, p inference.Prediction) (*prediction.Record, error)
}

// History 提供预测历史查询。
type History interface {
	List(ctx context.Context, opts prediction.ListOptions) ([]*prediction.Record, error)
	Stats(ctx context.Context) (prediction.Stats, error)
}

// Options 控制 HTTP 服务行为。
type Options struct {
	Address           string
	AllowedOrigins    []string
	RequestsPerSecond float64
	Burst             int
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	MetricsPath       string
}

// OptionsFromConfig 从配置生成服务参数，指标关闭时不暴露 metrics 路径。
func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		Address:           cfg.Server.Address,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		RequestsPerSecond: cfg.Server.RateLimit.RequestsPerSecond,
		Burst:             cfg.Server.RateLimit.Burst,
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadHeaderTimeoutSeconds) * time.Second,
		ShutdownTimeout:   time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second,
	}
	if cfg.Metrics.Enabled {
		opts.MetricsPath = cfg.Metrics.Path
	}
	return opts
}

// Dependencies 汇总服务依赖，除 Predictor 与 Profiles 外均可为空。
type Dependencies struct {
	Predictor Predictor
	Profiles  *profile.Service
	Recorder  Recorder
	History   History
	Metrics   *metrics.Registry
	Logger    *slog.Logger
}

// Server 负责暴露 REST 接口。
type Server struct {
	opts      Options
	predictor Predictor
	profiles  *profile.Service
	recorder  Recorder
	history   History
	metrics   *metrics.Registry
	logger    *slog.Logger
	audit     *slog.Logger
	limiter   *rate.Limiter
}

// NewServer 构造 API 服务实例。
func NewServer(opts Options, deps Dependencies) *Server {
	if opts.ReadHeaderTimeout <= 0 {
		opts.ReadHeaderTimeout = 5 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	s := &Server{
		opts:      opts,
		predictor: deps.Predictor,
		profiles:  deps.Profiles,
		recorder:  deps.Recorder,
		history:   deps.History,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		audit:     logger.Audit(),
	}
	if s.logger == nil {
		s.logger = logger.Named("api")
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return s
}

// Handler 返回挂载全部路由与中间件的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "/api/profiles/{$}", "profiles", http.HandlerFunc(s.handleProfiles))
	s.route(mux, "/api/profiles/{id}/{$}", "profile_detail", http.HandlerFunc(s.handleProfileDetail))
	s.route(mux, "/api/predict/{$}", "predict", s.rateLimited(http.HandlerFunc(s.handlePredict)))
	s.route(mux, "/predictions/{$}", "predictions_compact", s.rateLimited(withStaticCORS(http.HandlerFunc(s.handleCompactPredict))))
	s.route(mux, "/api/predictions/{$}", "prediction_history", http.HandlerFunc(s.handleHistory))
	s.route(mux, "/api/predictions/stats/{$}", "prediction_stats", http.HandlerFunc(s.handleHistoryStats))
	s.route(mux, "/healthz", "healthz", http.HandlerFunc(s.handleHealth))
	if s.opts.MetricsPath != "" && s.metrics != nil {
		mux.Handle(s.opts.MetricsPath, s.metrics.Handler())
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not found.")
	})

	var handler http.Handler = mux
	handler = s.withCORS(handler)
	handler = s.withAccessLog(handler)
	handler = withRequestID(handler)
	return handler
}

func (s *Server) route(mux *http.ServeMux, pattern, name string, handler http.Handler) {
	mux.Handle(pattern, s.metrics.Middleware(name, handler))
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.opts.Address,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP 服务已启动", slog.String("address", s.opts.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("HTTP 服务关闭超时", slog.Any("error", err))
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
