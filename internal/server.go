package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/2beens/fixfit/internal/analysis"
	"github.com/2beens/fixfit/internal/config"
	"github.com/2beens/fixfit/internal/events"
	"github.com/2beens/fixfit/internal/formcheck"
	"github.com/2beens/fixfit/internal/middleware"
	"github.com/2beens/fixfit/internal/pose"
	"github.com/2beens/fixfit/internal/session"
	"github.com/2beens/fixfit/internal/telemetry/metrics"
	"github.com/2beens/fixfit/internal/telemetry/tracing"
	"github.com/2beens/fixfit/pkg"

	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/extra/redisotel/v8"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const serviceName = "fixfit-backend"

type Server struct {
	httpServer        *http.Server
	metricsHttpServer *http.Server
	versionInfo       string

	config      *config.Config
	redisClient *redis.Client
	store       *session.Store
	service     *session.Service
	detector    *pose.RemoteDetector
	publisher   events.Publisher
	adminAuth   *middleware.AdminAuth

	// telemetry
	metricsManager *metrics.Manager
	promRegistry   *prometheus.Registry
	otelShutdown   func()
}

type NewServerParams struct {
	Config                  *config.Config
	VersionInfo             string
	AdminTokenHash          string
	RedisPassword           string
	MQTTPassword            string
	HoneycombTracingEnabled bool
}

func NewServer(
	ctx context.Context,
	params NewServerParams,
) (*Server, error) {
	cfg := params.Config

	promRegistry := metrics.SetupPrometheus(params.VersionInfo)
	metricsManager := metrics.NewManager("fixfit", "backend", promRegistry)
	metricsManager.GaugeLifeSignal.Set(0) // set to 1 once serving

	rdb := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.RedisHost, cfg.RedisPort),
		Password: params.RedisPassword,
		DB:       0, // use default DB
	})
	rdb.AddHook(redisotel.NewTracingHook())

	rdbStatus := rdb.Ping(ctx)
	if err := rdbStatus.Err(); err != nil {
		// frames are not rate limited while redis is down
		log.Errorf("--> failed to ping redis: %s", err)
	} else {
		log.Debugf("redis ping: %s", rdbStatus.Val())
	}

	// use honeycomb distro to setup OpenTelemetry SDK
	otelShutdown, err := tracing.HoneycombSetup(params.HoneycombTracingEnabled, serviceName)
	if err != nil {
		return nil, err
	}

	tracedHttpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	store, err := session.NewStore(
		cfg.SessionTTL,
		cfg.SessionCleanupInterval,
		cfg.Thresholds,
		metricsManager,
	)
	if err != nil {
		return nil, fmt.Errorf("new session store: %w", err)
	}

	pipeline := analysis.NewPipeline(
		formcheck.NewDetector(cfg.ValgusRatioThreshold),
		cfg.MinLandmarkVisibility,
	)
	publisher := newPublisher(cfg.MQTT, params.MQTTPassword)

	s := &Server{
		config:      cfg,
		versionInfo: params.VersionInfo,
		redisClient: rdb,
		store:       store,
		service: session.NewService(
			store,
			session.NewDedupe(cfg.DedupeCacheSizeMB, cfg.DedupeTTL),
			pipeline,
			publisher,
			metricsManager,
		),
		detector:  pose.NewRemoteDetector(cfg.DetectorURL, cfg.DetectorTimeout, tracedHttpClient),
		publisher: publisher,
		adminAuth: middleware.NewAdminAuth(params.AdminTokenHash),

		// telemetry
		metricsManager: metricsManager,
		promRegistry:   promRegistry,
		otelShutdown:   otelShutdown,
	}

	return s, nil
}

// newPublisher falls back to a noop publisher when mqtt is disabled or the
// broker cannot be reached; rep events are best effort.
func newPublisher(cfg config.MQTTConfig, password string) events.Publisher {
	if !cfg.Enabled {
		log.Debugln("mqtt events disabled")
		return events.NoopPublisher{}
	}

	publisher, err := events.NewMQTTPublisher(events.MQTTParams{
		BrokerURL:      cfg.Broker,
		ClientID:       cfg.ClientID,
		Username:       cfg.Username,
		Password:       password,
		TopicPrefix:    cfg.TopicPrefix,
		QoS:            cfg.QoS,
		ConnectTimeout: 5 * time.Second,
		PublishTimeout: 2 * time.Second,
	})
	if err != nil {
		log.Errorf("mqtt publisher: %s, rep events will not be published", err)
		return events.NoopPublisher{}
	}
	return publisher
}

func (s *Server) routerSetup() *mux.Router {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("main-router"))

	r.HandleFunc("/health", s.handleHealth).Methods("GET").Name("health")
	r.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		pkg.WriteTextResponseOK(w, s.versionInfo)
	}).Methods("GET").Name("version")

	sessionHandler := session.NewHandler(s.service, s.detector)
	sessionHandler.SetupRoutes(
		r,
		redis_rate.NewLimiter(s.redisClient),
		s.metricsManager,
		s.config.FramesRateLimitAllowedPerMin,
	)

	streamHandler := session.NewStreamHandler(s.service, s.metricsManager, s.config.StreamIdleTimeout)
	streamHandler.SetupRoutes(r)

	adminHandler := session.NewAdminHandler(s.service)
	adminHandler.SetupRoutes(r, s.adminAuth)

	// all the rest - unhandled paths
	r.HandleFunc("/{unknown}", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}).Methods("GET", "POST", "PUT", "OPTIONS").Name("unknown")

	r.Use(middleware.PanicRecovery(s.metricsManager))
	r.Use(middleware.LogRequest())
	r.Use(middleware.RequestMetrics(s.metricsManager))
	r.Use(middleware.Cors(s.config.CorsOrigins))
	r.Use(middleware.DrainAndCloseRequest())

	return r
}

type HealthResponse struct {
	Status         string `json:"status"`
	Redis          string `json:"redis"`
	ActiveSessions int    `json:"active_sessions"`
	Version        string `json:"version,omitempty"`
}

// handleHealth never fails on redis; without it only rate limiting is off.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:         "healthy",
		Redis:          "ok",
		ActiveSessions: s.store.Count(),
		Version:        s.versionInfo,
	}
	if err := s.redisClient.Ping(ctx).Err(); err != nil {
		log.Warnf("health check, redis ping: %s", err)
		resp.Status = "degraded"
		resp.Redis = "unavailable"
	}

	pkg.WriteJSON(w, resp, http.StatusOK)
}

func (s *Server) Serve(host string, port int) {
	router := s.routerSetup()

	ipAndPort := net.JoinHostPort(host, strconv.Itoa(port))
	// no WriteTimeout, frame streams are long lived
	s.httpServer = &http.Server{
		Handler:           router,
		Addr:              ipAndPort,
		ReadTimeout:       time.Minute,
		ReadHeaderTimeout: 10 * time.Second,
		ConnState:         s.connStateMetrics,
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.InstrumentMetricHandler(
		s.promRegistry,
		promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}),
	))
	metricsAddr := net.JoinHostPort(s.config.PrometheusMetricsHost, s.config.PrometheusMetricsPort)
	s.metricsHttpServer = &http.Server{
		Addr:              metricsAddr,
		Handler:           metricsRouter,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof(" > server listening on: [%s]", ipAndPort)
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("main service, listen and serve: %s", err)
		}
	}()

	go func() {
		log.Debugf(" > metrics listening on: [%s]", metricsAddr)
		err := s.metricsHttpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics service, listen and serve: %s", err)
		}
	}()

	s.metricsManager.GaugeLifeSignal.Set(1)
}

func (s *Server) GracefulShutdown() {
	log.Debug("graceful shutdown initiated ...")

	s.metricsManager.GaugeLifeSignal.Set(0)

	maxWaitDuration := time.Second * 15
	ctx, timeoutCancel := context.WithTimeout(context.Background(), maxWaitDuration)
	defer timeoutCancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Error(" >>> failed to gracefully shutdown http server")
		}
		log.Warnln("server shut down")
	}

	if s.metricsHttpServer != nil {
		if err := s.metricsHttpServer.Shutdown(ctx); err != nil {
			log.Error(" >>> failed to gracefully shutdown metrics http server")
		}
		log.Warnln("metrics server shut down")
	}

	s.publisher.Close()
	log.Trace("event publisher closed ...")

	s.otelShutdown()
	log.Trace("otel shut down ...")

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			log.Errorf("failed to close redis client conn: %s", err)
		}
	}

	if ok := sentry.Flush(5 * time.Second); ok {
		log.Debugf("sentry flush ok: %t", ok)
	}
}

func (s *Server) connStateMetrics(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.metricsManager.GaugeRequests.Add(1)
	case http.StateClosed, http.StateHijacked:
		s.metricsManager.GaugeRequests.Add(-1)
	default:
		// do nothing
	}
}
