package integration_testing

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/2beens/fixfit/internal"
	"github.com/2beens/fixfit/internal/config"
	"github.com/2beens/fixfit/internal/fsm"

	"github.com/go-redis/redis/v8"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
)

const (
	serverHost          = "localhost"
	serverPort          = 9000
	metricsPort         = "9002"
	framesAllowedPerMin = 40
)

var serverEndpoint = fmt.Sprintf("http://%s:%d", serverHost, serverPort)

func getTestConfig(redisPort, detectorURL string) *config.Config {
	return &config.Config{
		Environment:                  "test",
		Host:                         serverHost,
		Port:                         serverPort,
		LogLevel:                     "debug",
		PrometheusMetricsHost:        serverHost,
		PrometheusMetricsPort:        metricsPort,
		RedisHost:                    "localhost",
		RedisPort:                    redisPort,
		FramesRateLimitAllowedPerMin: framesAllowedPerMin,
		CorsOrigins:                  []string{"http://localhost:3000"},
		SessionTTL:                   time.Minute,
		SessionCleanupInterval:       time.Minute,
		StreamIdleTimeout:            10 * time.Second,
		DedupeCacheSizeMB:            1,
		DedupeTTL:                    time.Minute,
		DetectorURL:                  detectorURL,
		DetectorTimeout:              time.Second,
		MinLandmarkVisibility:        0.5,
		ValgusRatioThreshold:         0.85,
		Thresholds:                   fsm.DefaultThresholds(),
	}
}

func redisSetup(pool *dockertest.Pool) (string, func(), error) {
	redisResource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "redis",
		Tag:        "7.2",
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{
			Name: "no",
		}
	})
	if err != nil {
		return "", nil, fmt.Errorf("run redis: %w", err)
	}

	redisPort := redisResource.GetPort("6379/tcp")
	err = pool.Retry(func() error {
		rdb := redis.NewClient(&redis.Options{Addr: net.JoinHostPort("localhost", redisPort)})
		defer rdb.Close()
		return rdb.Ping(context.Background()).Err()
	})
	if err != nil {
		_ = redisResource.Close()
		return "", nil, fmt.Errorf("wait for redis: %w", err)
	}

	return redisPort, func() {
		_ = redisResource.Close()
	}, nil
}

// serverSetup boots redis in docker and the full server against it.
func serverSetup(ctx context.Context, detectorURL, adminTokenHash string) (*internal.Server, string, func(), error) {
	// uses a sensible default on windows (tcp/http) and linux/osx (socket)
	pool, err := dockertest.NewPool("")
	if err != nil {
		return nil, "", nil, fmt.Errorf("could not create new dockertest pool: %w", err)
	}

	// uses pool to try to connect to Docker
	if err = pool.Client.Ping(); err != nil {
		return nil, "", nil, fmt.Errorf("could not ping dockertest pool: %w", err)
	}

	redisPort, redisCleanup, err := redisSetup(pool)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to setup redis: %w", err)
	}

	cfg := getTestConfig(redisPort, detectorURL)
	server, err := internal.NewServer(
		ctx,
		internal.NewServerParams{
			Config:                  cfg,
			VersionInfo:             "test-version-info",
			AdminTokenHash:          adminTokenHash,
			RedisPassword:           "",
			HoneycombTracingEnabled: false,
		},
	)
	if err != nil {
		redisCleanup()
		return nil, "", nil, err
	}

	server.Serve(cfg.Host, cfg.Port)

	return server, redisPort, func() {
		server.GracefulShutdown()
		redisCleanup()
	}, nil
}
