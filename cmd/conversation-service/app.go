package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/book-expert/conversation-service/internal/cache"
	"github.com/book-expert/conversation-service/internal/config"
	"github.com/book-expert/conversation-service/internal/conversation"
	"github.com/book-expert/conversation-service/internal/core"
	"github.com/book-expert/conversation-service/internal/llm"
	"github.com/book-expert/conversation-service/internal/objectstore"
	"github.com/book-expert/conversation-service/internal/tts"
	"github.com/book-expert/conversation-service/internal/worker"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const (
	redisPingTimeout       = 3 * time.Second
	metricsShutdownTimeout = 5 * time.Second
)

var errAPIKeyMissing = errors.New("api key environment variable is not set")

// app owns every long-lived client of the process.
type app struct {
	natsConnection *nats.Conn
	redisClient    *redis.Client
	metricsServer  *http.Server
	worker         *worker.NatsWorker
	log            *logger.Logger
}

func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name("conversation-service"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	application := &app{natsConnection: natsConnection, log: log}

	store, err := newStore(natsConnection, cfg)
	if err != nil {
		application.Close()

		return nil, err
	}

	textGenerator, err := newTextGenerator(ctx, cfg, log)
	if err != nil {
		application.Close()

		return nil, err
	}

	speech, err := newSpeech(ctx, cfg, log)
	if err != nil {
		application.Close()

		return nil, err
	}

	hotCache := application.newHotCache(ctx, cfg)

	cachedSpeech := cache.NewCachedSynthesizer(speech, hotCache, cache.WrapperConfig{
		Name:        cache.SpeechCacheName,
		TTL:         cfg.TTSTTL(),
		Coalesce:    cfg.Cache.CoalesceMisses,
		FillTimeout: cfg.RequestTimeout(),
	}, log)

	service := conversation.NewService(store, textGenerator, cachedSpeech, conversation.Options{
		GeneratorVersion: cfg.Generator.Version,
		Text: core.TextOptions{
			Model:       cfg.TextModel.Model,
			Temperature: cfg.TextTemperature(),
			MaxTokens:   cfg.TextModel.MaxTokens,
		},
		Speech: core.SpeechOptions{
			Voice:         cfg.Speech.Voice,
			LanguageCode:  cfg.Speech.LanguageCode,
			AudioEncoding: core.AudioEncoding(cfg.Speech.AudioEncoding),
		},
		LockTurnPatches: cfg.Generator.LockTurnPatches,
		Now:             time.Now,
	}, log)

	conversations := cache.NewCachedConversations(service, hotCache, cache.WrapperConfig{
		Name:        cache.ConversationCacheName,
		TTL:         cfg.TextTTL(),
		Coalesce:    cfg.Cache.CoalesceMisses,
		FillTimeout: cfg.RequestTimeout(),
	}, log)

	application.worker = worker.NewNatsWorker(natsConnection, worker.Options{
		Subject:       cfg.NATS.RequestSubject,
		QueueGroup:    cfg.NATS.QueueGroup,
		AllowedVoices: cfg.Speech.AllowedVoices,
		Timeout:       cfg.RequestTimeout(),
	}, conversations, hotCache, map[string]worker.MetricsSource{
		cache.ConversationCacheName: conversations,
		cache.SpeechCacheName:       cachedSpeech,
	}, log)

	if cfg.Metrics.ListenAddr != "" {
		err = application.startMetrics(cfg.Metrics.ListenAddr)
		if err != nil {
			application.Close()

			return nil, err
		}
	}

	return application, nil
}

// Run serves requests until ctx is done.
func (a *app) Run(ctx context.Context) error {
	return a.worker.Run(ctx)
}

// Close releases every client. It is safe on a partially built app.
func (a *app) Close() {
	if a.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()

		shutdownErr := a.metricsServer.Shutdown(shutdownCtx)
		if shutdownErr != nil {
			a.log.Warn("Failed to stop metrics listener: %v", shutdownErr)
		}
	}

	if a.redisClient != nil {
		closeErr := a.redisClient.Close()
		if closeErr != nil {
			a.log.Warn("Failed to close Redis client: %v", closeErr)
		}
	}

	if a.natsConnection != nil {
		drainErr := a.natsConnection.Drain()
		if drainErr != nil {
			a.log.Warn("Failed to drain NATS connection: %v", drainErr)
		}
	}
}

// newHotCache connects Redis when enabled. An unreachable Redis is logged and
// kept: the cache fails open until it comes back.
func (a *app) newHotCache(ctx context.Context, cfg *config.Config) *cache.HotCache {
	if !cfg.Cache.Enabled {
		a.log.Info("Hot cache disabled; every request goes to the durable store.")

		return cache.NewHotCache(nil, cfg.Cache.KeyPrefix, a.log)
	}

	a.redisClient = redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.RedisAddr,
		Password: cfg.Cache.RedisPassword,
		DB:       cfg.Cache.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()

	pingErr := a.redisClient.Ping(pingCtx).Err()
	if pingErr != nil {
		a.log.Warn("Redis at %s is unreachable, continuing without hot cache hits: %v", cfg.Cache.RedisAddr, pingErr)
	}

	return cache.NewHotCache(a.redisClient, cfg.Cache.KeyPrefix, a.log)
}

func (a *app) startMetrics(listenAddr string) error {
	registry := prometheus.NewRegistry()

	err := cache.RegisterMetrics(registry)
	if err != nil {
		return fmt.Errorf("failed to register cache metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	a.metricsServer = &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		serveErr := a.metricsServer.ListenAndServe()
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			a.log.Error("Metrics listener stopped: %v", serveErr)
		}
	}()

	a.log.Info("Serving metrics on %s/metrics", listenAddr)

	return nil
}

func newStore(natsConnection *nats.Conn, cfg *config.Config) (core.ArtifactStore, error) {
	switch cfg.Storage.Backend {
	case config.StorageBackendCOS:
		store, err := objectstore.NewCOS(objectstore.COSConfig{
			BucketURL: cfg.Storage.COSBucketURL,
			SecretID:  cfg.Storage.COSSecretID,
			SecretKey: cfg.Storage.COSSecretKey,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create COS store: %w", err)
		}

		return store, nil
	default:
		jetstreamContext, err := natsConnection.JetStream()
		if err != nil {
			return nil, fmt.Errorf("failed to get JetStream context: %w", err)
		}

		store, err := objectstore.New(jetstreamContext, cfg.Storage.Bucket, cfg.Storage.PublicBaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create NATS object store: %w", err)
		}

		return store, nil
	}
}

func apiKey(envName string) (string, error) {
	value := os.Getenv(envName)
	if value == "" {
		return "", fmt.Errorf("%w: %s", errAPIKeyMissing, envName)
	}

	return value, nil
}

func newTextGenerator(ctx context.Context, cfg *config.Config, log *logger.Logger) (core.TextGenerator, error) {
	key, err := apiKey(cfg.TextModel.APIKeyEnv)
	if err != nil {
		return nil, err
	}

	clientCfg := llm.ClientConfig{
		APIKey:     key,
		BaseURL:    cfg.TextModel.BaseURL,
		Timeout:    cfg.TextTimeout(),
		MaxRetries: cfg.TextModel.MaxRetries,
	}

	if cfg.TextModel.Provider == config.TextProviderOpenAI {
		return llm.NewOpenAI(clientCfg, log)
	}

	return llm.NewGemini(ctx, clientCfg, log)
}

func newSpeech(ctx context.Context, cfg *config.Config, log *logger.Logger) (core.SpeechSynthesizer, error) {
	if cfg.Speech.Provider != config.SpeechProviderGemini {
		return tts.NewHTTPClient(cfg.Speech.URL, cfg.SpeechTimeout()), nil
	}

	key, err := apiKey(cfg.Speech.APIKeyEnv)
	if err != nil {
		return nil, err
	}

	return tts.NewGeminiSpeech(ctx, tts.GeminiSpeechConfig{
		APIKey:  key,
		BaseURL: cfg.Speech.URL,
		Model:   cfg.Speech.Model,
		Timeout: cfg.SpeechTimeout(),
	}, log)
}
