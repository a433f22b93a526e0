package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	logging "github.com/ipfs/go-log/v2"

	"synopsis/internal/auth"
	httpdelivery "synopsis/internal/delivery/http"
	"synopsis/internal/delivery/tcp"
	"synopsis/internal/delivery/websocket"
	"synopsis/internal/fanout"
	"synopsis/pkg/synopsis"
)

var logger = logging.Logger("synopsis/cmd")

// shutdownTimeout bounds the HTTP server's graceful shutdown
const shutdownTimeout = 10 * time.Second

// Config 서버 설정
type Config struct {
	TCPAddr       string
	HTTPAddr      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	JWTSecret     string
	JWTIssuer     string
	QueueSize     int
	HistorySize   int
	AuthTimeout   time.Duration
	DefaultDoc    string
	LogLevel      string
}

// parseConfig 커맨드 라인 플래그 파싱
func parseConfig(name string, args []string) (Config, error) {
	var config Config
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&config.TCPAddr, "tcp-addr", ":7070", "TCP listen address (empty disables)")
	fs.StringVar(&config.HTTPAddr, "http-addr", ":8080", "HTTP listen address for /ws and the inspection API (empty disables)")
	fs.StringVar(&config.RedisAddr, "redis-addr", "", "Redis address for mirroring accepted patches (empty disables)")
	fs.StringVar(&config.RedisPassword, "redis-password", "", "Redis password")
	fs.IntVar(&config.RedisDB, "redis-db", 0, "Redis database number")
	fs.StringVar(&config.RedisPrefix, "redis-prefix", fanout.DefaultRedisPrefix, "Redis channel prefix")
	fs.StringVar(&config.JWTSecret, "jwt-secret", "", "HMAC secret for handshake tokens (empty accepts everyone)")
	fs.StringVar(&config.JWTIssuer, "jwt-issuer", "", "required token issuer")
	fs.IntVar(&config.QueueSize, "queue-size", fanout.DefaultMailboxSize, "outbound frames a connection may lag behind")
	fs.IntVar(&config.HistorySize, "history-size", 256, "commits kept per document")
	fs.DurationVar(&config.AuthTimeout, "auth-timeout", 0, "authentication timeout (0 waits indefinitely)")
	fs.StringVar(&config.DefaultDoc, "default-doc", "{}", "initial JSON value of new documents")
	fs.StringVar(&config.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if config.TCPAddr == "" && config.HTTPAddr == "" {
		return Config{}, errors.New("at least one of -tcp-addr and -http-addr is required")
	}
	if !json.Valid([]byte(config.DefaultDoc)) {
		return Config{}, fmt.Errorf("-default-doc is not valid JSON: %s", config.DefaultDoc)
	}
	if _, err := logging.LevelFromString(config.LogLevel); err != nil {
		return Config{}, fmt.Errorf("invalid -log-level: %w", err)
	}
	return config, nil
}

// buildOptions turns the configuration into backend options. The returned
// cleanup releases the Redis mirror and client.
func buildOptions(ctx context.Context, config Config) (synopsis.Options, func(), error) {
	opts := synopsis.DefaultOptions()
	opts.DefaultDocument = json.RawMessage(config.DefaultDoc)
	opts.MailboxSize = config.QueueSize
	opts.HistorySize = config.HistorySize
	opts.AuthTimeout = config.AuthTimeout
	cleanup := func() {}

	if config.JWTSecret != "" {
		authenticator, err := auth.NewJWTAuthenticator(auth.JWTConfig{
			Secret: []byte(config.JWTSecret),
			Issuer: config.JWTIssuer,
		})
		if err != nil {
			return opts, cleanup, err
		}
		opts.Authenticator = authenticator
	}

	if config.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     config.RedisAddr,
			Password: config.RedisPassword,
			DB:       config.RedisDB,
		})
		mirror, err := fanout.NewRedisMirror(ctx, client, config.RedisPrefix, config.QueueSize)
		if err != nil {
			client.Close()
			return opts, cleanup, err
		}
		opts.Observers = append(opts.Observers, mirror)
		cleanup = func() {
			mirror.Close()
			client.Close()
		}
		logger.Infow("mirroring accepted patches to redis", "addr", config.RedisAddr, "prefix", config.RedisPrefix)
	}

	return opts, cleanup, nil
}

func run(ctx context.Context, config Config) error {
	opts, cleanup, err := buildOptions(ctx, config)
	if err != nil {
		return fmt.Errorf("failed to configure backend: %w", err)
	}
	defer cleanup()

	backend, err := synopsis.New(opts)
	if err != nil {
		return fmt.Errorf("failed to create backend: %w", err)
	}
	defer backend.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	if config.TCPAddr != "" {
		server := tcp.NewServer(backend)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.ListenAndServe(ctx, config.TCPAddr); err != nil {
				errs <- err
				cancel()
			}
		}()
	}

	if config.HTTPAddr != "" {
		router := httpdelivery.NewRouter(httpdelivery.NewHandler(backend.Documents()), websocket.NewHandler(backend))
		server := &http.Server{
			Addr:    config.HTTPAddr,
			Handler: router.Setup(),
			BaseContext: func(_ net.Listener) context.Context {
				return ctx
			},
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Infow("http server started", "addr", config.HTTPAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("http server failed: %w", err)
				cancel()
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
			defer done()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warnw("http server shutdown", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Infow("shutting down")
	backend.Close()
	wg.Wait()

	select {
	case err := <-errs:
		return err
	default:
		return nil
	}
}

func main() {
	config, err := parseConfig(os.Args[0], os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// 로깅 설정
	logging.SetLogLevel("*", config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config); err != nil {
		logger.Errorw("server error", "error", err)
		os.Exit(1)
	}
}
