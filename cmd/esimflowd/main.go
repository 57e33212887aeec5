// Command esimflowd serves the esimflow HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MrEthical07/esimflow"
	"github.com/MrEthical07/esimflow/httpapi"
	otelexport "github.com/MrEthical07/esimflow/metrics/export/otel"
	promexport "github.com/MrEthical07/esimflow/metrics/export/prometheus"
	"github.com/alicebob/miniredis/v2"
	"github.com/jessevdk/go-flags"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

// Options are the command line flags. Everything else comes from the
// config file and ESIMFLOW_* environment variables.
type Options struct {
	Config    string `short:"c" long:"config" env:"ESIMFLOW_CONFIG" description:"YAML config file"`
	Addr      string `short:"a" long:"addr" description:"listen address, overrides http.addr"`
	RedisAddr string `short:"r" long:"redis-addr" env:"REDIS_ADDR" description:"redis address; an embedded miniredis is used when empty"`
	LogLevel  string `short:"l" long:"log-level" description:"overrides logging.level"`
	OTel      bool   `long:"otel" description:"publish metrics on the global OpenTelemetry meter provider"`
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	opts := &Options{}
	if _, err := flags.ParseArgs(opts, args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := esimflow.LoadConfig(opts.Config)
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.HTTP.Addr = opts.Addr
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	reportLint(logger, cfg.Lint())

	rdb, cleanup, err := openRedis(opts.RedisAddr, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	b := esimflow.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithLogger(logger)
	if cfg.Audit.Enabled {
		b = b.WithAuditSink(esimflow.NewLogrusSink(logger))
	}
	engine, err := b.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	var serverOpts []httpapi.Option
	if cfg.Metrics.Enabled {
		serverOpts = append(serverOpts, httpapi.WithMetricsHandler(promexport.NewExporter(engine).Handler()))
	}
	if opts.OTel {
		exp, err := otelexport.NewExporter(otel.GetMeterProvider().Meter("github.com/MrEthical07/esimflow"), engine)
		if err != nil {
			return fmt.Errorf("otel exporter: %w", err)
		}
		defer func() { _ = exp.Close() }()
	}

	srv := httpapi.NewServer(engine, logger, serverOpts...).HTTPServer()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", srv.Addr).Info("esimflowd listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newLogger(cfg esimflow.LoggingConfig) (*logrus.Logger, error) {
	logger := logrus.New()
	level := logrus.InfoLevel
	if cfg.Level != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		level = parsed
	}
	logger.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}

func reportLint(logger *logrus.Logger, result esimflow.LintResult) {
	for _, w := range result {
		entry := logger.WithFields(logrus.Fields{"code": w.Code, "severity": w.Severity.String()})
		switch w.Severity {
		case esimflow.LintHigh:
			entry.Error(w.Message)
		case esimflow.LintWarn:
			entry.Warn(w.Message)
		default:
			entry.Info(w.Message)
		}
	}
}

// openRedis connects to addr, or starts an in-process miniredis when addr
// is empty. Sessions do not survive a restart in that mode.
func openRedis(addr string, logger *logrus.Logger) (redis.UniversalClient, func(), error) {
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		logger.WithField("addr", addr).Info("using redis")
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	logger.WithField("addr", mr.Addr()).Warn("no redis address given; using embedded miniredis")
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}
