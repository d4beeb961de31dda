// Command imapd serves the mail store over IMAP.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/dyd1024/imapstore/config"
	"github.com/dyd1024/imapstore/mailbox"
	"github.com/dyd1024/imapstore/mailbox/memory"
	"github.com/dyd1024/imapstore/mailbox/sqlstore"
	"github.com/dyd1024/imapstore/middleware"
	"github.com/dyd1024/imapstore/server"
	_ "github.com/dyd1024/imapstore/server/commands"
)

const version = "0.1.0"

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.StringP("config", "c", "", "Path to the configuration file")
	addr := flag.String("addr", "", "IMAP listen address, overrides server.addr")
	logLevel := flag.String("log-level", "", "Log level, overrides log.level")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("imapd v%s\n", version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "imapd: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	log, err := cfg.Log.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "imapd: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("Server failed")
	}
}

func run(cfg *config.Config, log *logrus.Entry) error {
	store, err := openStore(cfg.Storage, log.WithField("component", "store"))
	if err != nil {
		return err
	}
	defer store.Close()

	tlsConfig, err := cfg.Server.TLSConfig()
	if err != nil {
		return err
	}

	metrics := middleware.NewMetrics(prometheus.DefaultRegisterer)
	manager := mailbox.NewManager(store,
		mailbox.WithLogger(log.WithField("component", "mailbox")),
		mailbox.WithMaxAnnotations(cfg.Storage.MaxAnnotations),
	)

	opts := []server.Option{
		server.WithLogger(log.WithField("component", "imap")),
		server.WithManager(manager),
		server.WithAuthenticator(server.StaticAuthenticator(cfg.Users)),
		server.WithGreetingText(cfg.Server.Greeting),
		server.WithMaxLiteralSize(cfg.Server.MaxLiteralSize),
		server.WithMaxLineLength(cfg.Server.MaxLineLength),
		server.WithMaxConnections(cfg.Server.MaxConnections),
		server.WithReadTimeout(cfg.Server.ReadTimeout),
		server.WithWriteTimeout(cfg.Server.WriteTimeout),
		server.WithAllowInsecureAuth(cfg.Server.AllowInsecureAuth),
		server.WithConnHook(metrics.ConnHook()),
	}
	if tlsConfig != nil {
		if cfg.Server.ImplicitTLS {
			opts = append(opts, server.WithTLS(tlsConfig))
		} else {
			opts = append(opts, server.WithStartTLS(tlsConfig))
		}
	}
	srv := server.New(opts...)

	chain := []middleware.Middleware{
		middleware.Recovery(),
		middleware.Logging(),
		middleware.MetricsMiddleware(metrics),
	}
	if cfg.Server.RateLimit > 0 {
		chain = append(chain, middleware.RateLimit(middleware.RateLimitConfig{
			MaxCommandsPerSecond: cfg.Server.RateLimit,
			BurstSize:            cfg.Server.RateBurst,
		}))
	}
	if cfg.Server.CommandTimeout > 0 {
		chain = append(chain, middleware.Timeout(cfg.Server.CommandTimeout))
	}
	middleware.ApplyChain(srv, chain...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	l, err := listen(cfg.Server, tlsConfig)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"addr":    l.Addr().String(),
		"backend": cfg.Storage.Backend,
	}).Info("Listening")
	g.Go(func() error {
		return srv.Serve(l)
	})

	var metricsServer *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		log.WithField("addr", cfg.Metrics.Addr).Info("Serving metrics")
		g.Go(func() error {
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Warn("Metrics shutdown failed")
			}
		}
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStore(cfg config.StorageConfig, log *logrus.Entry) (mailbox.Store, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		return sqlstore.Open(sqlstore.DriverSQLite, cfg.DSN, log)
	case config.BackendPostgres:
		return sqlstore.Open(sqlstore.DriverPostgres, cfg.DSN, log)
	case config.BackendMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func listen(cfg config.ServerConfig, tlsConfig *tls.Config) (net.Listener, error) {
	if cfg.ImplicitTLS {
		l, err := tls.Listen("tcp", cfg.Addr, tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("TLS listen: %w", err)
		}
		return l, nil
	}
	l, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	return l, nil
}
