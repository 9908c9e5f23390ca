package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/mchttp-go/internal/infra/buildinfo"
	"github.com/yndnr/mchttp-go/internal/infra/confloader"
	"github.com/yndnr/mchttp-go/internal/infra/shutdown"
	"github.com/yndnr/mchttp-go/internal/server/config"
	"github.com/yndnr/mchttp-go/internal/server/httpd"
	"github.com/yndnr/mchttp-go/internal/server/httpserver"
	"github.com/yndnr/mchttp-go/internal/telemetry/logger"
	"github.com/yndnr/mchttp-go/internal/telemetry/metric"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	// -v is verbose, as it always was.
	cli.VersionFlag = &cli.BoolFlag{Name: "version", Usage: "print the version"}

	return &cli.App{
		Name:            "mchttp-server",
		Usage:           "static content server with SNI virtual hosts",
		ArgsUsage:       "[files...]",
		Version:         buildinfo.String(),
		HideHelpCommand: true,
		Flags:           flags(),
		Action:          run,
	}
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "path to YAML configuration file",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "log every connection and request head",
		},
		&cli.StringFlag{
			Name:    "listen",
			Aliases: []string{"l"},
			Usage:   "address to bind and listen on (default " + config.DefaultAddr + ")",
		},
		&cli.StringFlag{
			Name:    "tls",
			Aliases: []string{"t"},
			Usage:   "certbot live directory, or a .crt or .key file whose sibling holds the other half",
		},
		&cli.StringFlag{
			Name:    "data-dir",
			Aliases: []string{"d"},
			Usage:   "directory holding one subdirectory per virtual host",
		},
		&cli.StringFlag{
			Name:    "root",
			Aliases: []string{"r"},
			Usage:   "file served at /",
		},
		&cli.BoolFlag{
			Name:  "watch-tls",
			Usage: "also reload TLS identities when their files change",
		},
		&cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "serve /metrics and health endpoints on this address",
		},
		&cli.IntFlag{
			Name:  "max-conns",
			Usage: "maximum concurrently served connections (0 = unbounded)",
		},
		&cli.StringFlag{
			Name:  "log-format",
			Usage: "log output format: json, text",
		},
	}
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log.Info("starting mchttp-server", buildinfo.LogAttrs()...)

	snap, err := config.NewSnapshot(cfg)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	log.Info("configuration loaded", snap.LogAttrs()...)

	var reg *metric.Registry
	if snap.MetricsAddr != "" {
		reg = metric.NewRegistry(cfg.Metrics.Namespace)
	}

	srv, err := httpd.New(snap, httpd.WithLogger(log.Slog()), httpd.WithMetrics(reg))
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	// Cancelled with the failing listener's error so Wait returns.
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	shutdownHandler := shutdown.NewHandler(shutdownTimeout)

	if snap.MetricsAddr != "" {
		admin := newAdminServer(snap.MetricsAddr, reg, srv, log.Slog())
		shutdownHandler.OnShutdown(func(ctx context.Context) error {
			log.Info("shutting down admin server")
			return admin.Shutdown(ctx)
		})
		go func() {
			log.Info("admin server listening", "addr", snap.MetricsAddr)
			if err := admin.ListenAndServe(); err != nil {
				log.Error("admin server error", "error", err)
				cancel(err)
			}
		}()
	}

	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("shutting down content server")
		return srv.Shutdown(ctx)
	})

	serveErr := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe(ctx)
		if err != nil {
			log.Error("content server stopped", "error", err)
			cancel(err)
		}
		serveErr <- err
	}()

	if err := shutdownHandler.Wait(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	log.Info("server stopped", "reason", shutdownHandler.Reason())

	select {
	case err := <-serveErr:
		if errors.Is(err, httpd.ErrListenerStopped) {
			return fmt.Errorf("tls listener terminated: %w", err)
		}
		return err
	case <-time.After(shutdownTimeout):
		return errors.New("content server did not stop")
	}
}

// loadConfig merges defaults, the optional config file, MCHTTP_ environment
// variables and command-line flags, later sources winning.
func loadConfig(c *cli.Context) (*config.ServerConfig, error) {
	cfg := config.Default()

	opts := []confloader.Option{confloader.WithOverrides(flagOverrides(c))}
	if path := c.String("config"); path != "" {
		opts = append(opts, confloader.WithConfigFile(path))
	}

	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// flagOverrides maps explicitly set flags to configuration keys. Request
// paths may contain dots, so the static table is passed as a nested map.
func flagOverrides(c *cli.Context) map[string]any {
	out := make(map[string]any)

	if c.Bool("verbose") {
		out["log.level"] = "debug"
	}
	if c.IsSet("log-format") {
		out["log.format"] = c.String("log-format")
	}
	if c.IsSet("listen") {
		out["server.addr"] = c.String("listen")
	}
	if c.IsSet("max-conns") {
		out["server.max_conns"] = c.Int("max-conns")
	}
	if c.IsSet("tls") {
		out["tls.path"] = c.String("tls")
	}
	if c.IsSet("watch-tls") {
		out["tls.watch"] = c.Bool("watch-tls")
	}
	if c.IsSet("data-dir") {
		out["content.data_dir"] = c.String("data-dir")
	}
	if c.IsSet("metrics-addr") {
		out["metrics.addr"] = c.String("metrics-addr")
	}

	files := make(map[string]any)
	if c.IsSet("root") {
		files["/"] = c.String("root")
	}
	for _, arg := range c.Args().Slice() {
		files[config.StaticPath(arg)] = arg
	}
	if len(files) > 0 {
		out["content.files"] = files
	}

	return out
}

func initLogger(cfg *config.ServerConfig) (logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
	if err != nil {
		return nil, err
	}
	logger.SetDefault(log)
	return log, nil
}

func newAdminServer(addr string, reg *metric.Registry, srv *httpd.Server, log *slog.Logger) *httpserver.Server {
	rc := &httpserver.RouterConfig{
		Metrics: reg,
		Ready:   srv.Serving,
		Logger:  log,
	}
	if acc := srv.Acceptor(); acc != nil {
		rc.Identities = acc
	}
	return httpserver.New(addr, httpserver.NewRouter(rc))
}
