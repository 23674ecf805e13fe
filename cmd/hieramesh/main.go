package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pterm/pterm"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/VanDung-dev/HieraMesh/hieramesh/api"
	"github.com/VanDung-dev/HieraMesh/hieramesh/monitoring"
	"github.com/VanDung-dev/HieraMesh/hieramesh/node"
)

// Version information
const (
	Version = "0.1.0"
	Name    = "HieraMesh"
)

func main() {
	if err := run(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func run() error {
	envFile := flag.String("env", ".env", "optional dotenv file")
	name := flag.String("name", "", "display name (env MESH_NAME)")
	port := flag.Int("port", 0, "transport port (env MESH_PORT)")
	transport := flag.String("transport", "", "tcp or zmq (env MESH_TRANSPORT)")
	metricsAddr := flag.String("metrics", "", "address for /metrics, /health and /events (env MESH_METRICS_ADDR)")
	inspectAddr := flag.String("inspect", "", "address for the inspect server (env MESH_INSPECT_ADDR)")
	logLevel := flag.String("log-level", "", "debug, info, warn or error (env MESH_LOG_LEVEL)")
	genToken := flag.Bool("gen-token", false, "print a random inspect token and exit")
	showVersion := flag.Bool("v", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", Name, Version)
		return nil
	}
	if *genToken {
		token, err := api.GenerateToken()
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	}

	// A missing .env is normal.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", *envFile, err)
	}

	cfg := node.DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "name":
			cfg.Name = *name
		case "port":
			cfg.Port = *port
		case "transport":
			cfg.Transport = *transport
		case "metrics":
			cfg.MetricsAddr = *metricsAddr
		case "inspect":
			cfg.InspectAddr = *inspectAddr
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	var metrics *monitoring.Metrics
	var rec node.Recorder
	if cfg.MetricsAddr != "" {
		metrics = monitoring.NewMetrics("hieramesh")
		rec = metrics
	}

	svc, err := node.NewService(cfg, log, rec)
	if err != nil {
		return err
	}
	cfg = svc.Config()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, quit := context.WithCancel(ctx)
	defer quit()

	out := newDisplay(os.Stdout)
	out.banner(svc.Coordinator().Status(), cfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })

	if metrics != nil {
		ms := monitoring.NewServer(cfg.MetricsAddr, metrics, svc.Coordinator(), svc.Events(), log)
		g.Go(func() error { return ms.ListenAndServe(gctx) })
	}
	if cfg.InspectAddr != "" {
		is := api.NewServer(svc.Coordinator(), api.NewAuthenticator(cfg.InspectToken), log)
		g.Go(func() error { return is.ListenAndServe(gctx, cfg.InspectAddr) })
	}

	events, cancelEvents := svc.Events().Subscribe(256)
	g.Go(func() error {
		defer cancelEvents()
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				out.event(ev)
			}
		}
	})

	r := &repl{coord: svc.Coordinator(), out: out, quit: quit, publish: svc.Publish}
	go r.loop(gctx, os.Stdin)

	err = g.Wait()
	out.goodbye()
	return err
}

// newLogger writes JSON logs to stderr so they stay out of the chat view.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}
