package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/calvinalkan/shop/internal/api"
	"github.com/calvinalkan/shop/internal/config"
	"github.com/calvinalkan/shop/internal/docstore"
	"github.com/calvinalkan/shop/internal/pipeline"
	"github.com/calvinalkan/shop/internal/server"
)

const usage = `Usage: shopd [flags]

Serves the shop API, /metrics, /live and /ready.

Config is read from .env.<SHOP_ENV>.json and .env.<SHOP_ENV>.local.json in
the working directory, then from --config, then from flags.

Flags:
`

type flags struct {
	set         *flag.FlagSet
	workDir     string
	configPath  string
	dbPath      string
	addr        string
	production  bool
	logLevel    string
	printConfig bool
}

func parseFlags(args []string) (*flags, error) {
	f := &flags{set: flag.NewFlagSet("shopd", flag.ContinueOnError)}
	f.set.SetOutput(io.Discard)

	f.set.StringVarP(&f.workDir, "cwd", "C", "", "run as if started in `dir`")
	f.set.StringVarP(&f.configPath, "config", "c", "", "load config from `file`")
	f.set.StringVar(&f.dbPath, "db-path", "", "database directory")
	f.set.StringVar(&f.addr, "addr", "", "listen address")
	f.set.BoolVar(&f.production, "production", false, "hide error stacks from clients")
	f.set.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	f.set.BoolVar(&f.printConfig, "print-config", false, "print the resolved config and exit")

	err := f.set.Parse(args)
	if err != nil {
		return f, err
	}

	if f.set.NArg() > 0 {
		return f, fmt.Errorf("unexpected argument: %s", f.set.Arg(0))
	}

	return f, nil
}

// overrides returns only the flags given on the command line.
func (f *flags) overrides() config.Overrides {
	var o config.Overrides

	if f.set.Changed("db-path") {
		o.DBPath = &f.dbPath
	}

	if f.set.Changed("addr") {
		o.Addr = &f.addr
	}

	if f.set.Changed("production") {
		o.Production = &f.production
	}

	if f.set.Changed("log-level") {
		o.LogLevel = &f.logLevel
	}

	return o
}

func printUsage(w io.Writer, f *flags) {
	var buf strings.Builder

	f.set.SetOutput(&buf)
	f.set.PrintDefaults()
	f.set.SetOutput(io.Discard)

	fmt.Fprint(w, usage, buf.String())
}

// run is the whole program. Returns exit code.
func run(out, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	f, err := parseFlags(args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(out, f)

			return 0
		}

		fmt.Fprintln(errOut, "error:", err)
		printUsage(errOut, f)

		return 1
	}

	cfg, err := config.Load(config.LoadInput{
		WorkDir:    f.workDir,
		ConfigPath: f.configPath,
		Env:        env,
		Overrides:  f.overrides(),
	})
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	if f.printConfig {
		return printConfig(out, errOut, cfg)
	}

	log, err := server.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case sig := <-sigCh:
			log.Info("received signal", zap.Stringer("signal", sig))
			cancel()
		case <-ctx.Done():
		}
	}()

	err = serve(ctx, cfg, log)
	if err != nil {
		log.Error("shopd stopped", zap.Error(err))

		return 1
	}

	return 0
}

func serve(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	db := docstore.New(cfg.DBPathAbs,
		docstore.WithLogger(log.Named("docstore")),
		docstore.WithMetrics(docstore.NewMetrics(reg)),
	)

	for _, spec := range api.Collections(cfg.DurableWrites) {
		db.Configure(spec)
	}

	err := db.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	log.Info("database connected",
		zap.String("path", db.BaseDir()),
		zap.Strings("collections", db.Names()),
		zap.String("env", cfg.Env),
		zap.Strings("config", cfg.Sources),
	)

	if cfg.SeedProducts {
		created, err := api.SeedProducts(ctx, db, api.DefaultProducts)
		if err != nil {
			return fmt.Errorf("seed products: %w", err)
		}

		if created {
			log.Info("seeded products", zap.Int("count", len(api.DefaultProducts)))
		}
	}

	svc, err := api.New(db,
		api.WithSecret(cfg.Secret),
		api.WithTokenTTL(time.Duration(cfg.TokenTTL)),
		api.WithLogger(log.Named("api")),
	)
	if err != nil {
		return err
	}

	srv := server.New(server.Options{
		Addr: cfg.HTTP.Addr,
		API: svc.Pipeline(
			pipeline.WithProduction(cfg.Production),
			pipeline.WithLogger(log.Named("pipeline")),
		),
		Store:    db,
		Logger:   log,
		Registry: reg,
	})

	return srv.Run(ctx)
}

func printConfig(out, errOut io.Writer, cfg config.Config) int {
	if cfg.Secret != "" {
		cfg.Secret = "<redacted>"
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	fmt.Fprintln(out, string(data))

	for _, src := range cfg.Sources {
		fmt.Fprintln(errOut, "loaded:", src)
	}

	return 0
}
