package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/jaxxstorm/dnsaudit/internal/catalog"
	"github.com/jaxxstorm/dnsaudit/internal/config"
	"github.com/jaxxstorm/dnsaudit/internal/dnsclient"
	"github.com/jaxxstorm/dnsaudit/internal/metrics"
	"github.com/jaxxstorm/dnsaudit/internal/model"
	"github.com/jaxxstorm/dnsaudit/internal/orchestrator"
	"github.com/jaxxstorm/dnsaudit/internal/output"
	"github.com/jaxxstorm/dnsaudit/internal/probe"
	"go.uber.org/zap"
)

var Version = "dev"

type CLI struct {
	Run        RunCmd        `cmd:"" default:"1" help:"Run the assessment (default)."`
	Categories CategoriesCmd `cmd:"categories" help:"List test categories and their scoring metric."`
	Version    VersionCmd    `cmd:"version" help:"Print version."`
}

type RunCmd struct {
	Config       string        `short:"c" type:"existingfile" help:"TOML configuration file."`
	Category     []string      `name:"category" help:"Category to run (repeatable). Overrides the configured list."`
	Resolvers    []string      `name:"resolver" help:"Resolver IPs to test (repeatable). If not set, uses configured or system resolvers."`
	Transport    string        `enum:"udp,tcp,auto" default:"auto" help:"Transport for --resolver targets."`
	Environment  string        `help:"Label recorded on the run."`
	Deadline     time.Duration `help:"Overall run deadline. Overrides the configured value."`
	ProbeTimeout time.Duration `help:"Per-probe timeout. Overrides the configured value."`
	Output       string        `enum:"pretty,json,env" default:"pretty" help:"Output format."`
	MetricsFile  string        `name:"metrics-file" help:"Write prometheus metrics to this textfile."`
	Verbose      bool          `help:"Enable verbose logging."`
	Debug        bool          `help:"Enable debug logging (includes raw DNS messages)."`
}

type CategoriesCmd struct{}

type VersionCmd struct{}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("dnsaudit"),
		kong.Description("Assess the security and health of the DNS resolution path."),
	)

	switch ctx.Selected().Name {
	case "version":
		fmt.Println(Version)
		return
	case "categories":
		listCategories()
		return
	}

	logger, err := newLogger(cli.Run.Verbose, cli.Run.Debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	code := run(cli.Run, logger)
	_ = logger.Sync()
	os.Exit(code)
}

func run(cmd RunCmd, logger *zap.Logger) int {
	cfg, err := loadConfig(cmd)
	if err != nil {
		printError(err)
		return 1
	}

	client := dnsclient.New(dnsclient.Options{
		Timeout: cfg.Run.ProbeTimeout.Duration,
		Retries: 1,
		Logger:  logger,
	})
	executor := probe.NewExecutor(probe.Options{DNS: client, Logger: logger})

	opts := orchestrator.Options{Prober: executor, Logger: logger}
	var recorder *metrics.Recorder
	if cmd.MetricsFile != "" {
		recorder = metrics.New()
		opts.Observer = recorder
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bundle, err := orchestrator.New(opts).Run(ctx, cfg)
	if err != nil {
		printError(err)
		return 1
	}

	var rendered string
	switch cmd.Output {
	case "json":
		rendered, err = output.RenderJSON(bundle)
	case "env":
		rendered = output.RenderEnv(bundle)
	default:
		rendered = output.RenderPretty(bundle)
	}
	if err != nil {
		printError(err)
		return 1
	}
	fmt.Println(rendered)

	if recorder != nil {
		if err := recorder.WriteTextfile(cmd.MetricsFile); err != nil {
			printError(err)
			return 1
		}
	}
	if bundle.Run.Status == model.RunCritical {
		return 2
	}
	return 0
}

func loadConfig(cmd RunCmd) (*config.Config, error) {
	cfg := config.Default()
	if cmd.Config != "" {
		loaded, err := config.Load(cmd.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if len(cmd.Category) > 0 {
		cfg.Run.Categories = cmd.Category
	}
	if cmd.Environment != "" {
		cfg.Run.Environment = cmd.Environment
	}
	if cmd.Deadline > 0 {
		cfg.Run.Deadline = config.Duration{Duration: cmd.Deadline}
	}
	if cmd.ProbeTimeout > 0 {
		cfg.Run.ProbeTimeout = config.Duration{Duration: cmd.ProbeTimeout}
	}
	if len(cmd.Resolvers) > 0 {
		cfg.Resolvers = nil
		for i, addr := range cmd.Resolvers {
			cfg.Resolvers = append(cfg.Resolvers, model.ResolverTarget{
				Address:   addr,
				Transport: model.Transport(cmd.Transport),
				Primary:   i == 0,
			})
		}
	}
	if len(cfg.Resolvers) == 0 {
		system, err := config.SystemResolvers()
		if err != nil {
			return nil, err
		}
		cfg.Resolvers = system
	}
	return cfg, nil
}

func listCategories() {
	thresholds := config.DefaultThresholds()
	for _, c := range catalog.All() {
		t := thresholds[string(c.Name())]
		fmt.Printf("%-20s %s (%s is better)\n", c.Name(), t.Metric, t.Direction)
	}
}

func printError(err error) {
	var verr *config.ValidationError
	if errors.As(err, &verr) {
		fmt.Fprintln(os.Stderr, "invalid configuration:")
		for _, e := range verr.Errors {
			fmt.Fprintln(os.Stderr, "  "+e.Error())
		}
		return
	}
	fmt.Fprintln(os.Stderr, err)
}

func newLogger(verbose bool, debug bool) (*zap.Logger, error) {
	if debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	return cfg.Build()
}
