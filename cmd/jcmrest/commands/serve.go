package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jcmrest/jcmrest/api"
	"github.com/jcmrest/jcmrest/core"
	"github.com/jcmrest/jcmrest/platform"
	"github.com/jcmrest/jcmrest/telemetry"
)

var serveFlags struct {
	config         string
	address        string
	port           int
	workers        int
	commandTimeout time.Duration
	redisURL       string
	logLevel       string
	dev            bool
	agents         []string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST server",
	Long: `Start the REST server.

Agents given with --agent are created before the server accepts requests.
An agent without a file runs the default program.

Examples:
  jcmrest serve --port 8080
  jcmrest serve --agent bob --agent alice=alice.asl
  jcmrest serve --config jcmrest.yaml --redis-url redis://localhost:6379`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := core.NewConfig(serveOptions(cmd)...)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVarP(&serveFlags.config, "config", "c", "", "configuration file (JSON or YAML)")
	f.StringVar(&serveFlags.address, "address", "", "bind address")
	f.IntVarP(&serveFlags.port, "port", "p", 8080, "HTTP port")
	f.IntVar(&serveFlags.workers, "workers", 2, "execution pool workers")
	f.DurationVar(&serveFlags.commandTimeout, "command-timeout", 30*time.Second, "bound on a single agent command")
	f.StringVar(&serveFlags.redisURL, "redis-url", "", "store agent logs and the directory in Redis")
	f.StringVar(&serveFlags.logLevel, "log-level", "", "debug, info, warn or error")
	f.BoolVar(&serveFlags.dev, "dev", false, "development mode: console logs and request logging")
	f.StringArrayVarP(&serveFlags.agents, "agent", "a", nil, "create an agent at startup, as name or name=file")
}

// serveOptions turns explicitly set flags into config options. Flags win
// over the config file, which wins over the environment.
func serveOptions(cmd *cobra.Command) []core.Option {
	var opts []core.Option
	if serveFlags.config != "" {
		opts = append(opts, core.WithConfigFile(serveFlags.config))
	}
	changed := cmd.Flags().Changed
	if changed("address") {
		opts = append(opts, core.WithAddress(serveFlags.address))
	}
	if changed("port") {
		opts = append(opts, core.WithPort(serveFlags.port))
	}
	if changed("workers") {
		opts = append(opts, core.WithWorkers(serveFlags.workers))
	}
	if changed("command-timeout") {
		opts = append(opts, core.WithCommandTimeout(serveFlags.commandTimeout))
	}
	if changed("redis-url") {
		opts = append(opts, core.WithRedisURL(serveFlags.redisURL))
	}
	if changed("log-level") {
		opts = append(opts, core.WithLogLevel(serveFlags.logLevel))
	}
	if changed("dev") {
		opts = append(opts, core.WithDevelopmentMode(serveFlags.dev))
	}
	return opts
}

func serve(parent context.Context, cfg *core.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	zl, err := core.NewZapLogger(cfg.Logging, cfg.Name)
	if err != nil {
		return err
	}
	defer zl.Sync()
	logger := core.WithComponent(zl, "framework/server")

	platformOpts := []platform.Option{platform.WithLogger(zl)}
	if cfg.Telemetry.Enabled {
		tp, err := telemetry.NewProvider(ctx, cfg.Telemetry,
			telemetry.WithLogger(zl),
			telemetry.WithServiceVersion(Version))
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Telemetry shutdown failed", map[string]interface{}{"error": err.Error()})
			}
		}()
		platformOpts = append(platformOpts, platform.WithTelemetry(tp))
	}

	p, err := platform.New(cfg, platformOpts...)
	if err != nil {
		return err
	}
	if err := p.Start(); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Pool.ShutdownTimeout)
		defer cancel()
		if err := p.Shutdown(shutdownCtx); err != nil {
			logger.Error("Platform shutdown failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	for _, spec := range serveFlags.agents {
		if err := createInitialAgent(ctx, p, spec); err != nil {
			return err
		}
	}

	srv := api.NewServer(p, zl)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down HTTP server", nil)
		return srv.Shutdown(context.Background())
	})

	logger.Info("jcmrest started", map[string]interface{}{
		"address": cfg.ListenAddress(),
		"version": Version,
		"agents":  len(serveFlags.agents),
	})
	return g.Wait()
}

// createInitialAgent creates an agent from "name" or "name=file".
func createInitialAgent(ctx context.Context, p *platform.Platform, spec string) error {
	name, path, hasFile := strings.Cut(spec, "=")
	source := ""
	if hasFile {
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("agent %s: %w", name, err)
		}
		source = string(b)
	}
	if _, err := p.CreateAgent(ctx, name, source); err != nil {
		return fmt.Errorf("agent %s: %w", name, err)
	}
	return nil
}
