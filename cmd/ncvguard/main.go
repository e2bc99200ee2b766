// Command ncvguard replays a recorded drive through the NCV collision
// checker and reports replans, conflicts and expectation mismatches.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/banshee-data/ncvguard/internal/collision"
	"github.com/banshee-data/ncvguard/internal/config"
	"github.com/banshee-data/ncvguard/internal/monitoring"
	"github.com/banshee-data/ncvguard/internal/plotting"
	"github.com/banshee-data/ncvguard/internal/storage/sqlite"
	"github.com/banshee-data/ncvguard/internal/version"
)

type options struct {
	configPath    string
	scenarioPath  string
	dbPath        string
	runID         string
	metricsListen string
	grpcListen    string
	plotPath      string
	linger        time.Duration
	debug         bool
	showVersion   bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to tuning config (.json/.yaml); defaults apply when empty")
	flag.StringVar(&opts.scenarioPath, "scenario", "", "Path to scenario JSON (required)")
	flag.StringVar(&opts.dbPath, "db", "", "SQLite file for the replan/host-plan audit trail (optional)")
	flag.StringVar(&opts.runID, "run-id", "", "Run identifier in the audit trail (random when empty)")
	flag.StringVar(&opts.metricsListen, "metrics-listen", "", "Address for the Prometheus /metrics endpoint (e.g. :9108)")
	flag.StringVar(&opts.grpcListen, "grpc-listen", "", "Address for the gRPC health service (e.g. :50051)")
	flag.StringVar(&opts.plotPath, "plot", "", "Write a downtrack/time chart of the final state (.png, .svg, .pdf)")
	flag.DurationVar(&opts.linger, "linger", 0, "Keep the endpoints up this long after the replay finishes")
	flag.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&opts.showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if opts.showVersion {
		fmt.Println("ncvguard", version.String())
		return
	}

	if opts.scenarioPath == "" {
		fmt.Fprintln(os.Stderr, "-scenario is required")
		flag.Usage()
		os.Exit(2)
	}

	logger, err := newLogger(opts.debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck
	monitoring.UseZap(logger)
	logger.Info("starting ncvguard", zap.String("version", version.Version), zap.String("git_sha", version.GitSHA))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, logger); err != nil {
		logger.Error("replay failed", zap.Error(err))
		logger.Sync() //nolint:errcheck
		os.Exit(1)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func loadParams(path string) (collision.Params, error) {
	if path == "" {
		return collision.DefaultParams(), nil
	}
	cfg, err := config.LoadTuningConfig(path)
	if err != nil {
		return collision.Params{}, err
	}
	return collision.ParamsFromTuning(cfg), nil
}

func run(ctx context.Context, opts options, logger *zap.Logger) error {
	params, err := loadParams(opts.configPath)
	if err != nil {
		return err
	}
	scenario, err := LoadScenario(opts.scenarioPath)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	if err := collision.RegisterMetrics(reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	var recorder collision.EventRecorder
	if opts.dbPath != "" {
		db, err := sqlite.OpenDB(opts.dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		store := sqlite.NewEventStore(db, opts.runID)
		logger.Info("recording events", zap.String("db", opts.dbPath), zap.String("run_id", store.RunID()))
		buffered := collision.NewBufferedRecorder(store, collision.DefaultRecorderBuffer)
		defer buffered.Close()
		recorder = buffered
	}

	replayer, err := NewReplayer(scenario, params, recorder, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	var healthSrv *health.Server
	if opts.grpcListen != "" {
		var grpcSrv *grpc.Server
		grpcSrv, healthSrv = newGRPCServer()
		if err := registerGRPCMetrics(reg); err != nil {
			return err
		}
		g.Go(func() error { return serveGRPC(gctx, opts.grpcListen, grpcSrv, logger) })
	}
	if opts.metricsListen != "" {
		g.Go(func() error { return serveMetrics(gctx, opts.metricsListen, reg, logger) })
	}

	var summary Summary
	g.Go(func() error {
		defer cancel()
		setServing(healthSrv, true)
		defer setServing(healthSrv, false)

		logger.Info("replaying scenario",
			zap.String("name", scenario.Name),
			zap.Int("frames", len(scenario.Frames)),
			zap.Int("planner_actions", len(scenario.Planner)),
		)
		var err error
		summary, err = replayer.Run(gctx)
		if err != nil {
			return err
		}
		if opts.linger > 0 && (opts.grpcListen != "" || opts.metricsListen != "") {
			logger.Info("lingering", zap.Duration("for", opts.linger))
			select {
			case <-time.After(opts.linger):
			case <-gctx.Done():
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("replay finished",
		zap.Int("frames", summary.Frames),
		zap.Int("skipped_frames", summary.SkippedFrames),
		zap.Int("host_plans", summary.HostPlans),
		zap.Int("candidates", summary.Candidates),
		zap.Int("conflicts", summary.Conflicts),
		zap.Int64("replans", summary.Replans),
		zap.Int("tracked_objects", replayer.Checker().TrackedObjectCount()),
	)

	if opts.plotPath != "" {
		chart := plotting.SpaceTime{
			Title:       scenario.Name,
			HostPlan:    replayer.Checker().HostPlan(),
			Predictions: replayer.Checker().Predictions(),
		}
		switch err := chart.Save(opts.plotPath); {
		case errors.Is(err, plotting.ErrNothingToPlot):
			logger.Warn("nothing to plot", zap.String("path", opts.plotPath))
		case err != nil:
			return err
		default:
			logger.Info("wrote plot", zap.String("path", opts.plotPath))
		}
	}

	if len(summary.Mismatches) > 0 {
		return fmt.Errorf("%d expectation mismatches:\n  %s", len(summary.Mismatches), strings.Join(summary.Mismatches, "\n  "))
	}
	return nil
}
