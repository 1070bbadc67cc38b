package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/xrplf/xrplreport/internal/backend"
	"github.com/xrplf/xrplreport/internal/backend/cassandra"
	"github.com/xrplf/xrplreport/internal/backend/mock"
	"github.com/xrplf/xrplreport/internal/backend/postgres"
	"github.com/xrplf/xrplreport/internal/cache"
	"github.com/xrplf/xrplreport/internal/config"
	"github.com/xrplf/xrplreport/internal/etl"
	"github.com/xrplf/xrplreport/internal/ledger"
	"github.com/xrplf/xrplreport/internal/queue"
	"github.com/xrplf/xrplreport/internal/reporting"
	"github.com/xrplf/xrplreport/internal/source"
	"github.com/xrplf/xrplreport/internal/subscription"
	"github.com/xrplf/xrplreport/internal/xerrors"
	"github.com/xrplf/xrplreport/internal/xlog"
	"github.com/xrplf/xrplreport/internal/xmetrics"
)

// queueCapacity bounds C7, the validated-ledger handoff queue, independent
// of the ETL raw-queue's own (smaller) backpressure window.
const queueCapacity = 1024

// onlineDeletePollInterval bounds how often a configured online_delete
// threshold is re-checked against the persisted range.
const onlineDeletePollInterval = 5 * time.Minute

var configFlag = &cli.StringFlag{
	Name:     "config",
	Aliases:  []string{"c"},
	Usage:    "path to the node's TOML configuration file",
	Required: true,
}

var serveCommand = &cli.Command{
	Name:   "serve",
	Usage:  "run the reporting node: extract, transform, load, and serve history",
	Flags:  []cli.Flag{configFlag},
	Action: runServe,
}

var verifyConfigCommand = &cli.Command{
	Name:  "verify-config",
	Usage: "load and validate a configuration file without starting anything",
	Flags: []cli.Flag{configFlag},
	Action: func(cctx *cli.Context) error {
		cfg, err := config.Load(cctx.String("config"))
		if err != nil {
			return err
		}
		fmt.Printf("config OK: database=%s etl_sources=%d read_only=%v\n", cfg.Database.Type, len(cfg.EtlSources), cfg.ReadOnly)
		return nil
	},
}

var dumpRangeCommand = &cli.Command{
	Name:  "dump-range",
	Usage: "print the persisted ledger range and exit",
	Flags: []cli.Flag{configFlag},
	Action: func(cctx *cli.Context) error {
		cfg, err := config.Load(cctx.String("config"))
		if err != nil {
			return err
		}
		be, err := openBackend(context.Background(), cfg, xmetrics.Noop())
		if err != nil {
			return err
		}
		defer be.Close()

		rng, err := be.FetchLedgerRange(context.Background())
		if err != nil && !errors.Is(err, xerrors.NotFound) {
			return err
		}
		if rng == nil {
			fmt.Println("empty")
			return nil
		}
		fmt.Println(rng.String())
		return nil
	},
}

var exampleConfigCommand = &cli.Command{
	Name:  "example-config",
	Usage: "write a fully-populated example configuration file",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "out", Value: "xrplreport.toml", Usage: "output path"},
	},
	Action: func(cctx *cli.Context) error {
		return config.WriteExample(cctx.String("out"))
	},
}

func runServe(cctx *cli.Context) error {
	cfg, err := config.Load(cctx.String("config"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := configureLogging(cfg); err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}
	log := xlog.For("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !cfg.ReadOnly {
		lock, err := acquireInstanceLock(cfg)
		if err != nil {
			return err
		}
		if lock != nil {
			defer lock.Unlock()
		}
	}

	metrics := xmetrics.New()
	go serveMetrics(ctx, cfg.MetricsListenAddr, metrics, log)

	be, err := openBackend(ctx, cfg, metrics)
	if err != nil {
		return fmt.Errorf("opening backend: %w", err)
	}
	defer be.Close()

	c := buildCache(cfg, metrics)
	reportingOpts := []reporting.Option{reporting.WithMetrics(metrics)}
	if cfg.Cache.L2Bytes > 0 {
		reportingOpts = append(reportingOpts, reporting.WithL2Cache(cfg.Cache.L2Bytes))
	}
	hints := cache.NewHintRing(cfg.Cache.HintFile, cfg.Cache.NumDiffs)
	reportingOpts = append(reportingOpts, reporting.WithHintRing(hints))
	iface := reporting.New(be, c, reportingOpts...)
	if err := iface.ReplayHints(ctx); err != nil {
		log.Warn("replaying diff hints", "err", err)
	}
	subs := subscription.New(subscription.WithMetrics(metrics))
	q := queue.New(queueCapacity)

	if cfg.Cache.Load != config.CacheLoadNone {
		go loadCache(ctx, iface, c, cfg, log)
	}

	if cfg.OnlineDelete != nil {
		go onlineDeleteLoop(ctx, iface, *cfg.OnlineDelete, log)
	}

	var bal *source.Balancer
	if !cfg.ReadOnly {
		bal = buildBalancer(cfg, q, subs, metrics, log)
		go bal.Run(ctx)
		defer bal.Close()
	}

	ctrl := etl.New(etl.Config{
		ExtractorThreads: cfg.ExtractorThreads,
		NumMarkers:       cfg.NumMarkers,
		ReadOnly:         cfg.ReadOnly,
		StartSequence:    cfg.StartSequence,
		FinishSequence:   cfg.FinishSequence,
	}, iface, bal, q, subs, metrics)

	log.Info("starting xrplreportd", "database", cfg.Database.Type, "read_only", cfg.ReadOnly, "sources", len(cfg.EtlSources))
	err = ctrl.Run(ctx)
	if err != nil && errors.Is(err, context.Canceled) {
		log.Info("shutting down")
		return nil
	}
	return err
}

func configureLogging(cfg config.Config) error {
	level, err := xlog.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	xlog.SetVerbosity(level)

	opts := xlog.Options{Format: cfg.Log.Format}
	if cfg.Log.Directory != "" {
		rf, err := xlog.NewRotatingFile(cfg.Log.Directory, "xrplreportd", cfg.Log.RotationSizeBytes, cfg.Log.RotationInterval(), cfg.Log.DirectoryMaxBytes)
		if err != nil {
			return err
		}
		opts.Output = rf
	}
	return xlog.Init(opts)
}

// acquireInstanceLock guards against two writer processes pointed at the
// same log directory corrupting each other's rotation bookkeeping and
// racing uncoordinated StartWrites calls; read-only processes never write
// and so never need it.
func acquireInstanceLock(cfg config.Config) (*flock.Flock, error) {
	dir := cfg.Log.Directory
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	lock := flock.New(filepath.Join(dir, "xrplreportd.instance.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring instance lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another writer process already holds the instance lock in %s", dir)
	}
	return lock, nil
}

func openBackend(ctx context.Context, cfg config.Config, metrics *xmetrics.Metrics) (backend.Backend, error) {
	switch cfg.Database.Type {
	case config.DatabaseCassandra:
		return cassandra.Open(cfg.Database.Cassandra, cassandra.WithMetrics(metrics))
	case config.DatabasePostgres:
		return postgres.Open(ctx, cfg.Database.Postgres, postgres.WithMetrics(metrics))
	case config.DatabaseMock:
		return mock.New(), nil
	default:
		return nil, fmt.Errorf("unknown database.type %q", cfg.Database.Type)
	}
}

func buildCache(cfg config.Config, metrics *xmetrics.Metrics) *cache.Cache {
	opts := []cache.Option{cache.WithMetrics(metrics)}
	if cfg.Cache.Load == config.CacheLoadNone {
		opts = append(opts, cache.Disabled())
	}
	return cache.New(opts...)
}

// loadCache runs the background full-state load once a persisted range
// exists. For cache.load=sync this still runs off the main goroutine; sync
// vs async here only affects how eagerly the cache becomes IsFull, not
// whether serve blocks on it — a reporting node should start answering
// cache-miss-falls-through-to-backend reads immediately either way.
func loadCache(ctx context.Context, iface *reporting.Interface, c *cache.Cache, cfg config.Config, log xlog.Logger) {
	var rng *ledger.Range
	for {
		r, err := iface.FetchLedgerRange(ctx)
		if err == nil {
			rng = r
			break
		}
		if !errors.Is(err, xerrors.NotFound) {
			log.Warn("cache load: fetching ledger range", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
	if rng == nil {
		return
	}
	log.Info("starting background cache load", "seq", rng.Max)
	if err := c.BackgroundLoad(ctx, iface, rng.Max, cache.LoadOptions{}); err != nil && ctx.Err() == nil {
		log.Warn("background cache load failed", "err", err)
	}
}

func onlineDeleteLoop(ctx context.Context, iface *reporting.Interface, retain int, log xlog.Logger) {
	ticker := time.NewTicker(onlineDeletePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		rng, err := iface.FetchLedgerRange(ctx)
		if err != nil || rng == nil {
			continue
		}
		if int(rng.Max-rng.Min) <= retain {
			continue
		}
		keepMin := rng.Max - ledger.Seq(retain)
		log.Info("running online delete", "keep_min", keepMin)
		if err := iface.DoOnlineDelete(ctx, keepMin); err != nil {
			log.Warn("online delete failed", "err", err)
		}
	}
}

func buildBalancer(cfg config.Config, q *queue.Queue, subs *subscription.Registry, metrics *xmetrics.Metrics, log xlog.Logger) *source.Balancer {
	sources := make([]*source.Source, 0, len(cfg.EtlSources))
	for _, es := range cfg.EtlSources {
		sources = append(sources, source.New(es, nil, q, subs, metrics, log))
	}
	return source.NewBalancer(sources, subs, log.With("component", "balancer"), rand.Int63())
}

func serveMetrics(ctx context.Context, addr string, metrics *xmetrics.Metrics, log xlog.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	log.Info("metrics listener starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Warn("metrics listener stopped", "err", err)
	}
}
