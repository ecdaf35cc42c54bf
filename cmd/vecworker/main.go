// Command vecworker is the engine process spec.md §5 describes: "one OS
// process per index" accepting RPC connections from a host database and
// serving Build/Insert/Delete/Search/Flush/Stat/Destroy over them.
//
// Grounded on the teacher's main.go: command-line flag parsing for
// --datadir/--bind/--config, console-mode startup logging, and
// signal.NotifyContext-driven graceful shutdown, adapted from an HTTP
// service to a net.Listener accept loop handing connections to
// internal/rpc.Worker.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nicexipi/vecengine/internal/config"
	"github.com/nicexipi/vecengine/internal/engine"
	"github.com/nicexipi/vecengine/internal/logging"
	"github.com/nicexipi/vecengine/internal/metrics"
	"github.com/nicexipi/vecengine/internal/rpc"
)

// defaultEngineOptions translates cfg's Vector/Indexing/Optimizing blocks
// into the engine.Options an OpBuild request gets when it omits its own
// (internal/rpc.Worker.SetDefaults).
func defaultEngineOptions(cfg *config.Config) (engine.Options, error) {
	vecKind, err := cfg.Vector.ParseKind()
	if err != nil {
		return engine.Options{}, err
	}
	distKind, err := cfg.Vector.ParseDistance()
	if err != nil {
		return engine.Options{}, err
	}
	indexOpts, err := cfg.Indexing.ToOptions()
	if err != nil {
		return engine.Options{}, err
	}
	return engine.Options{
		Vector: engine.VectorOptions{
			Dims:     cfg.Vector.Dims,
			Kind:     vecKind,
			Distance: distKind,
		},
		Segment: engine.SegmentOptions{
			MaxGrowingSegmentSize: cfg.Optimizing.SealingSize,
			MaxSealedSegmentSize:  cfg.Optimizing.SealingSize * 10,
		},
		Indexing: indexOpts,
		Optimizing: engine.OptimizingOptions{
			SealingSecs:       cfg.Optimizing.SealingSecs,
			SealingSize:       cfg.Optimizing.SealingSize,
			OptimizingThreads: cfg.WorkerThreads,
			MergeMinInputs:    cfg.Optimizing.MergeMinInputs,
			MergeRatioBound:   cfg.Optimizing.MergeRatioBound,
		},
	}, nil
}

func main() {
	configPath := parseFlag("--config", "./vecengine.json")
	dataDirOverride := parseFlag("--datadir", "")
	bindOverride := parseFlag("--bind", "")

	if len(os.Args) >= 2 && (os.Args[1] == "help" || os.Args[1] == "-h" || os.Args[1] == "--help") {
		printUsage()
		return
	}

	cm := config.NewConfigManager(configPath)
	if err := cm.Load(); err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg := cm.Get()
	if dataDirOverride != "" {
		cfg.DataDir = dataDirOverride
	}
	if bindOverride != "" {
		cfg.Server.Bind = bindOverride
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("vecworker: %v", err)
	}
}

func run(cfg *config.Config) error {
	logLevel, err := cfg.Logging.ParseLevel()
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	lg, err := logging.New(logging.Options{
		Dir:          filepath.Join(cfg.DataDir, "logs"),
		Level:        logLevel,
		MaxRotSizeMB: cfg.Logging.MaxRotSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
	})
	if err != nil {
		return fmt.Errorf("open logger: %w", err)
	}
	defer lg.Close()

	reg := prometheus.NewRegistry()
	met := metrics.New(reg, filepath.Base(cfg.DataDir))

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	worker := rpc.NewWorker(cfg.DataDir, lg, met)
	defer worker.Close()
	defaults, err := defaultEngineOptions(cfg)
	if err != nil {
		return fmt.Errorf("build default engine options: %w", err)
	}
	worker.SetDefaults(defaults)

	listener, err := net.Listen(cfg.Server.Network, cfg.Server.Bind)
	if err != nil {
		return fmt.Errorf("listen on %s %s: %w", cfg.Server.Network, cfg.Server.Bind, err)
	}
	defer listener.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var metricsSrv *http.Server
	if cfg.MetricsBind != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.MetricsBind, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				lg.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	fmt.Printf("vecworker listening on %s %s (data directory: %s)\n", cfg.Server.Network, cfg.Server.Bind, cfg.DataDir)

	var wg sync.WaitGroup
	acceptDone := make(chan struct{})
	// slots caps the connections served at once at cfg.WorkerThreads; the
	// accept loop waits for a free slot before accepting the next one.
	slots := make(chan struct{}, cfg.WorkerThreads)
	go func() {
		defer close(acceptDone)
		for {
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return
			}
			conn, err := listener.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				lg.Error("accept failed", zap.Error(err))
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-slots }()
				defer conn.Close()
				if err := worker.Serve(ctx, conn); err != nil {
					lg.Error("connection closed with error", zap.Error(err))
				}
			}()
		}
	}()

	<-ctx.Done()
	listener.Close()
	if metricsSrv != nil {
		metricsSrv.Close()
	}
	<-acceptDone
	wg.Wait()
	return nil
}

// parseFlag extracts a "--name value" or "--name=value" flag from the
// process arguments, matching the teacher's parseDataDirFlag/parsePortFlag
// shape generalized to one helper.
func parseFlag(name, fallback string) string {
	prefix := name + "="
	for i, arg := range os.Args {
		if strings.HasPrefix(arg, prefix) {
			return strings.TrimPrefix(arg, prefix)
		}
		if arg == name && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
	}
	return fallback
}

func printUsage() {
	fmt.Println(`Usage:
  vecworker                           Start with ./vecengine.json (or defaults if absent)
  vecworker --config=<path>           Specify config file path
  vecworker --datadir=<path>          Override data directory
  vecworker --bind=<addr>             Override listen address
  vecworker help                      Show this help information`)
}
