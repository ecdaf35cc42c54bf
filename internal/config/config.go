// Package config loads and hot-reloads the worker process's configuration:
// the data directory, the listen descriptor, per-index defaults for
// VectorOptions/OptimizingOptions, log level, and the RPC worker pool size
// (spec.md §6's "config for the worker process", SPEC_FULL.md §2 AMBIENT).
//
// Grounded on the teacher's internal/config: a JSON file loaded once at
// startup, env-var overrides for anything a deployment shouldn't have to
// bake into the file, and a ConfigManager wrapping it all behind a mutex so
// Reload can be called while requests are in flight.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"

	"github.com/nicexipi/vecengine/internal/distance"
	"github.com/nicexipi/vecengine/internal/indexing"
	"github.com/nicexipi/vecengine/internal/quantize"
	"github.com/nicexipi/vecengine/internal/vector"
)

// dataDirEnvVar and bindEnvVar let a deployment override the file without
// editing it, the same override precedence the teacher's
// getOrCreateEncryptionKey gives ASKFLOW_ENCRYPTION_KEY over the file.
const (
	dataDirEnvVar = "VECENGINE_DATA_DIR"
	bindEnvVar    = "VECENGINE_BIND"
)

// ServerConfig holds the worker's listen descriptor.
type ServerConfig struct {
	Network string `json:"network"` // "tcp" or "unix"
	Bind    string `json:"bind"`    // "host:port" for tcp, a filesystem path for unix
}

// VectorConfig is the per-index default for engine.VectorOptions, applied
// to every OpBuild request that doesn't override it.
type VectorConfig struct {
	Dims     int    `json:"dims"`
	Kind     string `json:"kind"`     // "dense_f32", "dense_f16", "sparse_f32", "binary", "quantized_i8"
	Distance string `json:"distance"` // "l2", "dot", "cos", "jaccard"
}

// IndexingConfig is the per-index default for indexing.Options.
type IndexingConfig struct {
	Kind           string          `json:"kind"` // "flat", "ivf", "hnsw"
	NList          int             `json:"nlist"`
	NSample        int             `json:"nsample"`
	M              int             `json:"m"`
	EfConstruction int             `json:"ef_construction"`
	Alpha          float64         `json:"alpha"` // HNSW selectNeighborsHeuristic's second-pass relaxation factor; 0 defaults to 1.2
	Quantizer      QuantizerConfig `json:"quantizer"`
}

// QuantizerConfig is the per-index default for quantize.Options.
type QuantizerConfig struct {
	Kind      string `json:"kind"` // "trivial", "scalar", "product"
	Ratio     int    `json:"ratio"`
	CodeWidth string `json:"code_width"` // "x8" or "x4"
	WithDelta bool   `json:"with_delta"`
}

// OptimizingConfig is the per-index default for engine.OptimizingOptions.
type OptimizingConfig struct {
	SealingSecs     int     `json:"sealing_secs"`
	SealingSize     int     `json:"sealing_size"`
	MergeMinInputs  int     `json:"merge_min_inputs"`
	MergeRatioBound float64 `json:"merge_ratio_bound"`
}

// LoggingConfig controls internal/logging.Options for every index the
// worker opens.
type LoggingConfig struct {
	Level        string `json:"level"` // "debug", "info", "warn", "error"
	MaxRotSizeMB int    `json:"max_rot_size_mb"`
	MaxBackups   int    `json:"max_backups"`
}

// Config holds the worker process's full configuration.
type Config struct {
	Server        ServerConfig     `json:"server"`
	DataDir       string           `json:"data_dir"`
	WorkerThreads int              `json:"worker_threads"` // concurrent RPC connections served at once
	Vector        VectorConfig     `json:"vector"`
	Indexing      IndexingConfig   `json:"indexing"`
	Optimizing    OptimizingConfig `json:"optimizing"`
	Logging       LoggingConfig    `json:"logging"`
	MetricsBind   string           `json:"metrics_bind"` // "" disables the /metrics HTTP endpoint
}

// ConfigManager loads, saves, and hot-reloads a Config from a JSON file.
type ConfigManager struct {
	configPath string
	mu         sync.RWMutex
	config     *Config
}

// NewConfigManager creates a ConfigManager for the given config file path.
// Call Load before Get.
func NewConfigManager(configPath string) *ConfigManager {
	return &ConfigManager{configPath: configPath}
}

// DefaultConfig returns a Config populated with values that let a fresh
// worker run against a local directory with no tuning.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Network: "tcp",
			Bind:    "127.0.0.1:6776",
		},
		DataDir:       "./data",
		WorkerThreads: 4,
		Vector: VectorConfig{
			Dims:     0, // must be set per deployment; 0 fails Validate deliberately
			Kind:     "dense_f32",
			Distance: "l2",
		},
		Indexing: IndexingConfig{
			Kind:           "flat",
			NList:          100,
			NSample:        10000,
			M:              16,
			EfConstruction: 200,
			Alpha:          1.2,
			Quantizer: QuantizerConfig{
				Kind:      "trivial",
				Ratio:     4,
				CodeWidth: "x8",
			},
		},
		Optimizing: OptimizingConfig{
			SealingSecs:     300,
			SealingSize:     100000,
			MergeMinInputs:  2,
			MergeRatioBound: 4.0,
		},
		Logging: LoggingConfig{
			Level:        "info",
			MaxRotSizeMB: 100,
			MaxBackups:   5,
		},
	}
}

// Load reads the config file from disk, applying env var overrides and
// filling defaults for anything left unset. If the file does not exist, it
// initializes with DefaultConfig and saves it so the on-disk file always
// reflects what the process is actually running with.
func (cm *ConfigManager) Load() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cm.config = DefaultConfig()
			cm.applyEnvLocked()
			return cm.saveLocked()
		}
		return fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	cm.config = cfg
	cm.applyEnvLocked()
	return nil
}

// Reload re-reads the config file in place, matching the teacher's
// ConfigManager.Load/Save hot-reload contract: a running process can be
// told to pick up a new file without restarting.
func (cm *ConfigManager) Reload() error {
	return cm.Load()
}

func (cm *ConfigManager) applyEnvLocked() {
	if v := os.Getenv(dataDirEnvVar); v != "" {
		cm.config.DataDir = v
	}
	if v := os.Getenv(bindEnvVar); v != "" {
		cm.config.Server.Bind = v
	}
}

// Save writes the current config to disk.
func (cm *ConfigManager) Save() error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.saveLocked()
}

func (cm *ConfigManager) saveLocked() error {
	if cm.config == nil {
		return errors.New("no config loaded")
	}
	data, err := json.MarshalIndent(cm.config, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(cm.configPath, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Get returns a copy of the current configuration.
func (cm *ConfigManager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if cm.config == nil {
		return nil
	}
	c := *cm.config
	return &c
}

// ParseKind translates the configured vector kind name into vector.Kind.
// Config returns these translated pieces rather than an engine.Options
// directly to avoid a dependency on internal/engine, which already imports
// internal/logging and internal/metrics; a caller (cmd/vecworker, or
// internal/rpc's Worker) assembles the engine.Options itself.
func (v VectorConfig) ParseKind() (vector.Kind, error) {
	switch v.Kind {
	case "dense_f32":
		return vector.KindDenseF32, nil
	case "dense_f16":
		return vector.KindDenseF16, nil
	case "sparse_f32":
		return vector.KindSparseF32, nil
	case "binary":
		return vector.KindBinary, nil
	case "quantized_i8":
		return vector.KindQuantizedI8, nil
	default:
		return 0, fmt.Errorf("config: unknown vector.kind %q", v.Kind)
	}
}

// ParseDistance translates the configured distance name into distance.Kind.
func (v VectorConfig) ParseDistance() (distance.Kind, error) {
	switch v.Distance {
	case "l2":
		return distance.L2, nil
	case "dot":
		return distance.Dot, nil
	case "cos":
		return distance.Cos, nil
	case "jaccard":
		return distance.Jaccard, nil
	default:
		return 0, fmt.Errorf("config: unknown vector.distance %q", v.Distance)
	}
}

// ParseKind translates the configured indexing algorithm name into
// indexing.Kind.
func (i IndexingConfig) ParseKind() (indexing.Kind, error) {
	switch i.Kind {
	case "flat":
		return indexing.KindFlat, nil
	case "ivf":
		return indexing.KindIVF, nil
	case "hnsw":
		return indexing.KindHNSW, nil
	default:
		return 0, fmt.Errorf("config: unknown indexing.kind %q", i.Kind)
	}
}

// ToOptions builds an indexing.Options from the configured defaults.
func (i IndexingConfig) ToOptions() (indexing.Options, error) {
	kind, err := i.ParseKind()
	if err != nil {
		return indexing.Options{}, err
	}
	qopts, err := i.Quantizer.ToOptions()
	if err != nil {
		return indexing.Options{}, err
	}
	return indexing.Options{
		Kind:           kind,
		NList:          i.NList,
		NSample:        i.NSample,
		M:              i.M,
		EfConstruction: i.EfConstruction,
		Alpha:          i.Alpha,
		Quantizer:      qopts,
	}, nil
}

// ToOptions builds a quantize.Options from the configured defaults.
func (q QuantizerConfig) ToOptions() (quantize.Options, error) {
	var kind quantize.Kind
	switch q.Kind {
	case "trivial":
		kind = quantize.KindTrivial
	case "scalar":
		kind = quantize.KindScalar
	case "product":
		kind = quantize.KindProduct
	default:
		return quantize.Options{}, fmt.Errorf("config: unknown quantizer.kind %q", q.Kind)
	}
	width := quantize.CodeX8
	if q.CodeWidth == "x4" {
		width = quantize.CodeX4
	}
	return quantize.Options{
		Kind:      kind,
		Ratio:     q.Ratio,
		CodeWidth: width,
		WithDelta: q.WithDelta,
	}, nil
}

// ParseLevel translates the configured log level name into a zapcore.Level,
// matching internal/logging.Options.Level's type.
func (l LoggingConfig) ParseLevel() (zapcore.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("config: unknown logging.level %q", l.Level)
	}
}

// Validate checks the ranges SPEC_FULL.md carries over from spec.md §6/§7's
// ErrConfigInvalid checks, applied here before any index is opened so a
// malformed file fails at startup rather than at first OpBuild.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: data_dir must not be empty")
	}
	if c.Server.Network != "tcp" && c.Server.Network != "unix" {
		return fmt.Errorf("config: server.network must be \"tcp\" or \"unix\", got %q", c.Server.Network)
	}
	if c.Server.Bind == "" {
		return errors.New("config: server.bind must not be empty")
	}
	if c.WorkerThreads <= 0 {
		return errors.New("config: worker_threads must be positive")
	}
	if c.Vector.Dims <= 0 {
		return errors.New("config: vector.dims must be positive")
	}
	if _, err := c.Vector.ParseKind(); err != nil {
		return err
	}
	if _, err := c.Vector.ParseDistance(); err != nil {
		return err
	}
	if _, err := c.Indexing.ToOptions(); err != nil {
		return err
	}
	if _, err := c.Logging.ParseLevel(); err != nil {
		return err
	}
	if c.Optimizing.SealingSecs <= 0 {
		return errors.New("config: optimizing.sealing_secs must be positive")
	}
	if c.Optimizing.SealingSize <= 0 {
		return errors.New("config: optimizing.sealing_size must be positive")
	}
	if c.Optimizing.MergeMinInputs < 2 {
		return errors.New("config: optimizing.merge_min_inputs must be >= 2")
	}
	return nil
}
