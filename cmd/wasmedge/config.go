package main

import (
	"fmt"
	"io"
	"os"

	"github.com/c2h5oh/datasize"
	"github.com/ghodss/yaml"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wasmedge-go/wasmedge"
)

// wasmPageSize is the size of a page of WebAssembly memory.
const wasmPageSize = 65536

// cliConfig is read from the YAML file passed with --config. Flags take precedence over it.
//
// Ex.
//
//	env: ["HOME=/", "USER=guest"]
//	dirs: ["/data:/var/lib/app"]
//	memoryLimit: 64MB
//	costLimit: 100000000
//	disabledFeatures: [multi-value]
type cliConfig struct {
	Env  []string `json:"env"`
	Dirs []string `json:"dirs"`
	// MemoryLimit is rounded down to a number of 64KB pages. It must be a string, ex. "64MB".
	MemoryLimit       datasize.ByteSize `json:"memoryLimit"`
	CostLimit         uint64            `json:"costLimit"`
	MaxCallStackDepth int               `json:"maxCallStackDepth"`
	DisabledFeatures  []string          `json:"disabledFeatures"`
	Statistics        bool              `json:"statistics"`
	LogLevel          string            `json:"logLevel"`
}

func loadConfig(path string) (*cliConfig, error) {
	cfg := &cliConfig{}
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}
	if err = yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// features maps the names accepted by --disable-feature.
var features = map[string]wasmedge.Feature{}

func init() {
	for _, f := range []wasmedge.Feature{
		wasmedge.FeatureBulkMemoryOperations,
		wasmedge.FeatureMultiValue,
		wasmedge.FeatureMutableGlobal,
		wasmedge.FeatureNonTrappingFloatToIntConversion,
		wasmedge.FeatureSignExtensionOps,
	} {
		features[f.String()] = f
	}
}

// configure converts cfg into VM configuration.
func (cfg *cliConfig) configure(c *wasmedge.Configure) (*wasmedge.Configure, error) {
	for _, name := range cfg.DisabledFeatures {
		f, ok := features[name]
		if !ok {
			return nil, fmt.Errorf("invalid feature: %s", name)
		}
		c = c.WithFeature(f, false)
	}
	if cfg.MemoryLimit > 0 {
		pages := cfg.MemoryLimit.Bytes() / wasmPageSize
		if pages > uint64(c.MemoryLimitPages()) {
			return nil, fmt.Errorf("invalid memory limit: %v is over 4GB", cfg.MemoryLimit)
		}
		c = c.WithMemoryLimitPages(uint32(pages))
	}
	if cfg.MaxCallStackDepth > 0 {
		c = c.WithMaxCallStackDepth(cfg.MaxCallStackDepth)
	}
	if cfg.Statistics || cfg.CostLimit > 0 {
		c = c.WithStatistics(wasmedge.StatisticsInstructionCounting | wasmedge.StatisticsCostMeasuring |
			wasmedge.StatisticsTimeMeasuring)
		c = c.WithCostLimit(cfg.CostLimit)
	}
	return c, nil
}

// newLogger returns a console logger writing to w at the given level, ex. "debug".
func newLogger(level string, w io.Writer) (*zap.Logger, error) {
	if level == "" {
		level = "error"
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %s", level)
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), zapcore.AddSync(w), l)
	return zap.New(core), nil
}
