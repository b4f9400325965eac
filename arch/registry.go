// Package arch defines the closed set of supported network architectures
// and builds trainable models from them.
package arch

import (
	"fmt"
	"sort"
	"strconv"
)

// BuildConfig carries everything a builder needs to construct a model.
type BuildConfig struct {
	// InputShape is the per-sample feature shape after dataset
	// preparation, e.g. [784] for flattened features.
	InputShape []int
	// OutputDim is the number of target classes.
	OutputDim int
	// BatchSize is the minibatch size used for training and reflected in
	// the model summary.
	BatchSize int
	// ChunkSize groups training batches; 0 means a single chunk covering
	// the whole training subset.
	ChunkSize int
	// ModelParams holds architecture-specific options. Unknown keys are
	// rejected.
	ModelParams map[string]string
	// Seed drives weight initialization and dropout masks.
	Seed int64
}

func (c BuildConfig) validate() error {
	if len(c.InputShape) == 0 {
		return fmt.Errorf("input shape is required")
	}
	for _, d := range c.InputShape {
		if d <= 0 {
			return fmt.Errorf("input shape dimensions must be positive, got %v", c.InputShape)
		}
	}
	if c.OutputDim < 2 {
		return fmt.Errorf("output dim must be at least 2, got %d", c.OutputDim)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.ChunkSize < 0 {
		return fmt.Errorf("chunk size must be non-negative, got %d", c.ChunkSize)
	}
	return nil
}

func (c BuildConfig) inputDim() int {
	dim := 1
	for _, d := range c.InputShape {
		dim *= d
	}
	return dim
}

// Builder constructs a trainable model for one architecture.
type Builder interface {
	Name() string
	Build(cfg BuildConfig) (*Model, error)
}

var builders = map[string]Builder{
	"softmax": softmaxBuilder{},
	"mlp":     mlpBuilder{},
}

// Names returns the registered architecture names, sorted.
func Names() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get resolves an architecture by name.
func Get(name string) (Builder, error) {
	b, ok := builders[name]
	if !ok {
		return nil, fmt.Errorf("unknown architecture %s (valid values: %v)", name, Names())
	}
	return b, nil
}

func sortedKeys(params map[string]string) []string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// softmaxBuilder is plain softmax regression: a single dense layer into
// the softmax output. It takes no model parameters.
type softmaxBuilder struct{}

func (softmaxBuilder) Name() string { return "softmax" }

func (softmaxBuilder) Build(cfg BuildConfig) (*Model, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if keys := sortedKeys(cfg.ModelParams); len(keys) > 0 {
		return nil, fmt.Errorf("unknown model parameter %s for architecture softmax", keys[0])
	}
	return newModel(cfg, nil, 0)
}

// mlpBuilder stacks fully connected ReLU layers, optionally with dropout,
// before the softmax output.
type mlpBuilder struct{}

func (mlpBuilder) Name() string { return "mlp" }

func (mlpBuilder) Build(cfg BuildConfig) (*Model, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	hiddenUnits := 512
	hiddenLayers := 1
	dropout := 0.0
	for _, key := range sortedKeys(cfg.ModelParams) {
		value := cfg.ModelParams[key]
		switch key {
		case "num_hidden_units":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("num_hidden_units must be a positive integer, got %s", value)
			}
			hiddenUnits = n
		case "num_hidden_layers":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("num_hidden_layers must be a positive integer, got %s", value)
			}
			hiddenLayers = n
		case "dropout":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil || f < 0 || f >= 1 {
				return nil, fmt.Errorf("dropout must be in [0, 1), got %s", value)
			}
			dropout = f
		default:
			return nil, fmt.Errorf("unknown model parameter %s for architecture mlp", key)
		}
	}
	hidden := make([]int, hiddenLayers)
	for i := range hidden {
		hidden[i] = hiddenUnits
	}
	return newModel(cfg, hidden, dropout)
}
