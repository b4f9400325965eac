// Package experiment wires datasets, models, optimizers, snapshots and
// the training loop into runnable experiments.
package experiment

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/generiic/bandcamp-deep-learning/arch"
	"github.com/generiic/bandcamp-deep-learning/dataset"
	"github.com/generiic/bandcamp-deep-learning/optimizer"
	"github.com/generiic/bandcamp-deep-learning/snapshot"
	"github.com/generiic/bandcamp-deep-learning/training"
)

// DefaultSeed is the fixed seed experiments run with unless overridden,
// keeping dataset shuffles and weight initialization reproducible.
const DefaultSeed = 572893204

// Config is the full configuration surface of a training experiment.
type Config struct {
	DatasetPath        string            `json:"dataset_path"`
	Architecture       string            `json:"model_architecture"`
	ModelParams        map[string]string `json:"model_params,omitempty"`
	UpdateFuncName     string            `json:"update_func_name"`
	UpdateFuncKwargs   map[string]string `json:"update_func_kwargs,omitempty"`
	NumEpochs          int               `json:"num_epochs"`
	BatchSize          int               `json:"batch_size"`
	ChunkSize          int               `json:"chunk_size"`
	LearningRate       float64           `json:"learning_rate"`
	AdaptLearningRate  bool              `json:"adapt_learning_rate"`
	MinLearningRate    float64           `json:"min_learning_rate"`
	GracePeriod        int               `json:"grace_period"`
	SubtractMean       bool              `json:"subtract_mean"`
	ReshapeTo          []int             `json:"reshape_to,omitempty"`
	LabelsToKeep       []string          `json:"labels_to_keep,omitempty"`
	SnapshotEvery      int               `json:"snapshot_every"`
	SnapshotPrefix     string            `json:"snapshot_prefix"`
	StartFromSnapshot  string            `json:"start_from_snapshot,omitempty"`
	SnapshotFinalModel bool              `json:"snapshot_final_model"`
	TestOnly           bool              `json:"test_only"`
	Seed               int64             `json:"seed"`
}

// DefaultConfig returns the standard experiment settings.
func DefaultConfig() Config {
	return Config{
		UpdateFuncName:     "nesterov_momentum",
		NumEpochs:          5000,
		BatchSize:          100,
		LearningRate:       0.01,
		MinLearningRate:    training.DefaultMinLearningRate,
		GracePeriod:        training.DefaultGracePeriod,
		SubtractMean:       true,
		SnapshotPrefix:     "model",
		SnapshotFinalModel: true,
		Seed:               DefaultSeed,
	}
}

// Validate checks the configuration for values no run could make sense of.
func (c Config) Validate() error {
	if c.DatasetPath == "" {
		return fmt.Errorf("dataset path is required")
	}
	if c.Architecture == "" {
		return fmt.Errorf("model architecture is required")
	}
	if c.NumEpochs < 0 {
		return fmt.Errorf("num epochs must be non-negative, got %d", c.NumEpochs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.ChunkSize < 0 {
		return fmt.Errorf("chunk size must be non-negative, got %d", c.ChunkSize)
	}
	if c.ChunkSize > 0 && c.ChunkSize%c.BatchSize != 0 {
		return fmt.Errorf("chunk size %d must be a multiple of batch size %d", c.ChunkSize, c.BatchSize)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %v", c.LearningRate)
	}
	if c.MinLearningRate < 0 {
		return fmt.Errorf("min learning rate must be non-negative, got %v", c.MinLearningRate)
	}
	if c.GracePeriod < 0 {
		return fmt.Errorf("grace period must be non-negative, got %d", c.GracePeriod)
	}
	if c.SnapshotEvery < 0 {
		return fmt.Errorf("snapshot interval must be non-negative, got %d", c.SnapshotEvery)
	}
	if (c.SnapshotEvery > 0 || c.SnapshotFinalModel) && c.SnapshotPrefix == "" {
		return fmt.Errorf("snapshot prefix is required when snapshotting is enabled")
	}
	return nil
}

// ParseParamString parses "k1=v1:k2=v2" option strings into a map. An
// empty string yields nil. Values keep their textual form; consumers
// coerce them with per-key errors.
func ParseParamString(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	params := make(map[string]string)
	for _, pair := range strings.Split(s, ":") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("malformed parameter %q, want key=value pairs separated by colons", pair)
		}
		params[key] = value
	}
	return params, nil
}

// RunResult identifies a finished training run. RunID is empty for
// test-only evaluations, which never enter the training loop.
type RunResult struct {
	RunID  string
	Result training.Result
}

// Run executes one experiment: prepare the dataset, build the model and
// optimizer, optionally restore a snapshot, then either evaluate the
// testing subset (TestOnly) or run the training loop. Progress is printed
// to out; nil means stdout.
func Run(ctx context.Context, cfg Config, out io.Writer) (*RunResult, error) {
	if out == nil {
		out = os.Stdout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	builder, err := arch.Get(cfg.Architecture)
	if err != nil {
		return nil, err
	}

	ds, err := dataset.Load(cfg.DatasetPath)
	if err != nil {
		return nil, err
	}
	err = ds.Prepare(dataset.PrepareConfig{
		LabelsToKeep: cfg.LabelsToKeep,
		ReshapeTo:    cfg.ReshapeTo,
		SubtractMean: cfg.SubtractMean,
		Seed:         cfg.Seed,
	})
	if err != nil {
		return nil, err
	}

	train := ds.Subsets[dataset.SubsetTraining]
	if train == nil || train.Len() == 0 {
		return nil, fmt.Errorf("dataset has no training subset")
	}
	validation := ds.Subsets[dataset.SubsetValidation]
	if validation == nil || validation.Len() == 0 {
		return nil, fmt.Errorf("dataset has no validation subset")
	}

	model, err := builder.Build(arch.BuildConfig{
		InputShape:  train.Shape,
		OutputDim:   len(ds.LabelNames),
		BatchSize:   cfg.BatchSize,
		ChunkSize:   cfg.ChunkSize,
		ModelParams: cfg.ModelParams,
		Seed:        cfg.Seed,
	})
	if err != nil {
		return nil, err
	}

	opt, err := optimizer.New(cfg.UpdateFuncName, cfg.LearningRate, cfg.UpdateFuncKwargs)
	if err != nil {
		return nil, err
	}

	startEpoch := 0
	if cfg.StartFromSnapshot != "" {
		fmt.Fprintf(out, "Loading model snapshot from %s\n", cfg.StartFromSnapshot)
		snap, err := snapshot.Load(cfg.StartFromSnapshot)
		if err != nil {
			return nil, err
		}
		if err := model.SetParamValues(snap.Params); err != nil {
			return nil, fmt.Errorf("restoring snapshot parameters: %v", err)
		}
		startEpoch = snap.NextEpoch
	}

	if cfg.TestOnly {
		testing := ds.Subsets[dataset.SubsetTesting]
		if testing == nil || testing.Len() == 0 {
			return nil, fmt.Errorf("dataset has no testing subset")
		}
		loss, accuracy, err := model.Evaluate(testing, cfg.BatchSize)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(out, "Testing loss & accuracy:\t %.6f\t%.2f%%\n", loss, accuracy*100)
		return &RunResult{}, nil
	}

	fmt.Fprint(out, model.Spec().Summary())

	runID := uuid.NewString()
	store := &snapshot.Store{
		Prefix: cfg.SnapshotPrefix,
		Meta: snapshot.Metadata{
			RunID:        runID,
			Architecture: cfg.Architecture,
			LearningRate: cfg.LearningRate,
		},
	}
	loop := &training.Loop{
		Config: training.LoopConfig{
			TotalEpochs:        cfg.NumEpochs,
			StartEpoch:         startEpoch,
			SnapshotEvery:      cfg.SnapshotEvery,
			SnapshotFinalModel: cfg.SnapshotFinalModel,
			AdaptLearningRate:  cfg.AdaptLearningRate,
			MinLearningRate:    cfg.MinLearningRate,
			GracePeriod:        cfg.GracePeriod,
		},
		Step: func() (float64, error) {
			return model.TrainEpoch(train, cfg.BatchSize, cfg.ChunkSize, opt)
		},
		Evaluate: func() (float64, float64, error) {
			return model.Evaluate(validation, cfg.BatchSize)
		},
		Params:    model,
		Rate:      opt,
		Snapshots: store,
		Observer:  training.NewConsoleObserver(out),
	}
	res, err := loop.Run(ctx)
	if err != nil {
		return nil, err
	}
	return &RunResult{RunID: runID, Result: res}, nil
}
