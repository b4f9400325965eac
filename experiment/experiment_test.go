package experiment

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/generiic/bandcamp-deep-learning/dataset"
	"github.com/generiic/bandcamp-deep-learning/snapshot"
	"github.com/generiic/bandcamp-deep-learning/training"
)

func TestParseParamString(t *testing.T) {
	tests := []struct {
		input    string
		expected map[string]string
		wantErr  bool
	}{
		{"", nil, false},
		{"a=1", map[string]string{"a": "1"}, false},
		{"num_hidden_units=256:dropout=0.5", map[string]string{"num_hidden_units": "256", "dropout": "0.5"}, false},
		{"a=b=c", map[string]string{"a": "b=c"}, false},
		{"a", nil, true},
		{"=1", nil, true},
		{"a=1:b", nil, true},
	}
	for _, tt := range tests {
		got, err := ParseParamString(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%q: expected error, got %v", tt.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error: %v", tt.input, err)
			continue
		}
		if len(got) != len(tt.expected) {
			t.Errorf("%q: expected %v, got %v", tt.input, tt.expected, got)
			continue
		}
		for k, v := range tt.expected {
			if got[k] != v {
				t.Errorf("%q: key %s: expected %q, got %q", tt.input, k, v, got[k])
			}
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.NumEpochs != 5000 {
		t.Errorf("num epochs: expected 5000, got %d", cfg.NumEpochs)
	}
	if cfg.BatchSize != 100 {
		t.Errorf("batch size: expected 100, got %d", cfg.BatchSize)
	}
	if cfg.LearningRate != 0.01 {
		t.Errorf("learning rate: expected 0.01, got %v", cfg.LearningRate)
	}
	if cfg.UpdateFuncName != "nesterov_momentum" {
		t.Errorf("update func: expected nesterov_momentum, got %s", cfg.UpdateFuncName)
	}
	if !cfg.SubtractMean || !cfg.SnapshotFinalModel {
		t.Error("expected subtract_mean and snapshot_final_model to default on")
	}
	if cfg.SnapshotPrefix != "model" {
		t.Errorf("snapshot prefix: expected model, got %s", cfg.SnapshotPrefix)
	}
	if cfg.Seed != 572893204 {
		t.Errorf("seed: expected 572893204, got %d", cfg.Seed)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		mod  func(cfg *Config)
	}{
		{"missing dataset", func(cfg *Config) { cfg.DatasetPath = "" }},
		{"missing architecture", func(cfg *Config) { cfg.Architecture = "" }},
		{"negative epochs", func(cfg *Config) { cfg.NumEpochs = -1 }},
		{"zero batch", func(cfg *Config) { cfg.BatchSize = 0 }},
		{"negative chunk", func(cfg *Config) { cfg.ChunkSize = -10 }},
		{"chunk not multiple of batch", func(cfg *Config) { cfg.ChunkSize = 150 }},
		{"zero learning rate", func(cfg *Config) { cfg.LearningRate = 0 }},
		{"negative min rate", func(cfg *Config) { cfg.MinLearningRate = -1 }},
		{"negative grace period", func(cfg *Config) { cfg.GracePeriod = -1 }},
		{"negative snapshot interval", func(cfg *Config) { cfg.SnapshotEvery = -1 }},
		{"snapshotting without prefix", func(cfg *Config) { cfg.SnapshotPrefix = "" }},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.DatasetPath = "dataset.pkl.zip"
		cfg.Architecture = "softmax"
		tt.mod(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error, got nil", tt.name)
		}
	}
}

// writeToyDataset saves a small linearly separable dataset and returns
// its path.
func writeToyDataset(t *testing.T) string {
	t.Helper()
	rng := rand.New(rand.NewSource(9))
	build := func(n int) *dataset.Subset {
		s := &dataset.Subset{Shape: []int{2}}
		for i := 0; i < n; i++ {
			x := float32(rng.Float64()*0.5 - 0.25)
			y := float32(rng.Float64()*0.5 - 0.25)
			if i%2 == 0 {
				s.Features = append(s.Features, []float32{2 + x, y})
				s.Labels = append(s.Labels, 0)
			} else {
				s.Features = append(s.Features, []float32{-2 + x, y})
				s.Labels = append(s.Labels, 1)
			}
		}
		return s
	}
	ds := dataset.New("electronic", "metal")
	ds.Subsets[dataset.SubsetTraining] = build(20)
	ds.Subsets[dataset.SubsetValidation] = build(10)
	ds.Subsets[dataset.SubsetTesting] = build(10)

	path := filepath.Join(t.TempDir(), "toy.pkl.zip")
	if err := ds.Save(path); err != nil {
		t.Fatalf("saving toy dataset: %v", err)
	}
	return path
}

func toyConfig(path string) Config {
	cfg := DefaultConfig()
	cfg.DatasetPath = path
	cfg.Architecture = "softmax"
	cfg.NumEpochs = 2
	cfg.BatchSize = 5
	cfg.LearningRate = 0.1
	cfg.SubtractMean = false
	cfg.SnapshotFinalModel = false
	cfg.Seed = 11
	return cfg
}

func TestRunEndToEnd(t *testing.T) {
	var out bytes.Buffer
	res, err := Run(context.Background(), toyConfig(writeToyDataset(t)), &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Result.Outcome != training.OutcomeCompleted {
		t.Errorf("expected completed outcome, got %v", res.Result.Outcome)
	}
	if res.Result.EpochsRun != 2 || res.Result.NextEpoch != 2 {
		t.Errorf("expected 2 epochs with next epoch 2, got %d and %d",
			res.Result.EpochsRun, res.Result.NextEpoch)
	}
	if res.RunID == "" {
		t.Error("expected a run id")
	}
	output := out.String()
	for _, want := range []string{
		"Network architecture:",
		"Initial validation loss & accuracy:",
		"Epoch 1 of 2",
		"Epoch 2 of 2",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, output)
		}
	}
}

func TestRunResumesFromSnapshot(t *testing.T) {
	path := writeToyDataset(t)
	prefix := filepath.Join(t.TempDir(), "model")

	cfg := toyConfig(path)
	cfg.SnapshotFinalModel = true
	cfg.SnapshotPrefix = prefix
	var out bytes.Buffer
	if _, err := Run(context.Background(), cfg, &out); err != nil {
		t.Fatalf("first run: %v", err)
	}
	snapPath := prefix + ".snapshot-2.pkl.zip"
	if _, err := os.Stat(snapPath); err != nil {
		t.Fatalf("expected final snapshot at %s: %v", snapPath, err)
	}

	cfg = toyConfig(path)
	cfg.NumEpochs = 4
	cfg.StartFromSnapshot = snapPath
	out.Reset()
	res, err := Run(context.Background(), cfg, &out)
	if err != nil {
		t.Fatalf("resumed run: %v", err)
	}
	if res.Result.EpochsRun != 2 || res.Result.NextEpoch != 4 {
		t.Errorf("expected 2 resumed epochs with next epoch 4, got %d and %d",
			res.Result.EpochsRun, res.Result.NextEpoch)
	}
	output := out.String()
	if !strings.Contains(output, "Loading model snapshot from "+snapPath) {
		t.Errorf("expected snapshot load message, got:\n%s", output)
	}
	if !strings.Contains(output, "Epoch 3 of 4") {
		t.Errorf("expected first resumed report to show epoch 3, got:\n%s", output)
	}
	if strings.Contains(output, "Epoch 1 of 4") {
		t.Errorf("resumed run must not restart epoch numbering, got:\n%s", output)
	}
}

func TestRunTestOnly(t *testing.T) {
	cfg := toyConfig(writeToyDataset(t))
	cfg.TestOnly = true
	var out bytes.Buffer
	res, err := Run(context.Background(), cfg, &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RunID != "" {
		t.Errorf("expected empty run id for test-only evaluation, got %s", res.RunID)
	}
	output := out.String()
	if !strings.Contains(output, "Testing loss & accuracy:") {
		t.Errorf("expected testing report, got:\n%s", output)
	}
	if strings.Contains(output, "Network architecture:") {
		t.Errorf("test-only must not print the model summary, got:\n%s", output)
	}
}

func TestRunUnknownArchitecture(t *testing.T) {
	cfg := toyConfig(writeToyDataset(t))
	cfg.Architecture = "convnet"
	_, err := Run(context.Background(), cfg, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "unknown architecture") {
		t.Errorf("expected unknown architecture error, got %v", err)
	}
}

func TestRunRejectsBadModelParams(t *testing.T) {
	cfg := toyConfig(writeToyDataset(t))
	cfg.ModelParams = map[string]string{"bogus": "1"}
	_, err := Run(context.Background(), cfg, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "unknown model parameter") {
		t.Errorf("expected model parameter error, got %v", err)
	}
}

func TestRunMissingSnapshot(t *testing.T) {
	cfg := toyConfig(writeToyDataset(t))
	cfg.StartFromSnapshot = filepath.Join(t.TempDir(), "missing.snapshot-1.pkl.zip")
	_, err := Run(context.Background(), cfg, &bytes.Buffer{})
	if !errors.Is(err, snapshot.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
