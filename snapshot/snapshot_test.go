package snapshot

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/generiic/bandcamp-deep-learning/tensorio"
)

func tensorsEqual(a, b [][]float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return false
		}
		for j := range a[i] {
			if math.Float32bits(a[i][j]) != math.Float32bits(b[i][j]) {
				return false
			}
		}
	}
	return true
}

func TestStoreRoundTrip(t *testing.T) {
	store := &Store{
		Prefix: filepath.Join(t.TempDir(), "model"),
		Meta: Metadata{
			RunID:        "run-123",
			Architecture: "mlp",
			LearningRate: 0.01,
		},
	}
	params := [][]float32{
		{1.5, -2.25, float32(math.Inf(1))},
		{0.001},
		{},
	}

	path, err := store.Save(5, params)
	if err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	expected := store.Prefix + ".snapshot-5.pkl.zip"
	if path != expected {
		t.Errorf("path: expected %q, got %q", expected, path)
	}

	snap, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if snap.NextEpoch != 5 {
		t.Errorf("next epoch: expected 5, got %d", snap.NextEpoch)
	}
	if !tensorsEqual(snap.Params, params) {
		t.Errorf("params: expected %v, got %v", params, snap.Params)
	}
	if snap.Meta.RunID != "run-123" || snap.Meta.Architecture != "mlp" {
		t.Errorf("metadata not preserved: %+v", snap.Meta)
	}
	if snap.Meta.LearningRate != 0.01 {
		t.Errorf("learning rate: expected 0.01, got %v", snap.Meta.LearningRate)
	}
	if snap.Meta.CreatedAt.IsZero() {
		t.Error("expected save to stamp creation time")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.snapshot-1.pkl.zip"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadGarbageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.snapshot-1.pkl.zip")
	if err := os.WriteFile(path, []byte("not a zip archive"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	_, err := Load(path)
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}
}

func TestLoadMissingManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.snapshot-1.pkl.zip")
	entries := []tensorio.Entry{
		{Name: "params.bin", Data: tensorio.EncodeFloat32s([][]float32{{1}})},
	}
	if err := tensorio.WriteArchive(path, entries); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	_, err := Load(path)
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}
}

func TestLoadMissingParams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.snapshot-2.pkl.zip")
	entries := []tensorio.Entry{
		{Name: "manifest.json", Data: []byte(`{"format_version":1,"next_epoch":2,"num_tensors":0,"metadata":{"created_at":"2016-01-01T00:00:00Z"}}`)},
	}
	if err := tensorio.WriteArchive(path, entries); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	_, err := Load(path)
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}
}

func TestSaveOverwritesExisting(t *testing.T) {
	store := &Store{Prefix: filepath.Join(t.TempDir(), "model")}

	if _, err := store.Save(3, [][]float32{{1, 2}}); err != nil {
		t.Fatalf("first save: %v", err)
	}
	second := [][]float32{{9, 8}}
	path, err := store.Save(3, second)
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	snap, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !tensorsEqual(snap.Params, second) {
		t.Errorf("expected second save to win: expected %v, got %v", second, snap.Params)
	}
}

func TestWriteRejectsNegativeEpoch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.snapshot--1.pkl.zip")
	if err := Write(path, -1, nil, Metadata{}); err == nil {
		t.Error("expected error for negative next epoch")
	}
}
