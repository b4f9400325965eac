// Package snapshot persists and restores training state: the epoch a
// resumed run should start from plus every model parameter tensor, bit for
// bit. Snapshots are zip archives holding a JSON manifest next to the
// packed parameter data.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/generiic/bandcamp-deep-learning/tensorio"
)

var (
	// ErrNotFound reports a missing snapshot file.
	ErrNotFound = errors.New("snapshot not found")
	// ErrCorrupt reports an unreadable or incomplete snapshot file.
	ErrCorrupt = errors.New("snapshot corrupt")
)

const (
	manifestEntry = "manifest.json"
	paramsEntry   = "params.bin"
	formatVersion = 1
)

// Metadata describes the run a snapshot belongs to. All fields are
// informational; restoring ignores them.
type Metadata struct {
	RunID        string    `json:"run_id,omitempty"`
	Architecture string    `json:"architecture,omitempty"`
	LearningRate float64   `json:"learning_rate,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type manifest struct {
	FormatVersion int      `json:"format_version"`
	NextEpoch     int      `json:"next_epoch"`
	NumTensors    int      `json:"num_tensors"`
	Metadata      Metadata `json:"metadata"`
}

// Snapshot is a restored training state.
type Snapshot struct {
	NextEpoch int
	Params    [][]float32
	Meta      Metadata
}

// Store writes snapshots under a path prefix using the
// "<prefix>.snapshot-<epoch>.pkl.zip" naming convention.
type Store struct {
	Prefix string
	Meta   Metadata
}

// Path returns the snapshot path for nextEpoch.
func (s *Store) Path(nextEpoch int) string {
	return fmt.Sprintf("%s.snapshot-%d.pkl.zip", s.Prefix, nextEpoch)
}

// Save persists params together with the resume epoch and returns the
// written path. An existing snapshot at the same path is replaced.
func (s *Store) Save(nextEpoch int, params [][]float32) (string, error) {
	path := s.Path(nextEpoch)
	if err := Write(path, nextEpoch, params, s.Meta); err != nil {
		return "", err
	}
	return path, nil
}

// Write persists one snapshot at path. A zero CreatedAt is stamped with
// the current time.
func Write(path string, nextEpoch int, params [][]float32, meta Metadata) error {
	if nextEpoch < 0 {
		return fmt.Errorf("next epoch must be non-negative, got %d", nextEpoch)
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}
	m := manifest{
		FormatVersion: formatVersion,
		NextEpoch:     nextEpoch,
		NumTensors:    len(params),
		Metadata:      meta,
	}
	manifestData, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot manifest: %v", err)
	}
	entries := []tensorio.Entry{
		{Name: manifestEntry, Data: manifestData},
		{Name: paramsEntry, Data: tensorio.EncodeFloat32s(params)},
	}
	return tensorio.WriteArchive(path, entries)
}

// Load restores a snapshot from path. A missing file yields ErrNotFound;
// anything unreadable past that yields ErrCorrupt.
func Load(path string) (*Snapshot, error) {
	entries, err := tensorio.ReadArchive(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	manifestData, ok := entries[manifestEntry]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s in %s", ErrCorrupt, manifestEntry, path)
	}
	var m manifest
	if err := json.Unmarshal(manifestData, &m); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrCorrupt, manifestEntry, err)
	}
	if m.FormatVersion != formatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, m.FormatVersion)
	}
	if m.NextEpoch < 0 {
		return nil, fmt.Errorf("%w: negative next epoch %d", ErrCorrupt, m.NextEpoch)
	}
	paramsData, ok := entries[paramsEntry]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s in %s", ErrCorrupt, paramsEntry, path)
	}
	params, err := tensorio.DecodeFloat32s(paramsData)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding parameters: %v", ErrCorrupt, err)
	}
	if len(params) != m.NumTensors {
		return nil, fmt.Errorf("%w: manifest lists %d tensors, archive holds %d", ErrCorrupt, m.NumTensors, len(params))
	}
	return &Snapshot{NextEpoch: m.NextEpoch, Params: params, Meta: m.Metadata}, nil
}
