// Package dataset provides the labeled tensor containers consumed by
// experiments: loading and saving the zip-based dataset format, the
// preparation transforms (label filtering, reshaping, mean subtraction,
// flattening, shuffling) and minibatch access.
package dataset

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"

	"github.com/generiic/bandcamp-deep-learning/tensorio"
)

// Canonical subset names.
const (
	SubsetTraining   = "training"
	SubsetValidation = "validation"
	SubsetTesting    = "testing"
)

// Subset is one named split of a dataset: per-sample feature vectors stored
// flat, a logical per-sample shape, and integer class labels.
type Subset struct {
	Features [][]float32
	Shape    []int
	Labels   []int
}

// Dataset maps subset names to tensor/label pairs. LabelNames gives the
// class name for each label index.
type Dataset struct {
	Subsets    map[string]*Subset
	LabelNames []string
}

// New returns an empty dataset with the given label names.
func New(labelNames ...string) *Dataset {
	return &Dataset{
		Subsets:    make(map[string]*Subset),
		LabelNames: labelNames,
	}
}

// Len returns the number of samples in the subset.
func (s *Subset) Len() int {
	return len(s.Features)
}

// Dim returns the flattened feature dimension implied by the subset shape.
func (s *Subset) Dim() int {
	dim := 1
	for _, d := range s.Shape {
		dim *= d
	}
	return dim
}

// NumBatches returns how many full batches of batchSize the subset yields.
// The remainder is dropped, matching the chunked training iteration.
func (s *Subset) NumBatches(batchSize int) int {
	if batchSize <= 0 {
		return 0
	}
	return s.Len() / batchSize
}

// Batch returns the i-th batch of batchSize samples as feature and label
// views into the subset.
func (s *Subset) Batch(i, batchSize int) ([][]float32, []int) {
	start := i * batchSize
	end := start + batchSize
	if end > s.Len() {
		end = s.Len()
	}
	return s.Features[start:end], s.Labels[start:end]
}

// Shuffle permutes samples and labels in place using rng.
func (s *Subset) Shuffle(rng *rand.Rand) {
	rng.Shuffle(s.Len(), func(i, j int) {
		s.Features[i], s.Features[j] = s.Features[j], s.Features[i]
		s.Labels[i], s.Labels[j] = s.Labels[j], s.Labels[i]
	})
}

// Concat returns a new subset holding a's samples followed by b's. Both
// must share the same per-sample shape.
func Concat(a, b *Subset) (*Subset, error) {
	if a.Dim() != b.Dim() {
		return nil, fmt.Errorf("cannot concatenate subsets with feature dims %d and %d", a.Dim(), b.Dim())
	}
	out := &Subset{
		Features: make([][]float32, 0, a.Len()+b.Len()),
		Shape:    append([]int{}, a.Shape...),
		Labels:   make([]int, 0, a.Len()+b.Len()),
	}
	out.Features = append(out.Features, a.Features...)
	out.Features = append(out.Features, b.Features...)
	out.Labels = append(out.Labels, a.Labels...)
	out.Labels = append(out.Labels, b.Labels...)
	return out, nil
}

// sortedNames returns the subset names in deterministic order.
func (d *Dataset) sortedNames() []string {
	names := make([]string, 0, len(d.Subsets))
	for name := range d.Subsets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const manifestEntry = "manifest.json"

type datasetManifest struct {
	FormatVersion int              `json:"format_version"`
	LabelNames    []string         `json:"label_names"`
	Subsets       []subsetManifest `json:"subsets"`
}

type subsetManifest struct {
	Name    string `json:"name"`
	Samples int    `json:"samples"`
	Shape   []int  `json:"shape"`
}

// Save writes the dataset to path as a zip container with a JSON manifest
// and wire-encoded tensor entries.
func (d *Dataset) Save(path string) error {
	manifest := datasetManifest{FormatVersion: 1, LabelNames: d.LabelNames}
	var entries []tensorio.Entry
	for _, name := range d.sortedNames() {
		s := d.Subsets[name]
		if err := checkSubset(name, s, len(d.LabelNames)); err != nil {
			return err
		}
		manifest.Subsets = append(manifest.Subsets, subsetManifest{
			Name:    name,
			Samples: s.Len(),
			Shape:   s.Shape,
		})
		entries = append(entries,
			tensorio.Entry{Name: name + ".features.bin", Data: tensorio.EncodeFloat32s(s.Features)},
			tensorio.Entry{Name: name + ".labels.bin", Data: tensorio.EncodeInts(s.Labels)},
		)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding dataset manifest: %v", err)
	}
	entries = append([]tensorio.Entry{{Name: manifestEntry, Data: data}}, entries...)
	return tensorio.WriteArchive(path, entries)
}

// Load reads a dataset container written by Save.
func Load(path string) (*Dataset, error) {
	archive, err := tensorio.ReadArchive(path)
	if err != nil {
		return nil, err
	}
	raw, ok := archive[manifestEntry]
	if !ok {
		return nil, fmt.Errorf("dataset %s has no %s entry", path, manifestEntry)
	}
	var manifest datasetManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("parsing dataset manifest: %v", err)
	}

	d := New(manifest.LabelNames...)
	for _, sm := range manifest.Subsets {
		features, err := tensorio.DecodeFloat32s(archive[sm.Name+".features.bin"])
		if err != nil {
			return nil, fmt.Errorf("decoding %s features: %v", sm.Name, err)
		}
		labels, err := tensorio.DecodeInts(archive[sm.Name+".labels.bin"])
		if err != nil {
			return nil, fmt.Errorf("decoding %s labels: %v", sm.Name, err)
		}
		if len(features) != sm.Samples || len(labels) != sm.Samples {
			return nil, fmt.Errorf("subset %s: manifest claims %d samples, found %d features and %d labels",
				sm.Name, sm.Samples, len(features), len(labels))
		}
		s := &Subset{Features: features, Shape: append([]int{}, sm.Shape...), Labels: labels}
		if err := checkSubset(sm.Name, s, len(manifest.LabelNames)); err != nil {
			return nil, err
		}
		d.Subsets[sm.Name] = s
	}
	return d, nil
}

func checkSubset(name string, s *Subset, numLabels int) error {
	if len(s.Features) != len(s.Labels) {
		return fmt.Errorf("subset %s: %d feature rows but %d labels", name, len(s.Features), len(s.Labels))
	}
	dim := s.Dim()
	for i, row := range s.Features {
		if len(row) != dim {
			return fmt.Errorf("subset %s: sample %d has %d features, shape %v implies %d",
				name, i, len(row), s.Shape, dim)
		}
	}
	for i, label := range s.Labels {
		if label < 0 || label >= numLabels {
			return fmt.Errorf("subset %s: label %d out of range at sample %d (have %d classes)",
				name, label, i, numLabels)
		}
	}
	return nil
}
