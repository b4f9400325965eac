package dataset

import (
	"fmt"
	"math/rand"
)

// PrepareConfig selects the preparation transforms applied to a loaded
// dataset before an experiment or baseline run.
type PrepareConfig struct {
	// LabelsToKeep drops every sample whose label name is not listed and
	// remaps the kept labels to 0..k-1 in the order given.
	LabelsToKeep []string
	// ReshapeTo sets the logical per-sample shape, e.g. 3x350x350 for an
	// image subset stored flat.
	ReshapeTo []int
	// SubtractMean subtracts the training-set mean feature vector from
	// every subset.
	SubtractMean bool
	// Flatten collapses the logical shape back to one dimension.
	Flatten bool
	// Seed drives the final shuffle. Every run must pass it explicitly so
	// results stay reproducible.
	Seed int64
}

// Prepare applies the configured transforms in order: label filtering,
// reshaping, mean subtraction, flattening, then a seeded shuffle of every
// subset. The shuffle always runs.
func (d *Dataset) Prepare(cfg PrepareConfig) error {
	if len(cfg.LabelsToKeep) > 0 {
		if err := d.filterLabels(cfg.LabelsToKeep); err != nil {
			return err
		}
	}
	if len(cfg.ReshapeTo) > 0 {
		if err := d.reshape(cfg.ReshapeTo); err != nil {
			return err
		}
	}
	if cfg.SubtractMean {
		if err := d.subtractMean(); err != nil {
			return err
		}
	}
	if cfg.Flatten {
		d.flatten()
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	for _, name := range d.sortedNames() {
		d.Subsets[name].Shuffle(rng)
	}
	return nil
}

func (d *Dataset) filterLabels(keep []string) error {
	oldIndex := make(map[string]int, len(d.LabelNames))
	for i, name := range d.LabelNames {
		oldIndex[name] = i
	}

	remap := make(map[int]int, len(keep))
	var unknown []string
	for newIdx, name := range keep {
		oldIdx, ok := oldIndex[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		remap[oldIdx] = newIdx
	}
	if len(unknown) > 0 {
		return fmt.Errorf("unknown labels passed: %v", unknown)
	}

	for _, name := range d.sortedNames() {
		s := d.Subsets[name]
		features := s.Features[:0]
		labels := s.Labels[:0]
		for i, label := range s.Labels {
			newLabel, ok := remap[label]
			if !ok {
				continue
			}
			features = append(features, s.Features[i])
			labels = append(labels, newLabel)
		}
		s.Features = features
		s.Labels = labels
	}
	d.LabelNames = append([]string{}, keep...)
	return nil
}

func (d *Dataset) reshape(to []int) error {
	dim := 1
	for _, v := range to {
		if v <= 0 {
			return fmt.Errorf("reshape dims must be positive, got %v", to)
		}
		dim *= v
	}
	for _, name := range d.sortedNames() {
		s := d.Subsets[name]
		if s.Dim() != dim {
			return fmt.Errorf("cannot reshape subset %s with %d features to %v", name, s.Dim(), to)
		}
		s.Shape = append([]int{}, to...)
	}
	return nil
}

func (d *Dataset) subtractMean() error {
	training, ok := d.Subsets[SubsetTraining]
	if !ok || training.Len() == 0 {
		return fmt.Errorf("mean subtraction requires a non-empty %s subset", SubsetTraining)
	}

	dim := training.Dim()
	sums := make([]float64, dim)
	for _, row := range training.Features {
		for j, v := range row {
			sums[j] += float64(v)
		}
	}
	mean := make([]float32, dim)
	for j := range sums {
		mean[j] = float32(sums[j] / float64(training.Len()))
	}

	for _, name := range d.sortedNames() {
		for _, row := range d.Subsets[name].Features {
			for j := range row {
				row[j] -= mean[j]
			}
		}
	}
	return nil
}

func (d *Dataset) flatten() {
	for _, name := range d.sortedNames() {
		s := d.Subsets[name]
		if len(s.Shape) > 1 {
			s.Shape = []int{s.Dim()}
		}
	}
}
