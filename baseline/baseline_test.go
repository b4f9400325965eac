package baseline

import (
	"bytes"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/generiic/bandcamp-deep-learning/dataset"
)

// clusterSubset builds a linearly separable 2D set with two classes
// centered at (2, 0) and (-2, 0).
func clusterSubset(n int, seed int64) *dataset.Subset {
	rng := rand.New(rand.NewSource(seed))
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

func clusterDataset() *dataset.Dataset {
	ds := dataset.New("metal", "rock")
	ds.Subsets[dataset.SubsetTraining] = clusterSubset(40, 1)
	ds.Subsets[dataset.SubsetValidation] = clusterSubset(20, 2)
	ds.Subsets[dataset.SubsetTesting] = clusterSubset(20, 3)
	return ds
}

func TestMinMaxScaler(t *testing.T) {
	scaler := fitMinMaxScaler([][]float32{{0, 10}, {2, 10}, {4, 10}})
	got := scaler.transform([][]float32{{2, 10}, {8, 3}})

	if math.Abs(got[0][0]-0.5) > 1e-12 || got[0][1] != 0 {
		t.Errorf("in-range row: expected [0.5 0], got %v", got[0])
	}
	// Out-of-range values extrapolate; constant features stay 0.
	if math.Abs(got[1][0]-2.0) > 1e-12 || got[1][1] != 0 {
		t.Errorf("out-of-range row: expected [2 0], got %v", got[1])
	}
}

func TestLinearBaselineSeparatesClusters(t *testing.T) {
	var buf bytes.Buffer
	err := Run(clusterDataset(), Config{Name: "linear"}, &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "Accuracy: 1.0000\n"
	if buf.String() != expected {
		t.Errorf("expected %q, got %q", expected, buf.String())
	}
}

func TestLinearBaselineOnTestingSubset(t *testing.T) {
	var buf bytes.Buffer
	err := Run(clusterDataset(), Config{Name: "linear", TestSubset: dataset.SubsetTesting}, &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "Accuracy: ") {
		t.Errorf("expected accuracy line, got %q", buf.String())
	}
}

func TestRandomForestBaseline(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Name: "random_forest", RFNumEstimators: 10, RFNumIter: 2, Seed: 4}
	if err := Run(clusterDataset(), cfg, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var mean, std float64
	if _, err := fmt.Sscanf(buf.String(), "Accuracy: %f (std: %f)", &mean, &std); err != nil {
		t.Fatalf("unexpected output %q: %v", buf.String(), err)
	}
	if mean < 0.5 || mean > 1 {
		t.Errorf("expected accuracy in (0.5, 1], got %v", mean)
	}
	if std < 0 {
		t.Errorf("expected non-negative std, got %v", std)
	}
}

func TestUnknownBaselineName(t *testing.T) {
	err := Run(clusterDataset(), Config{Name: "svm"}, &bytes.Buffer{})
	if err == nil {
		t.Fatal("expected error for unknown baseline")
	}
	expected := "unknown baseline_name svm (supported values: random_forest, linear)"
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}
}

func TestInvalidTestSubset(t *testing.T) {
	err := Run(clusterDataset(), Config{Name: "linear", TestSubset: "holdout"}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "test subset") {
		t.Errorf("expected test subset error, got %v", err)
	}
}

func TestTrainingInstancesConcatForTesting(t *testing.T) {
	ds := clusterDataset()
	train, err := trainingInstances(ds, dataset.SubsetTesting)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := ds.Subsets[dataset.SubsetTraining].Len() + ds.Subsets[dataset.SubsetValidation].Len()
	if train.Len() != expected {
		t.Errorf("expected %d concatenated instances, got %d", expected, train.Len())
	}

	onlyTrain, err := trainingInstances(ds, dataset.SubsetValidation)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if onlyTrain.Len() != ds.Subsets[dataset.SubsetTraining].Len() {
		t.Errorf("expected training subset only, got %d instances", onlyTrain.Len())
	}
}

func TestRidgeRejectsSingleClass(t *testing.T) {
	rows := [][]float64{{1, 2}, {3, 4}}
	if _, err := fitRidgeOneVsRest(rows, []int{0, 0}); err == nil {
		t.Error("expected error for single-class input")
	}
}
