// Package baseline fits non-neural classifiers on a prepared dataset and
// reports their accuracy, giving network experiments a reference point.
package baseline

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"

	randomforest "github.com/malaschitz/randomForest"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/generiic/bandcamp-deep-learning/dataset"
)

// Defaults mirror the historical experiment settings.
const (
	DefaultRFNumEstimators = 100
	DefaultRFNumIter       = 10
)

// Config selects and parameterizes a baseline classifier.
type Config struct {
	// Name is the classifier to run: "random_forest" or "linear".
	Name string
	// TestSubset is where accuracy is measured: "validation" (default)
	// or "testing". Testing runs train on training plus validation.
	TestSubset string
	// RFNumEstimators is the number of trees per forest.
	RFNumEstimators int
	// RFNumIter is how many independently trained forests are averaged.
	RFNumIter int
	// Seed drives the per-iteration training-set shuffles.
	Seed int64
}

// Run fits the configured baseline and prints its accuracy to w.
func Run(ds *dataset.Dataset, cfg Config, w io.Writer) error {
	if w == nil {
		w = os.Stdout
	}
	if cfg.RFNumEstimators <= 0 {
		cfg.RFNumEstimators = DefaultRFNumEstimators
	}
	if cfg.RFNumIter <= 0 {
		cfg.RFNumIter = DefaultRFNumIter
	}
	testSubset := cfg.TestSubset
	if testSubset == "" {
		testSubset = dataset.SubsetValidation
	}
	if testSubset != dataset.SubsetValidation && testSubset != dataset.SubsetTesting {
		return fmt.Errorf("test subset must be %s or %s, got %s",
			dataset.SubsetValidation, dataset.SubsetTesting, testSubset)
	}

	train, err := trainingInstances(ds, testSubset)
	if err != nil {
		return err
	}
	test := ds.Subsets[testSubset]
	if test == nil || test.Len() == 0 {
		return fmt.Errorf("dataset has no %s subset", testSubset)
	}
	if train.Dim() != test.Dim() {
		return fmt.Errorf("training dim %d does not match %s dim %d", train.Dim(), testSubset, test.Dim())
	}

	switch cfg.Name {
	case "random_forest":
		return runRandomForest(train, test, cfg, w)
	case "linear":
		return runLinear(train, test, w)
	default:
		return fmt.Errorf("unknown baseline_name %s (supported values: random_forest, linear)", cfg.Name)
	}
}

// trainingInstances returns the training subset, extended with the
// validation subset when accuracy is measured on testing.
func trainingInstances(ds *dataset.Dataset, testSubset string) (*dataset.Subset, error) {
	train := ds.Subsets[dataset.SubsetTraining]
	if train == nil || train.Len() == 0 {
		return nil, fmt.Errorf("dataset has no training subset")
	}
	if testSubset == dataset.SubsetValidation {
		return train, nil
	}
	val := ds.Subsets[dataset.SubsetValidation]
	if val == nil || val.Len() == 0 {
		return nil, fmt.Errorf("dataset has no validation subset")
	}
	return dataset.Concat(train, val)
}

// runRandomForest averages the accuracy of RFNumIter forests, each
// trained on a freshly shuffled copy of the training instances.
func runRandomForest(train, test *dataset.Subset, cfg Config, w io.Writer) error {
	rng := rand.New(rand.NewSource(cfg.Seed))
	xTest := toFloat64(test.Features)

	scores := make([]float64, 0, cfg.RFNumIter)
	for iter := 0; iter < cfg.RFNumIter; iter++ {
		shuffled := shuffledCopy(train, rng)
		forest := randomforest.Forest{
			Data: randomforest.ForestData{
				X:     toFloat64(shuffled.Features),
				Class: append([]int(nil), shuffled.Labels...),
			},
		}
		forest.Train(cfg.RFNumEstimators)

		correct := 0
		for i, x := range xTest {
			if voteArgmax(forest.Vote(x)) == test.Labels[i] {
				correct++
			}
		}
		scores = append(scores, float64(correct)/float64(test.Len()))
	}
	fmt.Fprintf(w, "Accuracy: %.4f (std: %.4f)\n", stat.Mean(scores, nil), stat.PopStdDev(scores, nil))
	return nil
}

func voteArgmax(votes []float64) int {
	best := 0
	for i := 1; i < len(votes); i++ {
		if votes[i] > votes[best] {
			best = i
		}
	}
	return best
}

// runLinear scales features to the training-set [0, 1] range, fits
// one-vs-rest ridge regression, and classifies by the largest response.
func runLinear(train, test *dataset.Subset, w io.Writer) error {
	scaler := fitMinMaxScaler(train.Features)
	model, err := fitRidgeOneVsRest(scaler.transform(train.Features), train.Labels)
	if err != nil {
		return err
	}

	correct := 0
	for i, x := range scaler.transform(test.Features) {
		if model.predict(x) == test.Labels[i] {
			correct++
		}
	}
	fmt.Fprintf(w, "Accuracy: %.4f\n", float64(correct)/float64(test.Len()))
	return nil
}

// minMaxScaler maps each feature to [0, 1] using training-set bounds.
// Constant features map to 0.
type minMaxScaler struct {
	min   []float64
	scale []float64
}

func fitMinMaxScaler(rows [][]float32) *minMaxScaler {
	dim := len(rows[0])
	s := &minMaxScaler{min: make([]float64, dim), scale: make([]float64, dim)}
	max := make([]float64, dim)
	for j := 0; j < dim; j++ {
		s.min[j] = math.Inf(1)
		max[j] = math.Inf(-1)
	}
	for _, row := range rows {
		for j, v := range row {
			f := float64(v)
			if f < s.min[j] {
				s.min[j] = f
			}
			if f > max[j] {
				max[j] = f
			}
		}
	}
	for j := range s.scale {
		if r := max[j] - s.min[j]; r > 0 {
			s.scale[j] = 1 / r
		}
	}
	return s
}

func (s *minMaxScaler) transform(rows [][]float32) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		t := make([]float64, len(row))
		for j, v := range row {
			t[j] = (float64(v) - s.min[j]) * s.scale[j]
		}
		out[i] = t
	}
	return out
}

// ridgeModel holds one-vs-rest regression coefficients; the final row of
// coef is the intercept.
type ridgeModel struct {
	coef    *mat.Dense
	classes int
}

// fitRidgeOneVsRest solves (XᵀX + λI)B = XᵀY with a bias column on X and
// one indicator column per class in Y.
func fitRidgeOneVsRest(rows [][]float64, labels []int) (*ridgeModel, error) {
	n := len(rows)
	dim := len(rows[0])
	classes := 0
	for _, y := range labels {
		if y+1 > classes {
			classes = y + 1
		}
	}
	if classes < 2 {
		return nil, fmt.Errorf("linear baseline needs at least 2 classes, got %d", classes)
	}

	x := mat.NewDense(n, dim+1, nil)
	for i, row := range rows {
		for j, v := range row {
			x.Set(i, j, v)
		}
		x.Set(i, dim, 1)
	}
	y := mat.NewDense(n, classes, nil)
	for i, label := range labels {
		y.Set(i, label, 1)
	}

	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	const lambda = 1e-6
	for i := 0; i <= dim; i++ {
		xtx.Set(i, i, xtx.At(i, i)+lambda)
	}
	var xty mat.Dense
	xty.Mul(x.T(), y)

	var coef mat.Dense
	if err := coef.Solve(&xtx, &xty); err != nil {
		return nil, fmt.Errorf("solving ridge system: %v", err)
	}
	return &ridgeModel{coef: &coef, classes: classes}, nil
}

func (m *ridgeModel) predict(x []float64) int {
	row := mat.NewDense(1, len(x)+1, append(append([]float64(nil), x...), 1))
	var scores mat.Dense
	scores.Mul(row, m.coef)
	best := 0
	for c := 1; c < m.classes; c++ {
		if scores.At(0, c) > scores.At(0, best) {
			best = c
		}
	}
	return best
}

func toFloat64(rows [][]float32) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		t := make([]float64, len(row))
		for j, v := range row {
			t[j] = float64(v)
		}
		out[i] = t
	}
	return out
}

func shuffledCopy(s *dataset.Subset, rng *rand.Rand) *dataset.Subset {
	out := &dataset.Subset{
		Features: append([][]float32(nil), s.Features...),
		Shape:    append([]int(nil), s.Shape...),
		Labels:   append([]int(nil), s.Labels...),
	}
	out.Shuffle(rng)
	return out
}
