package arch

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/generiic/bandcamp-deep-learning/dataset"
	"github.com/generiic/bandcamp-deep-learning/layers"
	"github.com/generiic/bandcamp-deep-learning/optimizer"
	"github.com/generiic/bandcamp-deep-learning/training"
)

// denseLayer is one fully connected layer with row-major weights.
type denseLayer struct {
	in  int
	out int
	w   []float32
	b   []float32
}

// Model is a feedforward float32 network: dense layers joined by ReLU
// activations with optional dropout, topped by a softmax cross-entropy
// head. Parameters are exposed as flat tensors ordered weight then bias
// per layer, which is also the order optimizers and snapshots see.
type Model struct {
	spec    *layers.ModelSpec
	dense   []*denseLayer
	params  [][]float32
	dropout float64
	rng     *rand.Rand
	inDim   int
	outDim  int
}

func newModel(cfg BuildConfig, hidden []int, dropout float64) (*Model, error) {
	spec, err := buildSpec(cfg, hidden, dropout)
	if err != nil {
		return nil, err
	}

	m := &Model{
		spec:    spec,
		dropout: dropout,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		inDim:   cfg.inputDim(),
		outDim:  cfg.OutputDim,
	}
	dims := append([]int{m.inDim}, hidden...)
	dims = append(dims, cfg.OutputDim)
	for i := 0; i+1 < len(dims); i++ {
		l := newDenseLayer(dims[i], dims[i+1], m.rng)
		m.dense = append(m.dense, l)
		m.params = append(m.params, l.w, l.b)
	}
	return m, nil
}

// newDenseLayer draws weights from a Glorot-uniform distribution and
// zeroes the biases.
func newDenseLayer(in, out int, rng *rand.Rand) *denseLayer {
	l := &denseLayer{in: in, out: out, w: make([]float32, in*out), b: make([]float32, out)}
	limit := math.Sqrt(6 / float64(in+out))
	for i := range l.w {
		l.w[i] = float32((rng.Float64()*2 - 1) * limit)
	}
	return l
}

func buildSpec(cfg BuildConfig, hidden []int, dropout float64) (*layers.ModelSpec, error) {
	mb := layers.NewModelBuilder(append([]int{cfg.BatchSize}, cfg.InputShape...))
	for i, units := range hidden {
		mb.AddDense(units, true, fmt.Sprintf("hidden%d", i+1))
		mb.AddReLU(fmt.Sprintf("relu%d", i+1))
		if dropout > 0 {
			mb.AddDropout(dropout, fmt.Sprintf("dropout%d", i+1))
		}
	}
	mb.AddDense(cfg.OutputDim, true, "output")
	mb.AddSoftmax("softmax")
	return mb.Compile()
}

// Spec returns the structured description of the network.
func (m *Model) Spec() *layers.ModelSpec { return m.spec }

// ParamValues returns a deep copy of all parameter tensors.
func (m *Model) ParamValues() [][]float32 {
	out := make([][]float32, len(m.params))
	for i, p := range m.params {
		out[i] = append([]float32(nil), p...)
	}
	return out
}

// SetParamValues copies values into the live parameters. The tensor count
// and per-tensor sizes must match the model exactly.
func (m *Model) SetParamValues(values [][]float32) error {
	if len(values) != len(m.params) {
		return fmt.Errorf("expected %d parameter tensors, got %d", len(m.params), len(values))
	}
	for i, v := range values {
		if len(v) != len(m.params[i]) {
			return fmt.Errorf("parameter tensor %d: expected %d values, got %d", i, len(m.params[i]), len(v))
		}
	}
	for i, v := range values {
		copy(m.params[i], v)
	}
	return nil
}

// TrainEpoch runs one epoch of minibatch updates over the subset and
// returns the mean training loss. Batches never straddle chunk
// boundaries; with chunkSize 0 the whole subset forms a single chunk.
// Trailing samples short of a full batch are skipped. An infinite batch
// loss aborts the epoch with an error wrapping
// training.ErrNumericOverflow; a NaN loss is returned as a value.
func (m *Model) TrainEpoch(subset *dataset.Subset, batchSize, chunkSize int, opt optimizer.Optimizer) (float64, error) {
	if err := m.checkInput(subset); err != nil {
		return 0, err
	}
	if batchSize <= 0 {
		return 0, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	n := subset.Len()
	if chunkSize <= 0 {
		chunkSize = n
	}

	total := 0.0
	batches := 0
	for chunkStart := 0; chunkStart < n; chunkStart += chunkSize {
		chunkEnd := chunkStart + chunkSize
		if chunkEnd > n {
			chunkEnd = n
		}
		for start := chunkStart; start+batchSize <= chunkEnd; start += batchSize {
			end := start + batchSize
			labels := subset.Labels[start:end]
			st := m.forward(subset.Features[start:end], true)
			loss := m.batchLoss(st.probs, labels)
			if math.IsInf(loss, 0) {
				return 0, fmt.Errorf("%w: infinite training loss in batch %d", training.ErrNumericOverflow, batches+1)
			}
			total += loss
			batches++
			opt.Update(m.params, m.backward(st, labels))
		}
	}
	if batches == 0 {
		return 0, fmt.Errorf("training subset of %d samples yields no batches of size %d", n, batchSize)
	}
	return total / float64(batches), nil
}

// Evaluate computes mean loss and accuracy over every sample in the
// subset. Parameters are not touched and dropout is disabled.
func (m *Model) Evaluate(subset *dataset.Subset, batchSize int) (float64, float64, error) {
	if err := m.checkInput(subset); err != nil {
		return 0, 0, err
	}
	if batchSize <= 0 {
		return 0, 0, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	n := subset.Len()
	totalLoss := 0.0
	correct := 0
	for start := 0; start < n; start += batchSize {
		end := start + batchSize
		if end > n {
			end = n
		}
		st := m.forward(subset.Features[start:end], false)
		for r, y := range subset.Labels[start:end] {
			row := st.probs[r*m.outDim : (r+1)*m.outDim]
			totalLoss += -math.Log(float64(row[y]))
			best := 0
			for j := 1; j < m.outDim; j++ {
				if row[j] > row[best] {
					best = j
				}
			}
			if best == y {
				correct++
			}
		}
	}
	return totalLoss / float64(n), float64(correct) / float64(n), nil
}

func (m *Model) checkInput(subset *dataset.Subset) error {
	if subset == nil || subset.Len() == 0 {
		return fmt.Errorf("subset is empty")
	}
	if subset.Dim() != m.inDim {
		return fmt.Errorf("subset feature dim %d does not match model input dim %d", subset.Dim(), m.inDim)
	}
	return nil
}

// forwardState holds per-batch intermediates needed by backprop. inputs[i]
// is the row-major batch input to dense layer i, after any dropout.
type forwardState struct {
	inputs [][]float32
	zs     [][]float32
	masks  [][]float32
	probs  []float32
}

func (m *Model) forward(batch [][]float32, train bool) *forwardState {
	bs := len(batch)
	cur := make([]float32, bs*m.inDim)
	for r, row := range batch {
		copy(cur[r*m.inDim:(r+1)*m.inDim], row)
	}

	st := &forwardState{}
	st.inputs = append(st.inputs, cur)
	last := len(m.dense) - 1
	for li, l := range m.dense {
		z := make([]float32, bs*l.out)
		matmulBias(cur, l.w, l.b, z, bs, l.in, l.out)
		st.zs = append(st.zs, z)
		if li == last {
			st.probs = make([]float32, len(z))
			softmaxRows(z, st.probs, bs, l.out)
			break
		}
		a := make([]float32, len(z))
		for i, v := range z {
			if v > 0 {
				a[i] = v
			}
		}
		var mask []float32
		if train && m.dropout > 0 {
			mask = m.dropoutMask(len(a))
			for i := range a {
				a[i] *= mask[i]
			}
		}
		st.masks = append(st.masks, mask)
		st.inputs = append(st.inputs, a)
		cur = a
	}
	return st
}

// dropoutMask draws an inverted-dropout mask: kept units are scaled by
// 1/(1-rate) so evaluation needs no rescaling.
func (m *Model) dropoutMask(n int) []float32 {
	keep := 1 - m.dropout
	inv := float32(1 / keep)
	mask := make([]float32, n)
	for i := range mask {
		if m.rng.Float64() < keep {
			mask[i] = inv
		}
	}
	return mask
}

// batchLoss is the mean cross-entropy of the true labels under probs.
func (m *Model) batchLoss(probs []float32, labels []int) float64 {
	total := 0.0
	for r, y := range labels {
		total += -math.Log(float64(probs[r*m.outDim+y]))
	}
	return total / float64(len(labels))
}

// backward computes parameter gradients for the batch captured in st,
// aligned with the params layout.
func (m *Model) backward(st *forwardState, labels []int) [][]float32 {
	bs := len(labels)
	last := len(m.dense) - 1

	// Softmax plus cross-entropy differentiates to (p - onehot) / bs.
	out := m.dense[last].out
	dz := make([]float32, bs*out)
	copy(dz, st.probs)
	for r, y := range labels {
		dz[r*out+y] -= 1
	}
	inv := float32(1 / float64(bs))
	for i := range dz {
		dz[i] *= inv
	}

	grads := make([][]float32, 2*len(m.dense))
	for li := last; li >= 0; li-- {
		l := m.dense[li]
		input := st.inputs[li]
		dw := make([]float32, l.in*l.out)
		db := make([]float32, l.out)
		for r := 0; r < bs; r++ {
			inRow := input[r*l.in : (r+1)*l.in]
			dzRow := dz[r*l.out : (r+1)*l.out]
			for i, iv := range inRow {
				if iv == 0 {
					continue
				}
				wRow := dw[i*l.out : (i+1)*l.out]
				for j, dv := range dzRow {
					wRow[j] += iv * dv
				}
			}
			for j, dv := range dzRow {
				db[j] += dv
			}
		}
		grads[2*li] = dw
		grads[2*li+1] = db
		if li == 0 {
			break
		}

		// Propagate through the weights, the dropout mask, and the ReLU.
		prev := make([]float32, bs*l.in)
		for r := 0; r < bs; r++ {
			dzRow := dz[r*l.out : (r+1)*l.out]
			prevRow := prev[r*l.in : (r+1)*l.in]
			for i := 0; i < l.in; i++ {
				wRow := l.w[i*l.out : (i+1)*l.out]
				var sum float32
				for j, dv := range dzRow {
					sum += wRow[j] * dv
				}
				prevRow[i] = sum
			}
		}
		z := st.zs[li-1]
		mask := st.masks[li-1]
		for i := range prev {
			if z[i] <= 0 {
				prev[i] = 0
				continue
			}
			if mask != nil {
				prev[i] *= mask[i]
			}
		}
		dz = prev
	}
	return grads
}

// matmulBias computes out = x·w + b for row-major x (rows×in) and
// w (in×cols).
func matmulBias(x, w, b, out []float32, rows, in, cols int) {
	for r := 0; r < rows; r++ {
		outRow := out[r*cols : (r+1)*cols]
		copy(outRow, b)
		xRow := x[r*in : (r+1)*in]
		for i, xv := range xRow {
			if xv == 0 {
				continue
			}
			wRow := w[i*cols : (i+1)*cols]
			for j, wv := range wRow {
				outRow[j] += xv * wv
			}
		}
	}
}

// softmaxRows writes row-wise softmax of z into out, shifted by the row
// maximum for stability.
func softmaxRows(z, out []float32, rows, cols int) {
	for r := 0; r < rows; r++ {
		zRow := z[r*cols : (r+1)*cols]
		outRow := out[r*cols : (r+1)*cols]
		max := zRow[0]
		for _, v := range zRow[1:] {
			if v > max {
				max = v
			}
		}
		var sum float32
		for j, v := range zRow {
			e := float32(math.Exp(float64(v - max)))
			outRow[j] = e
			sum += e
		}
		for j := range outRow {
			outRow[j] /= sum
		}
	}
}
