package training

// Defaults for the adaptive learning-rate policy.
const (
	DefaultMinLearningRate = 1e-10
	DefaultGracePeriod     = 3
)

// MaxState records the best validation accuracy seen so far under adaptive
// learning-rate mode: the accuracy, the epoch it was observed at, and a
// frozen copy of the model parameters from that epoch. The copy never
// aliases the live, still-training parameters.
type MaxState struct {
	Accuracy float64
	Epoch    int
	Params   [][]float32
}

// PlateauEvent is the outcome of one plateau-scheduler step.
type PlateauEvent int

const (
	// PlateauHeld means no improvement, still inside the grace period.
	PlateauHeld PlateauEvent = iota
	// PlateauImproved means a new best accuracy was captured.
	PlateauImproved
	// PlateauReduced means the rate was divided by 10 and the live
	// parameters were rolled back to the best state.
	PlateauReduced
	// PlateauFloor means the reduction would undershoot the minimum rate;
	// the rate cell is left untouched and training must stop.
	PlateauFloor
)

func (e PlateauEvent) String() string {
	switch e {
	case PlateauHeld:
		return "held"
	case PlateauImproved:
		return "improved"
	case PlateauReduced:
		return "reduced"
	case PlateauFloor:
		return "floor"
	default:
		return "unknown"
	}
}

// PlateauScheduler lowers the learning rate when validation accuracy stops
// improving. Rather than a fixed decay schedule it decays only after the
// grace period expires without a new best accuracy, and it always resumes
// optimization from the best-known parameters instead of the regressed ones.
type PlateauScheduler struct {
	minRate float64
	grace   int
	max     *MaxState
}

// NewPlateauScheduler creates a plateau scheduler. Non-positive arguments
// fall back to DefaultMinLearningRate and DefaultGracePeriod.
func NewPlateauScheduler(minRate float64, gracePeriod int) *PlateauScheduler {
	if minRate <= 0 {
		minRate = DefaultMinLearningRate
	}
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}
	return &PlateauScheduler{minRate: minRate, grace: gracePeriod}
}

// Step evaluates the plateau rules once per epoch, after validation.
// params is the live parameter handle and rate the shared learning-rate
// cell; both are only touched on a reduction. The returned error comes from
// rolling parameters back and is fatal to the run.
func (p *PlateauScheduler) Step(epoch int, accuracy float64, params ParameterStore, rate RateCell) (PlateauEvent, error) {
	if p.max == nil || accuracy > p.max.Accuracy {
		p.max = &MaxState{Accuracy: accuracy, Epoch: epoch, Params: params.ParamValues()}
		return PlateauImproved, nil
	}

	if epoch-p.max.Epoch <= p.grace {
		return PlateauHeld, nil
	}

	newRate := rate.GetLR() / 10
	if newRate < p.minRate {
		return PlateauFloor, nil
	}
	rate.SetLR(newRate)
	if err := params.SetParamValues(p.max.Params); err != nil {
		return PlateauReduced, err
	}
	// Restart the grace-period clock, keeping the recorded best.
	p.max = &MaxState{Accuracy: p.max.Accuracy, Epoch: epoch, Params: p.max.Params}
	return PlateauReduced, nil
}

// Best returns the tracked best state, or nil before the first step.
func (p *PlateauScheduler) Best() *MaxState {
	return p.max
}
