package training

import "time"

// EpochStats carries the measurements reported after each completed epoch.
// Epoch is zero-based; display formatting is the observer's concern.
type EpochStats struct {
	Epoch              int
	TotalEpochs        int
	Elapsed            time.Duration
	TrainingLoss       float64
	ValidationLoss     float64
	ValidationAccuracy float64
}

// Observer receives progress events from a training Loop. Implementations
// must not retain the stats beyond the call.
type Observer interface {
	// InitialValidation reports the pre-training validation pass.
	InitialValidation(loss, accuracy float64)
	// EpochCompleted reports one finished epoch, in completion order.
	EpochCompleted(stats EpochStats)
	// SnapshotSaved reports a written snapshot. final is true for the
	// end-of-run model save.
	SnapshotSaved(path string, final bool)
	// LearningRateReduced reports a plateau reduction to newRate.
	LearningRateReduced(newRate float64)
	// MinimumRateReached reports that a reduction undershot the floor
	// and the run is stopping.
	MinimumRateReached()
	// DivergenceDetected reports non-finite losses; reason names the
	// offending values. The run stops afterwards.
	DivergenceDetected(reason string)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) InitialValidation(loss, accuracy float64) {}
func (NopObserver) EpochCompleted(stats EpochStats)          {}
func (NopObserver) SnapshotSaved(path string, final bool)    {}
func (NopObserver) LearningRateReduced(newRate float64)      {}
func (NopObserver) MinimumRateReached()                      {}
func (NopObserver) DivergenceDetected(reason string)         {}
