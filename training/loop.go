// Package training implements the supervised training loop: epoch
// orchestration, divergence detection, periodic and final snapshots, and
// plateau-based learning-rate adaptation with rollback to the best
// parameters.
package training

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrNumericOverflow signals that a training step blew up numerically
// (infinite loss or overflowing activations). The step function wraps it
// with detail; the loop treats it as divergence rather than failure.
var ErrNumericOverflow = errors.New("numeric overflow")

// ReasonMinLearningRate is the Result.Reason recorded when adaptive
// reduction undershoots the minimum learning rate.
const ReasonMinLearningRate = "reached minimum learning rate"

// TrainStepFunc advances the model by one epoch of parameter updates and
// returns the mean training loss. It may return a NaN loss, or an error
// wrapping ErrNumericOverflow, on divergence.
type TrainStepFunc func() (float64, error)

// EvalFunc evaluates the current parameters without mutating them and
// returns validation loss and accuracy in [0,1].
type EvalFunc func() (loss, accuracy float64, err error)

// ParameterStore exposes the live model parameters. ParamValues returns a
// deep copy safe to retain; SetParamValues copies the given tensors back
// into the model and rejects shape mismatches.
type ParameterStore interface {
	ParamValues() [][]float32
	SetParamValues(values [][]float32) error
}

// RateCell is the mutable learning-rate cell shared with the optimizer.
type RateCell interface {
	GetLR() float64
	SetLR(lr float64)
}

// SnapshotWriter persists parameter snapshots. nextEpoch is the epoch a
// resumed run should start from.
type SnapshotWriter interface {
	Save(nextEpoch int, params [][]float32) (string, error)
}

// Outcome classifies how a training run ended.
type Outcome int

const (
	// OutcomeCompleted means the loop reached totalEpochs.
	OutcomeCompleted Outcome = iota
	// OutcomeDiverged means training was stopped early: non-finite
	// losses, a numeric overflow, or learning-rate underflow.
	OutcomeDiverged
	// OutcomeInterrupted means the context was canceled between epochs.
	OutcomeInterrupted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeDiverged:
		return "diverged"
	case OutcomeInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// LoopConfig holds the loop-level knobs. Snapshotting and adaptation are
// independently toggleable.
type LoopConfig struct {
	TotalEpochs int
	StartEpoch  int
	// SnapshotEvery persists a snapshot whenever (epoch+1) is a multiple
	// of it; 0 disables periodic snapshots.
	SnapshotEvery int
	// SnapshotFinalModel persists one last snapshot after the loop ends,
	// whatever the outcome, as long as at least one epoch completed.
	SnapshotFinalModel bool
	// AdaptLearningRate enables the plateau scheduler.
	AdaptLearningRate bool
	// MinLearningRate and GracePeriod configure the plateau scheduler;
	// zero values select the defaults.
	MinLearningRate float64
	GracePeriod     int
}

// Loop runs the training epochs. Step and Evaluate are required; Params,
// Rate and Snapshots are required only by the features that use them.
type Loop struct {
	Config    LoopConfig
	Step      TrainStepFunc
	Evaluate  EvalFunc
	Params    ParameterStore
	Rate      RateCell
	Snapshots SnapshotWriter
	Observer  Observer
}

// Result describes a finished run. NextEpoch is the epoch a resumed run
// would start from. BestAccuracy and BestEpoch are populated only when
// adaptive learning rate was on and at least one epoch completed.
type Result struct {
	Outcome            Outcome
	Reason             string
	EpochsRun          int
	NextEpoch          int
	ValidationLoss     float64
	ValidationAccuracy float64
	BestAccuracy       float64
	BestEpoch          int
}

func (l *Loop) validate() error {
	if l.Step == nil {
		return fmt.Errorf("training step function is required")
	}
	if l.Evaluate == nil {
		return fmt.Errorf("validation function is required")
	}
	cfg := l.Config
	if cfg.TotalEpochs < 0 {
		return fmt.Errorf("total epochs must be non-negative, got %d", cfg.TotalEpochs)
	}
	if cfg.StartEpoch < 0 {
		return fmt.Errorf("start epoch must be non-negative, got %d", cfg.StartEpoch)
	}
	if cfg.SnapshotEvery < 0 {
		return fmt.Errorf("snapshot interval must be non-negative, got %d", cfg.SnapshotEvery)
	}
	if (cfg.SnapshotEvery > 0 || cfg.SnapshotFinalModel) && l.Snapshots == nil {
		return fmt.Errorf("snapshotting enabled but no snapshot writer configured")
	}
	if (cfg.SnapshotEvery > 0 || cfg.SnapshotFinalModel || cfg.AdaptLearningRate) && l.Params == nil {
		return fmt.Errorf("parameter store is required for snapshotting and rate adaptation")
	}
	if cfg.AdaptLearningRate && l.Rate == nil {
		return fmt.Errorf("rate adaptation enabled but no learning-rate cell configured")
	}
	return nil
}

// Run executes epochs StartEpoch..TotalEpochs-1 and returns the outcome.
// Divergence and interruption are outcomes, not errors; the error return
// covers real failures such as evaluation or snapshot I/O.
func (l *Loop) Run(ctx context.Context) (Result, error) {
	var res Result
	if err := l.validate(); err != nil {
		return res, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	obs := l.Observer
	if obs == nil {
		obs = NopObserver{}
	}
	cfg := l.Config

	valLoss, valAcc, err := l.Evaluate()
	if err != nil {
		return res, fmt.Errorf("initial validation: %v", err)
	}
	obs.InitialValidation(valLoss, valAcc)
	res.ValidationLoss = valLoss
	res.ValidationAccuracy = valAcc
	res.NextEpoch = cfg.StartEpoch

	sched := NewPlateauScheduler(cfg.MinLearningRate, cfg.GracePeriod)

epochs:
	for epoch := cfg.StartEpoch; epoch < cfg.TotalEpochs; epoch++ {
		select {
		case <-ctx.Done():
			res.Outcome = OutcomeInterrupted
			res.Reason = ctx.Err().Error()
			break epochs
		default:
		}

		start := time.Now()
		trainLoss, err := l.Step()
		if err != nil {
			if errors.Is(err, ErrNumericOverflow) {
				res.Outcome = OutcomeDiverged
				res.Reason = err.Error()
				obs.DivergenceDetected(err.Error())
				break epochs
			}
			return res, fmt.Errorf("training epoch %d: %v", epoch+1, err)
		}
		valLoss, valAcc, err = l.Evaluate()
		if err != nil {
			return res, fmt.Errorf("validating epoch %d: %v", epoch+1, err)
		}

		obs.EpochCompleted(EpochStats{
			Epoch:              epoch,
			TotalEpochs:        cfg.TotalEpochs,
			Elapsed:            time.Since(start),
			TrainingLoss:       trainLoss,
			ValidationLoss:     valLoss,
			ValidationAccuracy: valAcc,
		})
		res.EpochsRun++
		res.NextEpoch = epoch + 1
		res.ValidationLoss = valLoss
		res.ValidationAccuracy = valAcc

		if reason := nanReason(trainLoss, valLoss, valAcc); reason != "" {
			res.Outcome = OutcomeDiverged
			res.Reason = reason
			obs.DivergenceDetected(reason)
			break epochs
		}

		if cfg.SnapshotEvery > 0 && (epoch+1)%cfg.SnapshotEvery == 0 {
			path, err := l.Snapshots.Save(epoch+1, l.Params.ParamValues())
			if err != nil {
				return res, fmt.Errorf("saving snapshot after epoch %d: %v", epoch+1, err)
			}
			obs.SnapshotSaved(path, false)
		}

		if cfg.AdaptLearningRate {
			event, err := sched.Step(epoch, valAcc, l.Params, l.Rate)
			if err != nil {
				return res, fmt.Errorf("restoring best parameters after epoch %d: %v", epoch+1, err)
			}
			switch event {
			case PlateauReduced:
				obs.LearningRateReduced(l.Rate.GetLR())
			case PlateauFloor:
				obs.MinimumRateReached()
				res.Outcome = OutcomeDiverged
				res.Reason = ReasonMinLearningRate
				break epochs
			}
		}
	}

	if cfg.AdaptLearningRate {
		if best := sched.Best(); best != nil {
			res.BestAccuracy = best.Accuracy
			res.BestEpoch = best.Epoch
		}
	}

	if cfg.SnapshotFinalModel && res.EpochsRun > 0 {
		path, err := l.Snapshots.Save(res.NextEpoch, l.Params.ParamValues())
		if err != nil {
			return res, fmt.Errorf("saving final model: %v", err)
		}
		obs.SnapshotSaved(path, true)
	}
	return res, nil
}

// nanReason names the non-finite epoch measurements, or returns "" when
// all are finite.
func nanReason(trainLoss, valLoss, valAcc float64) string {
	var bad []string
	if math.IsNaN(trainLoss) || math.IsInf(trainLoss, 0) {
		bad = append(bad, fmt.Sprintf("training loss %v", trainLoss))
	}
	if math.IsNaN(valLoss) || math.IsInf(valLoss, 0) {
		bad = append(bad, fmt.Sprintf("validation loss %v", valLoss))
	}
	if math.IsNaN(valAcc) || math.IsInf(valAcc, 0) {
		bad = append(bad, fmt.Sprintf("validation accuracy %v", valAcc))
	}
	if len(bad) == 0 {
		return ""
	}
	return strings.Join(bad, ", ")
}
