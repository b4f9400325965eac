package training

import (
	"fmt"
	"io"
	"os"
)

// ConsoleObserver prints progress in the classic experiment-log format,
// one event per line, accuracies as percentages.
type ConsoleObserver struct {
	W io.Writer
}

// NewConsoleObserver returns an observer writing to w, or to stdout when
// w is nil.
func NewConsoleObserver(w io.Writer) *ConsoleObserver {
	if w == nil {
		w = os.Stdout
	}
	return &ConsoleObserver{W: w}
}

func (c *ConsoleObserver) InitialValidation(loss, accuracy float64) {
	fmt.Fprintf(c.W, "Initial validation loss & accuracy:\t %.6f\t%.2f%%\n", loss, accuracy*100)
}

func (c *ConsoleObserver) EpochCompleted(stats EpochStats) {
	fmt.Fprintf(c.W, "Epoch %d of %d took %.3fs\n", stats.Epoch+1, stats.TotalEpochs, stats.Elapsed.Seconds())
	fmt.Fprintf(c.W, "\ttraining loss:\t\t\t %.6f\n", stats.TrainingLoss)
	fmt.Fprintf(c.W, "\tvalidation loss & accuracy:\t %.6f\t%.2f%%\n", stats.ValidationLoss, stats.ValidationAccuracy*100)
}

func (c *ConsoleObserver) SnapshotSaved(path string, final bool) {
	if final {
		fmt.Fprintf(c.W, "Training finished -- saving final model\n")
	}
	fmt.Fprintf(c.W, "Saving snapshot to %s\n", path)
}

func (c *ConsoleObserver) LearningRateReduced(newRate float64) {
	fmt.Fprintf(c.W, "Validation accuracy not increased from max, reducing learning rate to %.0e\n", newRate)
}

func (c *ConsoleObserver) MinimumRateReached() {
	fmt.Fprintf(c.W, "Reached minimum learning rate. Stopping now.\n")
}

func (c *ConsoleObserver) DivergenceDetected(reason string) {
	fmt.Fprintf(c.W, "Divergence detected (%s). Stopping now.\n", reason)
}
