// Command experiment trains and evaluates music-genre classifiers on
// pre-built feature datasets.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/generiic/bandcamp-deep-learning/arch"
	"github.com/generiic/bandcamp-deep-learning/baseline"
	"github.com/generiic/bandcamp-deep-learning/dataset"
	"github.com/generiic/bandcamp-deep-learning/experiment"
	"github.com/generiic/bandcamp-deep-learning/optimizer"
)

const usage = `Usage: experiment <command> [options]

Commands:
  train      run a training experiment
  baseline   fit a non-neural baseline classifier

Run "experiment <command> -h" for command options.
`

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	switch os.Args[1] {
	case "train":
		runTrain(os.Args[2:])
	case "baseline":
		runBaseline(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
}

func runTrain(args []string) {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	defaults := experiment.DefaultConfig()

	datasetPath := fs.String("dataset", "", "path of the dataset zip (required)")
	architecture := fs.String("model-architecture", "",
		"network architecture, one of: "+strings.Join(arch.Names(), ", "))
	modelParams := fs.String("model-params", "", "colon-separated key=value model parameters")
	numEpochs := fs.Int("num-epochs", defaults.NumEpochs, "number of training epochs")
	batchSize := fs.Int("batch-size", defaults.BatchSize, "examples per minibatch")
	chunkSize := fs.Int("chunk-size", defaults.ChunkSize,
		"examples per training chunk, 0 for the whole subset")
	reshapeTo := fs.String("reshape-to", "", "comma-separated shape to reshape features to")
	updateFuncName := fs.String("update-func-name", defaults.UpdateFuncName,
		"optimizer, one of: "+strings.Join(optimizer.Names(), ", "))
	updateFuncKwargs := fs.String("update-func-kwargs", "",
		"colon-separated key=value optimizer options")
	learningRate := fs.Float64("learning-rate", defaults.LearningRate, "initial learning rate")
	adaptLearningRate := fs.Bool("adapt-learning-rate", defaults.AdaptLearningRate,
		"reduce the learning rate when validation accuracy plateaus")
	subtractMean := fs.Bool("subtract-mean", defaults.SubtractMean,
		"subtract the training-set mean from all subsets")
	labelsToKeep := fs.String("labels-to-keep", "",
		"comma-separated labels to keep, dropping all others")
	snapshotEvery := fs.Int("snapshot-every", defaults.SnapshotEvery,
		"save a snapshot every this many epochs, 0 to disable")
	snapshotPrefix := fs.String("snapshot-prefix", defaults.SnapshotPrefix,
		"path prefix for snapshot files")
	startFromSnapshot := fs.String("start-from-snapshot", "",
		"snapshot path to resume training from")
	snapshotFinalModel := fs.Bool("snapshot-final-model", defaults.SnapshotFinalModel,
		"save the final model when training ends")
	testOnly := fs.Bool("test-only", defaults.TestOnly,
		"skip training and report accuracy on the testing subset")
	seed := fs.Int64("seed", defaults.Seed, "random seed for shuffling and initialization")
	fs.Parse(args)

	cfg := defaults
	cfg.DatasetPath = *datasetPath
	cfg.Architecture = *architecture
	cfg.NumEpochs = *numEpochs
	cfg.BatchSize = *batchSize
	cfg.ChunkSize = *chunkSize
	cfg.UpdateFuncName = *updateFuncName
	cfg.LearningRate = *learningRate
	cfg.AdaptLearningRate = *adaptLearningRate
	cfg.SubtractMean = *subtractMean
	cfg.SnapshotEvery = *snapshotEvery
	cfg.SnapshotPrefix = *snapshotPrefix
	cfg.StartFromSnapshot = *startFromSnapshot
	cfg.SnapshotFinalModel = *snapshotFinalModel
	cfg.TestOnly = *testOnly
	cfg.Seed = *seed
	cfg.LabelsToKeep = splitList(*labelsToKeep)

	var err error
	if cfg.ModelParams, err = experiment.ParseParamString(*modelParams); err != nil {
		log.Fatalf("invalid -model-params: %v", err)
	}
	if cfg.UpdateFuncKwargs, err = experiment.ParseParamString(*updateFuncKwargs); err != nil {
		log.Fatalf("invalid -update-func-kwargs: %v", err)
	}
	if cfg.ReshapeTo, err = parseShape(*reshapeTo); err != nil {
		log.Fatalf("invalid -reshape-to: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if _, err := experiment.Run(ctx, cfg, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func runBaseline(args []string) {
	fs := flag.NewFlagSet("baseline", flag.ExitOnError)

	datasetPath := fs.String("dataset", "", "path of the dataset zip (required)")
	name := fs.String("baseline-name", "", "baseline classifier: random_forest or linear")
	testSubset := fs.String("test-subset", dataset.SubsetValidation,
		"subset to report accuracy on: validation or testing")
	rfEstimators := fs.Int("rf-n-estimators", baseline.DefaultRFNumEstimators,
		"trees per random forest")
	rfNumIter := fs.Int("rf-num-iter", baseline.DefaultRFNumIter,
		"number of forests to average")
	labelsToKeep := fs.String("labels-to-keep", "",
		"comma-separated labels to keep, dropping all others")
	seed := fs.Int64("seed", 0, "random seed for shuffling")
	fs.Parse(args)

	if *datasetPath == "" {
		log.Fatal("-dataset is required")
	}

	ds, err := dataset.Load(*datasetPath)
	if err != nil {
		log.Fatal(err)
	}
	err = ds.Prepare(dataset.PrepareConfig{
		LabelsToKeep: splitList(*labelsToKeep),
		Flatten:      true,
		Seed:         *seed,
	})
	if err != nil {
		log.Fatal(err)
	}

	err = baseline.Run(ds, baseline.Config{
		Name:            *name,
		TestSubset:      *testSubset,
		RFNumEstimators: *rfEstimators,
		RFNumIter:       *rfNumIter,
		Seed:            *seed,
	}, os.Stdout)
	if err != nil {
		log.Fatal(err)
	}
}

func parseShape(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	shape := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("bad dimension %q", p)
		}
		shape = append(shape, n)
	}
	return shape, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
