package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"jamwatch/internal/cfg"
	"jamwatch/internal/dataset"
	"jamwatch/internal/evaluate"
	"jamwatch/internal/logging"
	"jamwatch/internal/ml"
	"jamwatch/internal/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		modelKind  = flag.String("model", "both", "Model to train: batch, incremental or both")
		outputPath = flag.String("output", "reports", "Output directory for trend reports")
		logLevel   = flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
		activate   = flag.String("activate", "", "Activate the new version of this model kind: batch or incremental")
		rollback   = flag.Bool("rollback", false, "Activate the version registered before the active one instead of training")
		importance = flag.Bool("importance", true, "Compute permutation feature importance on the test window")
		exportPath = flag.String("export", "", "Export archived validation rows to this CSV file instead of training")
		startDate  = flag.String("start", "", "Export start date (YYYY-MM-DD)")
		endDate    = flag.String("end", "", "Export end date (YYYY-MM-DD), exclusive")
	)
	flag.Parse()

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if *logLevel != "" {
		c.LogLevel = *logLevel
	}
	logging.Setup(logging.Options{Level: c.LogLevel, Console: true})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *exportPath != "" {
		if err := exportRows(c, *exportPath, *startDate, *endDate); err != nil {
			log.Fatal().Err(err).Msg("Export failed")
		}
		return
	}

	if *rollback {
		registry, err := ml.NewRegistry(c.ModelsDir)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open model registry")
		}
		if _, err := rollbackModel(registry); err != nil {
			log.Fatal().Err(err).Msg("Rollback failed")
		}
		return
	}

	kinds, err := parseKinds(*modelKind)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid model flag")
	}

	trainStart, trainEnd, testEnd, err := c.Training.TrainWindow()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid training window")
	}

	fmt.Println("=== Training Configuration ===")
	fmt.Printf("Traffic Dir: %s\n", c.TrafficDir)
	fmt.Printf("Train Window: %s .. %s\n", c.Training.TrainStart, c.Training.TrainEnd)
	fmt.Printf("Test Window: %s .. %s\n", c.Training.TrainEnd, c.Training.TestEnd)
	fmt.Printf("Decision Threshold: %.2f\n", c.TrainThreshold)
	fmt.Printf("Output Directory: %s\n", *outputPath)
	fmt.Println("==============================")

	table, err := dataset.LoadMonths(c.TrafficDir, trainStart, testEnd)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load traffic data")
	}
	table = table.Drop(dataset.DefaultDropColumns...)

	train := table.SubByRange(trainStart, trainEnd)
	test := table.SubByRange(trainEnd, testEnd)
	log.Info().
		Int("train_rows", train.Len()).
		Int("test_rows", test.Len()).
		Int("columns", len(table.Columns())).
		Msg("Loaded traffic data")

	var store *storage.Store
	if c.DataPath != "" {
		store, err = storage.New(c.DataPath)
		if err != nil {
			log.Warn().Err(err).Msg("storage unavailable, evaluations will not be stored")
		} else {
			defer store.Close()
		}
	}

	registry, err := ml.NewRegistry(c.ModelsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open model registry")
	}

	r := runner{
		settings:   c,
		train:      train,
		test:       test,
		trainStart: trainStart,
		trainEnd:   trainEnd,
		testEnd:    testEnd,
		output:     *outputPath,
		importance: *importance,
		store:      store,
		registry:   registry,
	}

	for _, kind := range kinds {
		res, err := r.run(ctx, kind)
		if err != nil {
			log.Fatal().Err(err).Str("kind", string(kind)).Msg("Training run failed")
		}
		if string(kind) == *activate {
			if err := r.activate(res); err != nil {
				log.Error().Err(err).Msg("Failed to activate model")
			}
		}
	}

	log.Info().Str("output", *outputPath).Msg("Training completed successfully")
}

func parseKinds(s string) ([]ml.Kind, error) {
	switch s {
	case "both":
		return []ml.Kind{ml.KindBatch, ml.KindIncremental}, nil
	case string(ml.KindBatch):
		return []ml.Kind{ml.KindBatch}, nil
	case string(ml.KindIncremental):
		return []ml.Kind{ml.KindIncremental}, nil
	}
	return nil, fmt.Errorf("unknown model kind %q", s)
}

type runner struct {
	settings                      cfg.Settings
	train, test                   *dataset.Table
	trainStart, trainEnd, testEnd time.Time
	output                        string
	importance                    bool
	store                         *storage.Store
	registry                      *ml.Registry
}

type result struct {
	version ml.ModelVersion
	// test-window probabilities before any prequential learning
	baseline []float64
}

func (r runner) run(ctx context.Context, kind ml.Kind) (result, error) {
	features, labels, err := r.train.PopLabel(dataset.LabelColumn)
	if err != nil {
		return result{}, err
	}
	testFeatures, testLabels, err := r.test.PopLabel(dataset.LabelColumn)
	if err != nil {
		return result{}, err
	}

	model, err := r.fit(kind, features, labels)
	if err != nil {
		return result{}, err
	}

	// scored before the trend so an incremental model has not yet seen the test rows
	testRows := testFeatures.Rows()
	probs := ml.PredictProba(model, testRows).ProbabilitiesOrNaN()
	dist, err := evaluate.NewProbaDistribution()
	if err != nil {
		return result{}, err
	}
	if err := dist.Add(probs, testLabels); err != nil {
		return result{}, err
	}

	var scores []ml.FeatureScore
	if r.importance {
		scores, err = ml.PermutationImportance(model, testRows, testLabels, r.settings.Training.Importance)
		if err != nil {
			return result{}, fmt.Errorf("feature importance: %w", err)
		}
		log.Info().Strs("top", ml.TopFeatures(scores, 5)).Str("model", model.Name()).Msg("Feature importance")
	}

	ev, err := evaluate.New(model, r.test, dataset.LabelColumn)
	if err != nil {
		return result{}, err
	}
	days, err := ev.Trend(ctx, evaluate.TrendOptions{
		Cut:         r.settings.TrainThreshold,
		Prequential: kind == ml.KindIncremental,
	})
	if err != nil {
		return result{}, fmt.Errorf("trend: %w", err)
	}
	summary := evaluate.Summarize(days)

	runID := uuid.NewString()
	report := &evaluate.Report{
		RunID:      runID,
		Model:      ml.Describe(model),
		Cut:        r.settings.TrainThreshold,
		TrainStart: r.trainStart,
		TrainEnd:   r.trainEnd,
		TestStart:  r.trainEnd,
		TestEnd:    r.testEnd,
		Days:       days,
		Summary:    summary,
		Importance: scores,
		Positive:   dist.Class(1),
		Negative:   dist.Class(0),
	}
	if err := evaluate.NewReporter(report, filepath.Join(r.output, model.Name())).GenerateReport(); err != nil {
		log.Error().Err(err).Msg("Failed to generate reports")
	}

	if r.store != nil {
		if err := r.store.StoreEvaluation(runID, days); err != nil {
			log.Warn().Err(err).Msg("Failed to store evaluation")
		}
	}

	version, err := r.registry.Register(model, ml.ModelMetrics{
		Accuracy:          definedOrZero(summary.Accuracy),
		Recall:            definedOrZero(summary.Recall),
		RecallUncertainty: definedOrZero(summary.RecallUncertainty),
		F1:                definedOrZero(summary.F1),
		TrainingRows:      features.Len(),
		EvaluatedDays:     summary.Days,
	})
	if err != nil {
		return result{}, fmt.Errorf("register model: %w", err)
	}

	log.Info().
		Str("run", runID).
		Str("model", model.Name()).
		Str("version", version.Version).
		Float64("accuracy", float64(summary.Accuracy)).
		Float64("recall", float64(summary.Recall)).
		Float64("f1", float64(summary.F1)).
		Float64("separation", dist.Separation()).
		Msg("Evaluation finished")

	return result{version: version, baseline: probs}, nil
}

// progressStep is the percentage of rows between incremental training progress logs.
const progressStep = 10.0

func (r runner) fit(kind ml.Kind, features *dataset.Table, labels []int) (ml.Model, error) {
	rows := features.Rows()
	start := time.Now()

	switch kind {
	case ml.KindBatch:
		rf := ml.NewRandomForest("random_forest", features.Columns(), r.settings.Training.Forest)
		if err := rf.Fit(rows, labels); err != nil {
			return nil, fmt.Errorf("fit random forest: %w", err)
		}
		log.Info().Dur("took", time.Since(start)).Int("rows", len(rows)).Msg("Fitted random forest")
		return rf, nil

	case ml.KindIncremental:
		hf := ml.NewHoeffdingForest("hoeffding_forest", features.Columns(), r.settings.Training.Hoeffding)
		cursor := dataset.NewCursor(features)
		nextReport := progressStep
		for i := 0; cursor.HasNext(); i++ {
			if err := hf.LearnOne(cursor.Next(), labels[i]); err != nil {
				return nil, fmt.Errorf("learn row %d: %w", i, err)
			}
			if p := cursor.Progress(); p >= nextReport && cursor.HasNext() {
				log.Info().Float64("progress", p).Int64("seen", hf.Seen()).Msg("Training hoeffding forest")
				nextReport += progressStep
			}
		}
		log.Info().Dur("took", time.Since(start)).Int64("seen", hf.Seen()).Msg("Trained hoeffding forest")
		return hf, nil
	}
	return nil, fmt.Errorf("unknown model kind %q", kind)
}

// activate marks the version active and makes its test-window predictions
// the drift baseline for the server.
func (r runner) activate(res result) error {
	if err := r.registry.Activate(res.version.Version); err != nil {
		return err
	}
	// the baseline is written even when this config has drift off, so a
	// server that enables it finds one
	dc := r.settings.DriftConfig()
	dc.Enabled = true
	dd := ml.NewDriftDetector(dc)
	if err := dd.SetBaseline(res.baseline); err != nil {
		return fmt.Errorf("save drift baseline: %w", err)
	}
	log.Info().Str("version", res.version.Version).Str("path", res.version.Path).Msg("Activated model")
	return nil
}

// rollbackModel reactivates the previous version. A server without MODEL_PATH
// picks it up on its next start.
func rollbackModel(registry *ml.Registry) (ml.ModelVersion, error) {
	prev, err := registry.Rollback()
	if err != nil {
		return ml.ModelVersion{}, err
	}
	log.Info().Str("version", prev.Version).Str("path", prev.Path).Msg("Rolled back model")
	return prev, nil
}

func definedOrZero(f evaluate.Float) float64 {
	if f.Defined() {
		return float64(f)
	}
	return 0
}

// exportRows writes the rows archived by the server to a CSV in the training layout.
func exportRows(c cfg.Settings, path, start, end string) error {
	if c.DataPath == "" {
		return errors.New("DATA_PATH is required for export")
	}
	from, to, err := exportRange(start, end)
	if err != nil {
		return err
	}

	store, err := storage.New(c.DataPath)
	if err != nil {
		return err
	}
	defer store.Close()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer f.Close()

	n, err := store.ExportRowsToCSV(f, from, to, dataset.LabelColumn)
	if err != nil {
		return err
	}
	log.Info().Int("rows", n).Str("path", path).Msg("Exported archived rows")
	return nil
}

func exportRange(start, end string) (time.Time, time.Time, error) {
	from := time.Time{}
	to := time.Now().UTC()
	var err error
	if start != "" {
		if from, err = time.Parse(dataset.DateLayout, start); err != nil {
			return from, to, fmt.Errorf("invalid start date: %w", err)
		}
	}
	if end != "" {
		if to, err = time.Parse(dataset.DateLayout, end); err != nil {
			return from, to, fmt.Errorf("invalid end date: %w", err)
		}
	}
	return from, to, nil
}
