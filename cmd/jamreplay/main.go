package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jamwatch/internal/cfg"
	"jamwatch/internal/client"
	"jamwatch/internal/dataset"
	"jamwatch/internal/evaluate"
	"jamwatch/internal/logging"
	"jamwatch/internal/publish"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"
)

func main() {
	var (
		server    = flag.String("server", "", "Model server base URL (default http://localhost:API_PORT)")
		file      = flag.String("file", "", "Feature CSV to replay (default: month files under TRAFFIC_DIR)")
		startDate = flag.String("start", "", "First day to replay (YYYY-MM-DD, default training end)")
		endDate   = flag.String("end", "", "Replay end day, exclusive (YYYY-MM-DD, default test end)")
		modelPath = flag.String("model", "", "Ask the server to load this model before replaying")
		threshold = flag.Float64("threshold", -1, "Decision threshold (default PROB_THRESHOLD)")
		rps       = flag.Float64("rps", 2, "Maximum requests per second, 0 for unlimited")
		learn     = flag.Bool("learn", false, "Send each validated day to /model/learning/ afterwards")
		follow    = flag.Bool("follow", false, "Print samples published on REDIS_CHANNEL instead of replaying")
	)
	flag.Parse()

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	logging.Setup(logging.Options{Level: c.LogLevel, Console: true})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *follow {
		if err := followSamples(ctx, c); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatal().Err(err).Msg("follow failed")
		}
		return
	}

	if *server == "" {
		*server = fmt.Sprintf("http://localhost:%d", c.APIPort)
	}
	if *threshold < 0 {
		*threshold = c.ProbThreshold
	}

	start, end, err := replayWindow(c, *startDate, *endDate)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid replay window")
	}
	table, err := loadTable(c, *file, start, end)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load replay data")
	}

	cl := client.New(*server, c.WriteTimeout+5*time.Second, *rps)
	r := replayer{client: cl, label: c.LabelColumn, threshold: *threshold, learn: *learn}

	if *modelPath != "" {
		if err := cl.LoadModel(ctx, *modelPath); err != nil {
			log.Fatal().Err(err).Str("path", *modelPath).Msg("server could not load model")
		}
	}

	h, err := cl.Health(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("server unreachable")
	}
	if h.State != "ready" {
		log.Fatal().Str("state", h.State).Msg("server has no model loaded")
	}

	sum, err := r.run(ctx, table)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("replay stopped")
	}
	log.Info().
		Int("days", sum.Days).
		Int("failed_days", sum.FailedDays).
		Float64("mean_accuracy", float64(sum.Accuracy)).
		Float64("mean_f1", float64(sum.F1)).
		Msg("Replay finished")
}

func replayWindow(c cfg.Settings, start, end string) (time.Time, time.Time, error) {
	_, trainEnd, testEnd, err := c.Training.TrainWindow()
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if start != "" {
		if trainEnd, err = time.Parse(dataset.DateLayout, start); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start date: %w", err)
		}
	}
	if end != "" {
		if testEnd, err = time.Parse(dataset.DateLayout, end); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end date: %w", err)
		}
	}
	if !trainEnd.Before(testEnd) {
		return time.Time{}, time.Time{}, fmt.Errorf("start %s is not before end %s", trainEnd.Format(dataset.DateLayout), testEnd.Format(dataset.DateLayout))
	}
	return trainEnd, testEnd, nil
}

// loadTable reads the replay rows and names the label the way the server expects it.
func loadTable(c cfg.Settings, file string, start, end time.Time) (*dataset.Table, error) {
	var (
		table *dataset.Table
		err   error
	)
	if file != "" {
		table, err = dataset.Load(file)
		if err == nil {
			table = table.SubByRange(start, end)
		}
	} else {
		table, err = dataset.LoadMonths(c.TrafficDir, start, end)
	}
	if err != nil {
		return nil, err
	}
	return table.Drop(dataset.DefaultDropColumns...).Rename(dataset.LabelColumn, c.LabelColumn), nil
}

type validator interface {
	Validate(ctx context.Context, table *dataset.Table, threshold float64) (client.Validation, error)
	Learn(ctx context.Context, table *dataset.Table) (int, error)
}

type replayer struct {
	client    validator
	label     string
	threshold float64
	learn     bool
}

type replaySummary struct {
	Days       int
	FailedDays int
	Accuracy   evaluate.Float
	F1         evaluate.Float
}

// run validates the table one day at a time, in order.
func (r replayer) run(ctx context.Context, table *dataset.Table) (replaySummary, error) {
	var sum replaySummary
	var acc, f1 []float64

	for _, day := range table.Dates() {
		if err := ctx.Err(); err != nil {
			return r.finish(sum, acc, f1), err
		}
		subset := table.SubByDate(day)
		v, err := r.client.Validate(ctx, subset, r.threshold)
		if err != nil {
			if ctx.Err() != nil {
				return r.finish(sum, acc, f1), ctx.Err()
			}
			sum.FailedDays++
			log.Warn().Err(err).Str("date", day.Format(dataset.DateLayout)).Msg("validation failed")
			continue
		}
		sum.Days++
		if v.Accuracy.Defined() {
			acc = append(acc, float64(v.Accuracy))
		}
		if v.F1.Defined() {
			f1 = append(f1, float64(v.F1))
		}

		log.Info().
			Str("date", day.Format(dataset.DateLayout)).
			Int("rows", subset.Len()).
			Float64("accuracy", float64(v.Accuracy)).
			Float64("recall", float64(v.Recall)).
			Float64("f1", float64(v.F1)).
			Msg("Validated day")

		if r.learn {
			n, err := r.client.Learn(ctx, subset)
			if err != nil {
				log.Warn().Err(err).Str("date", day.Format(dataset.DateLayout)).Msg("learning failed")
				continue
			}
			log.Debug().Int("learned", n).Msg("Learned day")
		}
	}
	return r.finish(sum, acc, f1), nil
}

func (replayer) finish(sum replaySummary, acc, f1 []float64) replaySummary {
	sum.Accuracy = mean(acc)
	sum.F1 = mean(f1)
	return sum
}

func mean(v []float64) evaluate.Float {
	if len(v) == 0 {
		return evaluate.Float(math.NaN())
	}
	return evaluate.Float(stat.Mean(v, nil))
}

// followSamples prints every sample the server publishes until ctx ends.
func followSamples(ctx context.Context, c cfg.Settings) error {
	if c.RedisURL == "" {
		return errors.New("REDIS_URL is required to follow samples")
	}
	rc, err := publish.Connect(ctx, c.RedisURL)
	if err != nil {
		return err
	}
	defer rc.Close()

	log.Info().Str("channel", c.RedisChannel).Msg("Following samples")
	return publish.Follow(ctx, rc, c.RedisChannel, func(s evaluate.Sample) {
		log.Info().
			Int("iteration", s.Iteration).
			Str("period", s.Period).
			Str("model", s.Model).
			Float64("accuracy", float64(s.Accuracy)).
			Float64("recall", float64(s.Recall)).
			Float64("f1", float64(s.F1)).
			Int("rows", s.Rows).
			Msg("Sample")
	})
}
