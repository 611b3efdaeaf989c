package cfg

import (
	"path/filepath"
	"time"

	"jamwatch/internal/common"
	"jamwatch/internal/dataset"
	"jamwatch/internal/ml"
)

// Settings is the resolved configuration shared by the commands.
type Settings struct {
	APIPort       int
	DashboardPort int

	ModelPath   string // model loaded at startup; empty starts unloaded
	ModelsDir   string // registry directory
	DataPath    string // bbolt directory; empty disables storage
	TrafficDir  string // monthly CSV files
	LabelColumn string // label column of validation payloads
	WatchModel  bool

	ProbThreshold  float64 // serving default
	TrainThreshold float64 // training trend cut

	RedisURL     string
	RedisChannel string

	LogLevel string
	LogFile  string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	BatchAccuracy float64
	BatchF1       float64

	DriftEnabled   bool
	DriftWindow    int
	DriftThreshold float64

	Training TrainingConfig
}

// TrainingConfig holds the model hyperparameters and evaluation windows.
type TrainingConfig struct {
	TrainStart string               `yaml:"trainStart"`
	TrainEnd   string               `yaml:"trainEnd"`
	TestEnd    string               `yaml:"testEnd"`
	Forest     ml.ForestConfig      `yaml:"forest"`
	Hoeffding  ml.HoeffdingConfig   `yaml:"hoeffding"`
	Importance ml.PermutationConfig `yaml:"-"`
}

// DefaultTraining mirrors the production training run.
func DefaultTraining() TrainingConfig {
	hoeffding := ml.DefaultHoeffdingConfig()
	hoeffding.GracePeriod = 2000
	return TrainingConfig{
		TrainStart: "2020-10-01",
		TrainEnd:   "2020-11-01",
		TestEnd:    "2021-08-01",
		Forest:     ml.DefaultForestConfig(),
		Hoeffding:  hoeffding,
		Importance: ml.PermutationConfig{Repeats: 3, Threshold: common.DefaultTrainThreshold, Seed: 42},
	}
}

// DriftConfig builds the detector configuration. The baseline is kept next
// to the registry.
func (s Settings) DriftConfig() ml.DriftConfig {
	cfg := ml.DriftConfig{
		Enabled:        s.DriftEnabled,
		WindowSize:     s.DriftWindow,
		AlertThreshold: s.DriftThreshold,
	}
	if s.ModelsDir != "" {
		cfg.SavePath = filepath.Join(s.ModelsDir, common.DriftBaselineFile)
	}
	return cfg
}

// TrainWindow parses the window bounds. The test window starts at trainEnd.
func (t TrainingConfig) TrainWindow() (trainStart, trainEnd, testEnd time.Time, err error) {
	if trainStart, err = time.Parse(dataset.DateLayout, t.TrainStart); err != nil {
		return
	}
	if trainEnd, err = time.Parse(dataset.DateLayout, t.TrainEnd); err != nil {
		return
	}
	testEnd, err = time.Parse(dataset.DateLayout, t.TestEnd)
	return
}
