package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"jamwatch/internal/common"
	"jamwatch/internal/dataset"
)

// ConfigFile is the YAML layout read when CONFIG_FILE is set.
type ConfigFile struct {
	Server struct {
		APIPort       int    `yaml:"apiPort"`
		DashboardPort int    `yaml:"dashboardPort"`
		ReadTimeout   string `yaml:"readTimeout"`
		WriteTimeout  string `yaml:"writeTimeout"`
	} `yaml:"server"`

	Model struct {
		Path          string  `yaml:"path"`
		Dir           string  `yaml:"dir"`
		Watch         bool    `yaml:"watch"`
		LabelColumn   string  `yaml:"labelColumn"`
		ProbThreshold float64 `yaml:"probThreshold"`
	} `yaml:"model"`

	Data struct {
		Path       string `yaml:"path"`
		TrafficDir string `yaml:"trafficDir"`
	} `yaml:"data"`

	Redis struct {
		URL     string `yaml:"url"`
		Channel string `yaml:"channel"`
	} `yaml:"redis"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`

	Dashboard struct {
		BatchAccuracy float64 `yaml:"batchAccuracy"`
		BatchF1       float64 `yaml:"batchF1"`
	} `yaml:"dashboard"`

	Drift struct {
		Enabled   bool    `yaml:"enabled"`
		Window    int     `yaml:"window"`
		Threshold float64 `yaml:"threshold"`
	} `yaml:"drift"`

	Training struct {
		TrainingConfig `yaml:",inline"`
		Threshold      float64 `yaml:"threshold"`
	} `yaml:"training"`
}

// Load reads .env if present, then the YAML file named by CONFIG_FILE, or
// the environment alone when it is unset. Environment variables override
// file values.
func Load() (Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Settings{}, fmt.Errorf("failed to read .env: %w", err)
	}

	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	config.Training.TrainingConfig = DefaultTraining()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	readTimeout, err := time.ParseDuration(config.Server.ReadTimeout)
	if err != nil {
		readTimeout = 10 * time.Second
	}
	writeTimeout, err := time.ParseDuration(config.Server.WriteTimeout)
	if err != nil {
		writeTimeout = 10 * time.Second
	}

	settings := Settings{
		APIPort:        getIntFromEnvOrConfig(common.EnvAPIPort, config.Server.APIPort, common.DefaultAPIPort),
		DashboardPort:  getIntFromEnvOrConfig(common.EnvDashboardPort, config.Server.DashboardPort, common.DefaultDashboardPort),
		ModelPath:      getEnvOrDefault(common.EnvModelPath, config.Model.Path),
		ModelsDir:      getEnvOrDefault(common.EnvModelsDir, orDefault(config.Model.Dir, common.DefaultModelsDir)),
		DataPath:       getEnvOrDefault(common.EnvDataPath, config.Data.Path),
		TrafficDir:     getEnvOrDefault(common.EnvTrafficDir, orDefault(config.Data.TrafficDir, common.DefaultTrafficDir)),
		LabelColumn:    getEnvOrDefault(common.EnvLabelColumn, orDefault(config.Model.LabelColumn, common.DefaultLabelColumn)),
		WatchModel:     getBoolFromEnvOrConfig(common.EnvWatchModel, config.Model.Watch),
		ProbThreshold:  getFloatFromEnvOrConfig(common.EnvProbThreshold, config.Model.ProbThreshold, common.DefaultProbThreshold),
		TrainThreshold: getFloatFromEnvOrConfig(common.EnvTrainThreshold, config.Training.Threshold, common.DefaultTrainThreshold),
		RedisURL:       getEnvOrDefault(common.EnvRedisURL, config.Redis.URL),
		RedisChannel:   getEnvOrDefault(common.EnvRedisChannel, orDefault(config.Redis.Channel, common.DefaultRedisChannel)),
		LogLevel:       getEnvOrDefault(common.EnvLogLevel, orDefault(config.Logging.Level, common.DefaultLogLevel)),
		LogFile:        getEnvOrDefault(common.EnvLogFile, config.Logging.File),
		ReadTimeout:    getDurationOrDefault(common.EnvReadTimeout, readTimeout),
		WriteTimeout:   getDurationOrDefault(common.EnvWriteTimeout, writeTimeout),
		BatchAccuracy:  getFloatFromEnvOrConfig(common.EnvBatchAccuracy, config.Dashboard.BatchAccuracy, 0),
		BatchF1:        getFloatFromEnvOrConfig(common.EnvBatchF1, config.Dashboard.BatchF1, 0),
		DriftEnabled:   getBoolFromEnvOrConfig(common.EnvDriftEnabled, config.Drift.Enabled),
		DriftWindow:    getIntFromEnvOrConfig(common.EnvDriftWindow, config.Drift.Window, common.DefaultDriftWindow),
		DriftThreshold: getFloatFromEnvOrConfig(common.EnvDriftThreshold, config.Drift.Threshold, common.DefaultDriftThreshold),
		Training:       config.Training.TrainingConfig,
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		APIPort:        getIntOrDefault(common.EnvAPIPort, common.DefaultAPIPort),
		DashboardPort:  getIntOrDefault(common.EnvDashboardPort, common.DefaultDashboardPort),
		ModelPath:      os.Getenv(common.EnvModelPath), // optional
		ModelsDir:      getEnvOrDefault(common.EnvModelsDir, common.DefaultModelsDir),
		DataPath:       os.Getenv(common.EnvDataPath), // optional
		TrafficDir:     getEnvOrDefault(common.EnvTrafficDir, common.DefaultTrafficDir),
		LabelColumn:    getEnvOrDefault(common.EnvLabelColumn, common.DefaultLabelColumn),
		WatchModel:     getBoolOrDefault(common.EnvWatchModel, false),
		ProbThreshold:  getFloatOrDefault(common.EnvProbThreshold, common.DefaultProbThreshold),
		TrainThreshold: getFloatOrDefault(common.EnvTrainThreshold, common.DefaultTrainThreshold),
		RedisURL:       os.Getenv(common.EnvRedisURL), // optional
		RedisChannel:   getEnvOrDefault(common.EnvRedisChannel, common.DefaultRedisChannel),
		LogLevel:       getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		LogFile:        os.Getenv(common.EnvLogFile),
		ReadTimeout:    getDurationOrDefault(common.EnvReadTimeout, 10*time.Second),
		WriteTimeout:   getDurationOrDefault(common.EnvWriteTimeout, 10*time.Second),
		BatchAccuracy:  getFloatOrDefault(common.EnvBatchAccuracy, 0),
		BatchF1:        getFloatOrDefault(common.EnvBatchF1, 0),
		DriftEnabled:   getBoolOrDefault(common.EnvDriftEnabled, false),
		DriftWindow:    getIntOrDefault(common.EnvDriftWindow, common.DefaultDriftWindow),
		DriftThreshold: getFloatOrDefault(common.EnvDriftThreshold, common.DefaultDriftThreshold),
		Training:       DefaultTraining(),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if configValue != 0 {
		defaultValue = configValue
	}
	return getIntOrDefault(key, defaultValue)
}

func getFloatFromEnvOrConfig(key string, configValue, defaultValue float64) float64 {
	if configValue != 0 {
		defaultValue = configValue
	}
	return getFloatOrDefault(key, defaultValue)
}

func getBoolFromEnvOrConfig(key string, configValue bool) bool {
	return getBoolOrDefault(key, configValue)
}

func validPort(name string, port int) error {
	if port < common.MinPort || port > common.MaxPort {
		return fmt.Errorf("%s must be between %d and %d, got %d", name, common.MinPort, common.MaxPort, port)
	}
	return nil
}

// validateSettings performs range checks on the resolved configuration.
func validateSettings(settings *Settings) error {
	if err := validPort("API port", settings.APIPort); err != nil {
		return err
	}
	if err := validPort("dashboard port", settings.DashboardPort); err != nil {
		return err
	}
	if settings.APIPort == settings.DashboardPort {
		return fmt.Errorf("API and dashboard ports must differ, both are %d", settings.APIPort)
	}

	if settings.ModelsDir == "" {
		return errors.New(common.ErrMsgModelsDirRequired)
	}
	if strings.TrimSpace(settings.LabelColumn) == "" {
		return errors.New(common.ErrMsgLabelRequired)
	}

	if settings.ProbThreshold < 0 || settings.ProbThreshold > 1 {
		return fmt.Errorf("probability threshold must be between 0 and 1, got %f", settings.ProbThreshold)
	}
	if settings.TrainThreshold < 0 || settings.TrainThreshold > 1 {
		return fmt.Errorf("training threshold must be between 0 and 1, got %f", settings.TrainThreshold)
	}
	if settings.BatchAccuracy < 0 || settings.BatchAccuracy > 1 {
		return fmt.Errorf("batch accuracy reference must be between 0 and 1, got %f", settings.BatchAccuracy)
	}
	if settings.BatchF1 < 0 || settings.BatchF1 > 1 {
		return fmt.Errorf("batch F1 reference must be between 0 and 1, got %f", settings.BatchF1)
	}

	if settings.ReadTimeout < time.Second || settings.ReadTimeout > 5*time.Minute {
		return fmt.Errorf("read timeout must be between 1s and 5m, got %v", settings.ReadTimeout)
	}
	if settings.WriteTimeout < time.Second || settings.WriteTimeout > 5*time.Minute {
		return fmt.Errorf("write timeout must be between 1s and 5m, got %v", settings.WriteTimeout)
	}

	if settings.DriftWindow < common.MinDriftWindow || settings.DriftWindow > common.MaxDriftWindow {
		return fmt.Errorf("drift window must be between %d and %d, got %d", common.MinDriftWindow, common.MaxDriftWindow, settings.DriftWindow)
	}
	if settings.DriftThreshold <= 0 || settings.DriftThreshold > 10 {
		return fmt.Errorf("drift threshold must be between 0 and 10, got %f", settings.DriftThreshold)
	}

	if settings.RedisURL != "" && !strings.HasPrefix(settings.RedisURL, "redis://") && !strings.HasPrefix(settings.RedisURL, "rediss://") {
		return fmt.Errorf("redis URL must start with redis:// or rediss://, got %q", settings.RedisURL)
	}

	trainStart, trainEnd, testEnd, err := settings.Training.TrainWindow()
	if err != nil {
		return fmt.Errorf("training window: %w", err)
	}
	if !trainStart.Before(trainEnd) || !trainEnd.Before(testEnd) {
		return fmt.Errorf("training window must satisfy trainStart < trainEnd < testEnd, got %s, %s, %s",
			trainStart.Format(dataset.DateLayout), trainEnd.Format(dataset.DateLayout), testEnd.Format(dataset.DateLayout))
	}
	return nil
}
