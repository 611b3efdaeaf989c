package common

// Environment variable keys
const (
	EnvConfigFile     = "CONFIG_FILE"
	EnvAPIPort        = "API_PORT"
	EnvDashboardPort  = "DASHBOARD_PORT"
	EnvModelPath      = "MODEL_PATH"
	EnvModelsDir      = "MODELS_DIR"
	EnvDataPath       = "DATA_PATH"
	EnvTrafficDir     = "TRAFFIC_DIR"
	EnvLabelColumn    = "LABEL_COLUMN"
	EnvWatchModel     = "WATCH_MODEL"
	EnvProbThreshold  = "PROB_THRESHOLD"
	EnvTrainThreshold = "TRAIN_THRESHOLD"
	EnvRedisURL       = "REDIS_URL"
	EnvRedisChannel   = "REDIS_CHANNEL"
	EnvLogLevel       = "LOG_LEVEL"
	EnvLogFile        = "LOG_FILE"
	EnvReadTimeout    = "READ_TIMEOUT"
	EnvWriteTimeout   = "WRITE_TIMEOUT"
	EnvBatchAccuracy  = "BATCH_ACCURACY"
	EnvBatchF1        = "BATCH_F1"
	EnvDriftEnabled   = "DRIFT_ENABLED"
	EnvDriftWindow    = "DRIFT_WINDOW"
	EnvDriftThreshold = "DRIFT_THRESHOLD"
)

// Configuration defaults
const (
	DefaultAPIPort        = 5000
	DefaultDashboardPort  = 8050
	DefaultModelsDir      = "models"
	DefaultTrafficDir     = "data/traffic"
	DefaultLabelColumn    = "Y"
	DefaultProbThreshold  = 0.5
	DefaultTrainThreshold = 0.4
	DefaultRedisChannel   = "jamwatch:samples"
	DefaultLogLevel       = "info"
	DefaultDriftWindow    = 1000
	DefaultDriftThreshold = 0.1

	DriftBaselineFile = "drift_baseline.json"
)

// Common error messages
const (
	ErrMsgModelsDirRequired = "models directory is required"
	ErrMsgLabelRequired     = "label column is required"
)

// Validation constants
const (
	MinPort        = 1024
	MaxPort        = 65535
	MinDriftWindow = 30
	MaxDriftWindow = 1_000_000
)
