package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"
)

// DriftMethod names a test comparing two probability samples.
type DriftMethod string

const (
	KolmogorovSmirnov   DriftMethod = "kolmogorov_smirnov"
	PopulationStability DriftMethod = "population_stability_index"
	MomentShift         DriftMethod = "moment_shift"
)

// DriftConfig configures the prediction drift detector.
type DriftConfig struct {
	Enabled        bool          `yaml:"enabled"`
	WindowSize     int           `yaml:"windowSize"`
	MinSamples     int           `yaml:"minSamples"`
	AlertThreshold float64       `yaml:"alertThreshold"`
	AlertCooldown  time.Duration `yaml:"alertCooldown"`
	Methods        []DriftMethod `yaml:"methods"`
	SavePath       string        `yaml:"savePath"`
}

// DriftAlert is raised when a drift score exceeds the threshold.
type DriftAlert struct {
	Timestamp time.Time   `json:"timestamp"`
	Method    DriftMethod `json:"method"`
	Score     float64     `json:"score"`
	Threshold float64     `json:"threshold"`
	Severity  string      `json:"severity"`
}

// DriftStatus is a point-in-time view of the detector.
type DriftStatus struct {
	Enabled  bool                    `json:"enabled"`
	Baseline int                     `json:"baseline_samples"`
	Current  int                     `json:"current_samples"`
	Scores   map[DriftMethod]float64 `json:"scores"`
}

// DriftDetector compares the distribution of served probabilities against a
// baseline captured at training time.
type DriftDetector struct {
	mu        sync.RWMutex
	cfg       DriftConfig
	baseline  []float64
	current   []float64
	lastAlert time.Time
	alerts    []DriftAlert
}

// NewDriftDetector creates a detector and loads a saved baseline if present.
func NewDriftDetector(cfg DriftConfig) *DriftDetector {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 1000
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 30
	}
	if cfg.AlertThreshold <= 0 {
		cfg.AlertThreshold = 0.1
	}
	if cfg.AlertCooldown == 0 {
		cfg.AlertCooldown = time.Hour
	}
	if len(cfg.Methods) == 0 {
		cfg.Methods = []DriftMethod{PopulationStability, KolmogorovSmirnov}
	}

	dd := &DriftDetector{cfg: cfg}
	if cfg.SavePath != "" {
		if err := dd.LoadBaseline(); err != nil {
			log.Warn().Err(err).Msg("Failed to load drift baseline")
		}
	}
	return dd
}

// IsEnabled reports whether the detector records anything.
func (dd *DriftDetector) IsEnabled() bool { return dd.cfg.Enabled }

// SetBaseline replaces the baseline sample and persists it when configured.
func (dd *DriftDetector) SetBaseline(probs []float64) error {
	if !dd.cfg.Enabled {
		return nil
	}
	dd.mu.Lock()
	dd.baseline = finite(probs, dd.cfg.WindowSize)
	dd.mu.Unlock()

	return dd.SaveBaseline()
}

// Observe adds served probabilities to the current sliding window.
func (dd *DriftDetector) Observe(probs ...float64) {
	if !dd.cfg.Enabled {
		return
	}
	dd.mu.Lock()
	defer dd.mu.Unlock()

	for _, p := range probs {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			continue
		}
		dd.current = append(dd.current, p)
	}
	if over := len(dd.current) - dd.cfg.WindowSize; over > 0 {
		dd.current = append(dd.current[:0:0], dd.current[over:]...)
	}
}

// Status returns the current drift scores.
func (dd *DriftDetector) Status() DriftStatus {
	dd.mu.RLock()
	defer dd.mu.RUnlock()

	st := DriftStatus{
		Enabled:  dd.cfg.Enabled,
		Baseline: len(dd.baseline),
		Current:  len(dd.current),
		Scores:   make(map[DriftMethod]float64),
	}
	if !dd.ready() {
		return st
	}
	for _, m := range dd.cfg.Methods {
		st.Scores[m] = dd.score(m)
	}
	return st
}

// Check returns alerts for methods whose score exceeds the threshold,
// at most once per cooldown.
func (dd *DriftDetector) Check() []DriftAlert {
	if !dd.cfg.Enabled {
		return nil
	}
	dd.mu.Lock()
	defer dd.mu.Unlock()

	if !dd.ready() || time.Since(dd.lastAlert) < dd.cfg.AlertCooldown {
		return nil
	}

	var alerts []DriftAlert
	for _, m := range dd.cfg.Methods {
		s := dd.score(m)
		if s <= dd.cfg.AlertThreshold {
			continue
		}
		severity := "medium"
		if s > dd.cfg.AlertThreshold*2 {
			severity = "high"
		}
		if s > dd.cfg.AlertThreshold*3 {
			severity = "critical"
		}
		alerts = append(alerts, DriftAlert{
			Timestamp: time.Now(),
			Method:    m,
			Score:     s,
			Threshold: dd.cfg.AlertThreshold,
			Severity:  severity,
		})
	}
	if len(alerts) > 0 {
		dd.lastAlert = time.Now()
		dd.alerts = alerts
	}
	return alerts
}

// LastAlerts returns the alerts of the most recent Check that raised any.
func (dd *DriftDetector) LastAlerts() []DriftAlert {
	dd.mu.RLock()
	defer dd.mu.RUnlock()
	out := make([]DriftAlert, len(dd.alerts))
	copy(out, dd.alerts)
	return out
}

// Reset clears the current window, keeping the baseline.
func (dd *DriftDetector) Reset() {
	dd.mu.Lock()
	defer dd.mu.Unlock()
	dd.current = nil
}

func (dd *DriftDetector) ready() bool {
	return len(dd.baseline) >= dd.cfg.MinSamples && len(dd.current) >= dd.cfg.MinSamples
}

func (dd *DriftDetector) score(m DriftMethod) float64 {
	switch m {
	case KolmogorovSmirnov:
		return ksStatistic(dd.baseline, dd.current)
	case PopulationStability:
		return psi(dd.baseline, dd.current, 10)
	case MomentShift:
		bm, bs := stat.MeanStdDev(dd.baseline, nil)
		cm, cs := stat.MeanStdDev(dd.current, nil)
		return (math.Abs(bm-cm)/(1+math.Abs(bm)) + math.Abs(bs-cs)/(1+bs)) / 2
	default:
		return 0
	}
}

// ksStatistic is the two-sample Kolmogorov-Smirnov distance.
func ksStatistic(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	x := append([]float64(nil), a...)
	y := append([]float64(nil), b...)
	sort.Float64s(x)
	sort.Float64s(y)

	var i, j int
	maxDiff := 0.0
	for i < len(x) && j < len(y) {
		v := math.Min(x[i], y[j])
		for i < len(x) && x[i] <= v {
			i++
		}
		for j < len(y) && y[j] <= v {
			j++
		}
		d := math.Abs(float64(i)/float64(len(x)) - float64(j)/float64(len(y)))
		maxDiff = math.Max(maxDiff, d)
	}
	return maxDiff
}

// psi bins both samples over [0,1]; empty bins are smoothed.
func psi(baseline, current []float64, bins int) float64 {
	hb := histogram(baseline, bins)
	hc := histogram(current, bins)
	const eps = 1e-4

	total := 0.0
	for i := 0; i < bins; i++ {
		pb := math.Max(hb[i]/float64(len(baseline)), eps)
		pc := math.Max(hc[i]/float64(len(current)), eps)
		total += (pc - pb) * math.Log(pc/pb)
	}
	return total
}

func histogram(v []float64, bins int) []float64 {
	h := make([]float64, bins)
	for _, x := range v {
		b := int(x * float64(bins))
		if b >= bins {
			b = bins - 1
		}
		if b < 0 {
			b = 0
		}
		h[b]++
	}
	return h
}

func finite(v []float64, limit int) []float64 {
	out := make([]float64, 0, len(v))
	for _, x := range v {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			out = append(out, x)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// SaveBaseline writes the baseline sample to SavePath.
func (dd *DriftDetector) SaveBaseline() error {
	if dd.cfg.SavePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dd.cfg.SavePath), 0o755); err != nil {
		return err
	}

	dd.mu.RLock()
	data, err := json.Marshal(dd.baseline)
	dd.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal drift baseline: %w", err)
	}
	return os.WriteFile(dd.cfg.SavePath, data, 0o600)
}

// LoadBaseline reads the baseline sample from SavePath. A missing file is not an error.
func (dd *DriftDetector) LoadBaseline() error {
	if dd.cfg.SavePath == "" {
		return nil
	}
	data, err := os.ReadFile(dd.cfg.SavePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var baseline []float64
	if err := json.Unmarshal(data, &baseline); err != nil {
		return err
	}
	dd.mu.Lock()
	dd.baseline = baseline
	dd.mu.Unlock()
	return nil
}
