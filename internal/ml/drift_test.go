package ml

import (
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniformProbs(n int, lo, hi float64, seed uint64) []float64 {
	rng := rand.New(rand.NewPCG(seed, 2))
	out := make([]float64, n)
	for i := range out {
		out[i] = lo + rng.Float64()*(hi-lo)
	}
	return out
}

func TestDriftDetector_NoDriftOnSameDistribution(t *testing.T) {
	dd := NewDriftDetector(DriftConfig{Enabled: true, WindowSize: 500, AlertThreshold: 0.2})
	require.NoError(t, dd.SetBaseline(uniformProbs(500, 0, 1, 1)))
	dd.Observe(uniformProbs(500, 0, 1, 2)...)

	st := dd.Status()
	assert.Equal(t, 500, st.Baseline)
	assert.Equal(t, 500, st.Current)
	assert.Less(t, st.Scores[PopulationStability], 0.1)
	assert.Less(t, st.Scores[KolmogorovSmirnov], 0.15)
	assert.Empty(t, dd.Check())
}

func TestDriftDetector_AlertsOnShift(t *testing.T) {
	dd := NewDriftDetector(DriftConfig{
		Enabled:        true,
		WindowSize:     400,
		AlertThreshold: 0.2,
		Methods:        []DriftMethod{PopulationStability, KolmogorovSmirnov, MomentShift},
	})
	require.NoError(t, dd.SetBaseline(uniformProbs(400, 0, 0.3, 1)))
	dd.Observe(uniformProbs(400, 0.6, 1, 2)...)
	assert.Empty(t, dd.LastAlerts())

	alerts := dd.Check()
	require.NotEmpty(t, alerts)
	methods := make(map[DriftMethod]string)
	for _, a := range alerts {
		methods[a.Method] = a.Severity
	}
	assert.Equal(t, "critical", methods[PopulationStability])
	assert.Contains(t, methods, KolmogorovSmirnov)

	// cooldown
	assert.Empty(t, dd.Check())
	assert.Equal(t, alerts, dd.LastAlerts())

	dd.Reset()
	assert.Equal(t, 0, dd.Status().Current)
}

func TestDriftDetector_WindowAndDisabled(t *testing.T) {
	dd := NewDriftDetector(DriftConfig{Enabled: true, WindowSize: 50})
	dd.Observe(uniformProbs(120, 0, 1, 3)...)
	assert.Equal(t, 50, dd.Status().Current)

	off := NewDriftDetector(DriftConfig{})
	off.Observe(0.1, 0.2)
	assert.False(t, off.IsEnabled())
	assert.Equal(t, 0, off.Status().Current)
	assert.Nil(t, off.Check())
}

func TestDriftDetector_BaselinePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drift", "baseline.json")
	dd := NewDriftDetector(DriftConfig{Enabled: true, SavePath: path})
	require.NoError(t, dd.SetBaseline([]float64{0.1, 0.2, 0.3}))

	reloaded := NewDriftDetector(DriftConfig{Enabled: true, SavePath: path})
	assert.Equal(t, 3, reloaded.Status().Baseline)
}

func TestKSStatistic(t *testing.T) {
	assert.Equal(t, 0.0, ksStatistic([]float64{0.1, 0.2}, []float64{0.1, 0.2}))
	assert.Equal(t, 1.0, ksStatistic([]float64{0.1, 0.2}, []float64{0.8, 0.9}))
	assert.Equal(t, 0.0, ksStatistic(nil, []float64{0.5}))
}
