package dashboard

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jamwatch/internal/dataset"
	"jamwatch/internal/evaluate"
	"jamwatch/internal/ml"
	"jamwatch/internal/serving"
)

type staticModel struct {
	m ml.Model
}

func (s staticModel) Model() (ml.Model, bool) { return s.m, s.m != nil }

func fittedForest(t *testing.T) *ml.RandomForest {
	t.Helper()
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]dataset.Row, 200)
	labels := make([]int, 200)
	for i := range rows {
		occ := float64(i%100) / 100
		rows[i] = dataset.Row{Time: start.Add(time.Duration(i) * 5 * time.Minute), Values: map[string]float64{"Occupancy": occ}}
		if occ > 0.5 {
			labels[i] = 1
		}
	}
	f := ml.NewRandomForest("rf", []string{"Occupancy"}, ml.ForestConfig{NTrees: 2, MaxDepth: 3, Seed: 1})
	require.NoError(t, f.Fit(rows, labels))
	return f
}

func newDashboard(t *testing.T, model ml.Model) (*Dashboard, *serving.History, *httptest.Server) {
	t.Helper()
	h := serving.NewHistory()
	dist, err := NewDistribution()
	require.NoError(t, err)

	d := New(Sources{History: h, Model: staticModel{model}, Distribution: dist}, Config{
		BatchAccuracy: 0.91,
		Interval:      20 * time.Millisecond,
	})
	srv := httptest.NewServer(d.Handler())
	t.Cleanup(func() {
		srv.Close()
		d.stopOnce.Do(func() { close(d.stopChannel) })
	})
	return d, h, srv
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestDashboard_Page(t *testing.T) {
	_, _, srv := newDashboard(t, nil)

	resp, body := get(t, srv.URL+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Traffic Jam Model Monitor")
	assert.Regexp(t, `const batchAccuracy =\s*0\.91\s*;`, body)
	assert.Regexp(t, `const batchF1 =\s*0\s*;`, body)
}

func TestDashboard_History(t *testing.T) {
	_, h, srv := newDashboard(t, nil)
	h.Append(evaluate.Sample{Period: "2023-03-01", Accuracy: 0.9})

	resp, body := get(t, srv.URL+"/api/history")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []evaluate.Sample
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "2023-03-01", got[0].Period)
}

func TestDashboard_WebSocketStreamsNewSamples(t *testing.T) {
	d, h, srv := newDashboard(t, nil)
	h.Append(evaluate.Sample{Period: "2023-03-01"})

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	var first Update
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, 1, first.Total)
	require.Len(t, first.Samples, 1)

	d.startLoops()
	h.Append(evaluate.Sample{Period: "2023-03-02"})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var u Update
		require.NoError(t, conn.ReadJSON(&u))
		if u.Total == 2 && len(u.Samples) > 0 {
			assert.Equal(t, "2023-03-02", u.Samples[len(u.Samples)-1].Period)
			return
		}
	}
}

func TestDashboard_Structure(t *testing.T) {
	_, _, empty := newDashboard(t, nil)
	resp, _ := get(t, empty.URL+"/structure")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	d, _, srv := newDashboard(t, fittedForest(t))
	resp, body := get(t, srv.URL+"/structure?tree=1&depth=2")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "image/svg+xml", resp.Header.Get("Content-Type"))
	assert.Contains(t, body, "<svg")
	assert.Equal(t, 1, d.svgCache.ItemCount())

	resp, _ = get(t, srv.URL+"/structure?tree=1&depth=2")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, d.svgCache.ItemCount())

	resp, _ = get(t, srv.URL+"/structure?tree=9")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = get(t, srv.URL+"/structure?depth=-1")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDashboard_Distribution(t *testing.T) {
	d, _, srv := newDashboard(t, nil)
	d.src.Distribution.ObserveValidation([]float64{0.9, 0.8, 0.1, 0.2}, []int{1, 1, 0, 0})

	resp, body := get(t, srv.URL+"/distribution")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Positive   evaluate.ClassDistribution `json:"positive"`
		Negative   evaluate.ClassDistribution `json:"negative"`
		Separation *float64                   `json:"separation"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.Equal(t, uint64(2), got.Positive.Count)
	assert.Equal(t, uint64(2), got.Negative.Count)
	require.NotNil(t, got.Separation)
	assert.Greater(t, *got.Separation, 0.5)
}
