package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jamwatch/internal/dataset"
	"jamwatch/internal/ml"
	"jamwatch/internal/serving"
)

// echoModel predicts the value of the "x" feature.
type echoModel struct{}

func (echoModel) Kind() ml.Kind      { return ml.KindBatch }
func (echoModel) Name() string       { return "echo" }
func (echoModel) Features() []string { return []string{"x"} }

func (echoModel) PredictProbaOne(row dataset.Row) (float64, error) {
	v, ok := row.Get("x")
	if !ok {
		return 0, ml.ErrMissingFeature
	}
	return v, nil
}

func newServer(t *testing.T) (*httptest.Server, *serving.Service) {
	t.Helper()
	svc := serving.NewService(serving.Options{
		Loader: func(path string) (ml.Model, error) {
			if path != "echo" {
				return nil, errors.New("not found")
			}
			return echoModel{}, nil
		},
	})
	srv := httptest.NewServer(serving.NewServer(svc, serving.ServerConfig{Threshold: 0.5}).Handler())
	t.Cleanup(srv.Close)
	return srv, svc
}

func labelled(labels ...int) *dataset.Table {
	start := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]dataset.Row, len(labels))
	for i, y := range labels {
		x := 0.2
		if y == 1 {
			x = 0.8
		}
		rows[i] = dataset.Row{
			Time:   start.Add(time.Duration(i) * 5 * time.Minute),
			Values: map[string]float64{"x": x, "Y": float64(y)},
		}
	}
	return dataset.NewTable([]string{"x", "Y"}, rows)
}

func TestClient_RoundTrip(t *testing.T) {
	srv, svc := newServer(t)
	c := New(srv.URL, 5*time.Second, 0)
	ctx := context.Background()

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "unloaded", h.State)

	_, err = c.Validate(ctx, labelled(1, 0), 0.5)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, serving.ErrNotReady.Error(), apiErr.Message)

	require.Error(t, c.LoadModel(ctx, "missing"))
	require.NoError(t, c.LoadModel(ctx, "echo"))

	probs, err := c.Infer(ctx, labelled(1, 0).Drop("Y"), 0.5)
	require.NoError(t, err)
	require.Len(t, probs, 2)
	assert.InDelta(t, 0.8, *probs[0], 1e-12)

	v, err := c.Validate(ctx, labelled(1, 1, 0, 0, 1, 0, 1, 0, 1, 0), 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, float64(v.Accuracy), 1e-12)
	assert.InDelta(t, 1.0, float64(v.Recall), 1e-12)
	assert.InDelta(t, 1.0, float64(v.F1), 1e-12)

	samples, err := c.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 1, svc.History().Len())

	_, err = c.Learn(ctx, labelled(1))
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Message, "incrementally")
}

func TestClient_SendsRequestID(t *testing.T) {
	ids := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids <- r.Header.Get("X-Request-ID")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, 0)
	_, err := c.History(context.Background(), 0)
	require.NoError(t, err)
	_, err = c.History(context.Background(), 0)
	require.NoError(t, err)

	first, second := <-ids, <-ids
	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	srv, _ := newServer(t)
	c := New(srv.URL, time.Second, 0.001)

	_, err := c.Health(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Health(ctx)
	assert.Error(t, err)
}
