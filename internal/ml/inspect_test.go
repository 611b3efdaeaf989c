package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspect_RandomForest(t *testing.T) {
	f := fittedForest(t)

	view, err := Inspect(f, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, "rf", view.Model)
	assert.NotEmpty(t, view.Nodes)
	assert.Equal(t, len(view.Nodes)-1, len(view.Edges), "a tree has one edge per non-root node")
	assert.LessOrEqual(t, len(view.Nodes), 7)

	_, err = Inspect(f, 99, 2)
	assert.Error(t, err)
}

func TestInspect_UnsupportedModel(t *testing.T) {
	_, err := Inspect(&stubModel{}, 0, 1)
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	info := Describe(NewHoeffdingForest("arf", testFeatures, testHoeffdingConfig()))
	assert.Equal(t, KindIncremental, info["kind"])
	assert.Equal(t, 5, info["trees"])

	info = Describe(&stubModel{})
	assert.NotContains(t, info, "trees")
}
