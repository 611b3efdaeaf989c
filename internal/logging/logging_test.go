package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_TeesToFile(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "jamserve.log")

	closer := Setup(Options{Level: "debug", File: path, Stderr: &buf})
	log.Debug().Str("route", "/model/").Msg("model loaded")
	require.NoError(t, closer.Close())

	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
	assert.Contains(t, buf.String(), `"route":"/model/"`)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"model loaded"`)
}

func TestSetup_UnknownLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)
	var buf bytes.Buffer

	closer := Setup(Options{Level: "loud", Stderr: &buf})
	defer closer.Close()

	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
	assert.Contains(t, buf.String(), "unknown log level")

	buf.Reset()
	log.Debug().Msg("hidden")
	assert.Empty(t, buf.String())
}
