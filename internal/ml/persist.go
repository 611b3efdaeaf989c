package ml

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

// FormatVersion is written into every saved model.
const FormatVersion = 1

type envelope struct {
	Format    int             `json:"format"`
	Kind      Kind            `json:"kind"`
	Name      string          `json:"name"`
	Features  []string        `json:"features"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

type forestPayload struct {
	Config     ForestConfig `json:"config"`
	Trees      []Tree       `json:"trees"`
	Importance []float64    `json:"importance"`
}

type hoeffdingPayload struct {
	Config HoeffdingConfig `json:"config"`
	Trees  []HTree         `json:"trees"`
	Seen   int64           `json:"seen"`
}

func compressed(path string) bool {
	return strings.HasSuffix(path, ".zst")
}

// Save writes the model to path. The file is written beside the target and
// renamed into place so readers never see a partial model. Paths ending in
// .zst are zstd-compressed.
func Save(path string, m Model) error {
	env := envelope{
		Format:    FormatVersion,
		Kind:      m.Kind(),
		Name:      m.Name(),
		Features:  m.Features(),
		CreatedAt: time.Now().UTC(),
	}

	var payload any
	switch mm := m.(type) {
	case *RandomForest:
		payload = forestPayload{Config: mm.config, Trees: mm.trees, Importance: mm.importance}
	case *HoeffdingForest:
		mm.mu.RLock()
		defer mm.mu.RUnlock()
		payload = hoeffdingPayload{Config: mm.config, Trees: mm.trees, Seen: mm.seen}
	default:
		return fmt.Errorf("cannot save model of type %T", m)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal model payload: %w", err)
	}
	env.Payload = raw

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create model directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".model-*")
	if err != nil {
		return fmt.Errorf("create temp model file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := writeEnvelope(tmp, env, compressed(path)); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp model file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename model file: %w", err)
	}
	return nil
}

func writeEnvelope(w io.Writer, env envelope, zst bool) error {
	if !zst {
		return json.NewEncoder(w).Encode(env)
	}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	if err := json.NewEncoder(enc).Encode(env); err != nil {
		enc.Close()
		return fmt.Errorf("encode model: %w", err)
	}
	return enc.Close()
}

// Load reads a model written by Save.
func Load(path string) (Model, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model: %w", err)
	}
	defer file.Close()

	var r io.Reader = file
	if compressed(path) {
		dec, err := zstd.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("create zstd reader: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	var env envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode model %s: %w", path, err)
	}
	if env.Format != FormatVersion {
		return nil, fmt.Errorf("unsupported model format %d", env.Format)
	}

	switch env.Kind {
	case KindBatch:
		var p forestPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode forest: %w", err)
		}
		if len(p.Trees) == 0 {
			return nil, fmt.Errorf("decode forest: %w", ErrNotFitted)
		}
		f := NewRandomForest(env.Name, env.Features, p.Config)
		f.trees = p.Trees
		f.importance = p.Importance
		return f, nil

	case KindIncremental:
		var p hoeffdingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode hoeffding forest: %w", err)
		}
		f := NewHoeffdingForest(env.Name, env.Features, p.Config)
		if len(p.Trees) > 0 {
			f.trees = p.Trees
		}
		f.seen = p.Seen
		f.seed(uint64(p.Seen))
		return f, nil

	default:
		return nil, fmt.Errorf("unknown model kind %q", env.Kind)
	}
}
