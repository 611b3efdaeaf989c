package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrVersionNotFound is returned for an unknown registry version.
var ErrVersionNotFound = errors.New("model version not found")

// ModelVersion is one registered model file.
type ModelVersion struct {
	Version   string       `json:"version"`
	Path      string       `json:"path"`
	Kind      Kind         `json:"kind"`
	Name      string       `json:"name"`
	CreatedAt time.Time    `json:"created_at"`
	Metrics   ModelMetrics `json:"metrics"`
	IsActive  bool         `json:"is_active"`
}

// ModelMetrics are the evaluation figures recorded with a version.
type ModelMetrics struct {
	Accuracy          float64 `json:"accuracy"`
	Recall            float64 `json:"recall"`
	RecallUncertainty float64 `json:"recall_uncertainty"`
	F1                float64 `json:"f1"`
	TrainingRows      int     `json:"training_rows"`
	EvaluatedDays     int     `json:"evaluated_days"`
}

// Registry keeps versioned model files in a directory, newest first.
type Registry struct {
	mu           sync.Mutex
	modelsDir    string
	versionsFile string
	versions     []ModelVersion
}

// NewRegistry opens the registry in modelsDir, reading model_versions.json if present.
func NewRegistry(modelsDir string) (*Registry, error) {
	if err := os.MkdirAll(modelsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create models dir: %w", err)
	}

	r := &Registry{
		modelsDir:    modelsDir,
		versionsFile: filepath.Join(modelsDir, "model_versions.json"),
	}
	if err := r.loadVersions(); err != nil {
		log.Warn().Err(err).Msg("Failed to load model versions, starting fresh")
		r.versions = nil
	}
	return r, nil
}

// Register saves m into the models dir and records it as the newest version.
// The version is not activated.
func (r *Registry) Register(m Model, metrics ModelMetrics) (ModelVersion, error) {
	now := time.Now().UTC()
	version := now.Format("20060102-150405") + "-" + uuid.NewString()[:8]
	path := filepath.Join(r.modelsDir, fmt.Sprintf("%s_%s.json.zst", m.Name(), version))

	if err := Save(path, m); err != nil {
		return ModelVersion{}, err
	}

	v := ModelVersion{
		Version:   version,
		Path:      path,
		Kind:      m.Kind(),
		Name:      m.Name(),
		CreatedAt: now,
		Metrics:   metrics,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions = append([]ModelVersion{v}, r.versions...)
	if err := r.saveVersions(); err != nil {
		return ModelVersion{}, err
	}

	log.Info().
		Str("version", version).
		Str("path", path).
		Str("kind", string(v.Kind)).
		Msg("Registered model version")
	return v, nil
}

// Activate marks version as the active model.
func (r *Registry) Activate(version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activate(version)
}

func (r *Registry) activate(version string) error {
	found := false
	for i := range r.versions {
		r.versions[i].IsActive = r.versions[i].Version == version
		found = found || r.versions[i].IsActive
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrVersionNotFound, version)
	}
	return r.saveVersions()
}

// Rollback activates the version registered before the active one.
func (r *Registry) Rollback() (ModelVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := -1
	for i, v := range r.versions {
		if v.IsActive {
			current = i
			break
		}
	}
	if current == -1 {
		return ModelVersion{}, fmt.Errorf("no active version found")
	}
	if current+1 >= len(r.versions) {
		return ModelVersion{}, fmt.Errorf("no previous version available for rollback")
	}

	prev := r.versions[current+1]
	if err := r.activate(prev.Version); err != nil {
		return ModelVersion{}, err
	}
	prev.IsActive = true
	return prev, nil
}

// Current returns the active version, if any.
func (r *Registry) Current() (ModelVersion, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.versions {
		if v.IsActive {
			return v, true
		}
	}
	return ModelVersion{}, false
}

// List returns a copy of all versions, newest first.
func (r *Registry) List() []ModelVersion {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ModelVersion, len(r.versions))
	copy(out, r.versions)
	return out
}

func (r *Registry) loadVersions() error {
	data, err := os.ReadFile(r.versionsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, &r.versions)
}

func (r *Registry) saveVersions() error {
	data, err := json.MarshalIndent(r.versions, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.versionsFile, data, 0o600)
}
