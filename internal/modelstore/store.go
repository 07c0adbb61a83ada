// Package modelstore persists classifier bundles under
// <dir>/<model_name>/<version>/ and keeps a latest.json index per model name.
package modelstore

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/task-extractor/internal/classifier"
	"github.com/xaenox/task-extractor/internal/models"
	"github.com/xaenox/task-extractor/internal/vocab"
)

const (
	LatestAlias = "latest"

	modelFile    = "model.gob"
	vocabFile    = "vocab.json"
	labelsFile   = "labels.json"
	metadataFile = "metadata.json"
	indexFile    = "latest.json"

	// Microsecond resolution keeps versions unique and lexically ordered.
	versionLayout = "20060102_150405.000000"
)

// latestIndex is the registry record that replaces a filesystem symlink.
type latestIndex struct {
	Version   string    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Store struct {
	dir    string
	device string
	now    func() time.Time
	logger *zap.Logger

	mu      sync.Mutex
	current *Bundle
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithDevice(device string) Option {
	return func(s *Store) { s.device = device }
}

func NewStore(dir string, logger *zap.Logger, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create model directory: %w", err)
	}
	s := &Store{
		dir:    dir,
		device: "cpu",
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Save writes bundle as a new version of modelName and repoints latest to it.
// A failed save leaves no version directory behind.
func (s *Store) Save(ctx context.Context, bundle *Bundle, modelName string) (string, error) {
	if err := validateName(modelName); err != nil {
		return "", err
	}
	if err := bundle.Validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	savedAt := s.now().UTC()
	version := savedAt.Format(versionLayout)
	modelDir := filepath.Join(s.dir, modelName)
	versionDir := filepath.Join(modelDir, version)

	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create model directory: %w", err)
	}
	if err := os.Mkdir(versionDir, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %s/%s", models.ErrVersionConflict, modelName, version)
		}
		return "", fmt.Errorf("failed to create version directory: %w", err)
	}

	meta := bundle.Metadata
	meta.ModelName = modelName
	meta.Version = version
	meta.SavedAt = savedAt
	meta.VocabSize = bundle.Vocab.Size()
	meta.NumClasses = bundle.Labels.NumClasses()
	meta.Classes = bundle.Labels.Classes()
	meta.Device = s.device

	err := s.writeArtifacts(versionDir, bundle, &meta)
	if err == nil {
		err = s.writeIndex(modelDir, latestIndex{Version: version, UpdatedAt: savedAt})
	}
	if err != nil {
		if rmErr := os.RemoveAll(versionDir); rmErr != nil {
			s.logger.Error("Failed to remove partial model version",
				zap.Error(rmErr),
				zap.String("path", versionDir))
		}
		s.logger.Error("Failed to save model",
			zap.Error(err),
			zap.String("model_name", modelName),
			zap.String("version", version))
		return "", fmt.Errorf("failed to save model %s: %w", modelName, err)
	}

	bundle.Metadata = meta
	s.logger.Info("Model saved",
		zap.String("model_name", modelName),
		zap.String("version", version),
		zap.Int("vocab_size", meta.VocabSize))
	return version, nil
}

func (s *Store) writeArtifacts(dir string, bundle *Bundle, meta *Metadata) error {
	if err := writeFile(filepath.Join(dir, modelFile), bundle.Net.Save); err != nil {
		return fmt.Errorf("write classifier: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, vocabFile), bundle.Vocab); err != nil {
		return fmt.Errorf("write vocabulary: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, labelsFile), bundle.Labels); err != nil {
		return fmt.Errorf("write label encoder: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, metadataFile), meta); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

func (s *Store) writeIndex(modelDir string, idx latestIndex) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	if err := atomicWrite(filepath.Join(modelDir, indexFile), data); err != nil {
		return fmt.Errorf("update latest index: %w", err)
	}
	return nil
}

// Load reads modelName at version like Read, and a successful load becomes the
// store's current bundle.
func (s *Store) Load(ctx context.Context, modelName, version string) (*Bundle, error) {
	bundle, err := s.Read(ctx, modelName, version)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.current = bundle
	s.mu.Unlock()

	s.logger.Info("Model loaded",
		zap.String("model_name", modelName),
		zap.String("version", bundle.Metadata.Version))
	return bundle, nil
}

// Read returns a private copy of modelName at version without touching the
// current bundle; an empty version or "latest" resolves the latest index.
func (s *Store) Read(ctx context.Context, modelName, version string) (*Bundle, error) {
	if err := validateName(modelName); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if version == "" || version == LatestAlias {
		resolved, err := s.Latest(modelName)
		if err != nil {
			return nil, err
		}
		version = resolved
	} else if err := validateName(version); err != nil {
		return nil, err
	}

	versionDir := filepath.Join(s.dir, modelName, version)
	if _, err := os.Stat(versionDir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: model %s/%s", models.ErrNotFound, modelName, version)
		}
		return nil, fmt.Errorf("failed to stat model %s/%s: %w", modelName, version, err)
	}

	bundle, err := readBundle(versionDir)
	if err != nil {
		s.logger.Error("Failed to load model",
			zap.Error(err),
			zap.String("model_name", modelName),
			zap.String("version", version))
		return nil, fmt.Errorf("%w: %s/%s: %v", models.ErrCorruptBundle, modelName, version, err)
	}
	return bundle, nil
}

func readBundle(dir string) (*Bundle, error) {
	var meta Metadata
	if err := readJSON(filepath.Join(dir, metadataFile), &meta); err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	v := vocab.NewVocabulary()
	if err := readJSON(filepath.Join(dir, vocabFile), v); err != nil {
		return nil, fmt.Errorf("vocabulary: %w", err)
	}
	labels := vocab.NewLabelEncoder()
	if err := readJSON(filepath.Join(dir, labelsFile), labels); err != nil {
		return nil, fmt.Errorf("label encoder: %w", err)
	}

	f, err := os.Open(filepath.Join(dir, modelFile))
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	defer f.Close()
	net, err := classifier.Load(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}

	bundle := &Bundle{Net: net, Vocab: v, Labels: labels, Metadata: meta}
	if err := bundle.Validate(); err != nil {
		return nil, err
	}
	return bundle, nil
}

// Current returns the most recently loaded bundle, or nil.
func (s *Store) Current() *Bundle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Latest resolves the latest alias of modelName.
func (s *Store) Latest(modelName string) (string, error) {
	var idx latestIndex
	err := readJSON(filepath.Join(s.dir, modelName, indexFile), &idx)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: model %s/%s", models.ErrNotFound, modelName, LatestAlias)
	}
	if err != nil {
		return "", fmt.Errorf("%w: latest index of %s: %v", models.ErrCorruptBundle, modelName, err)
	}
	return idx.Version, nil
}

// List returns the versions of modelName, or of every model when modelName is
// empty, newest first.
func (s *Store) List(ctx context.Context, modelName string) (map[string][]Metadata, error) {
	names := []string{modelName}
	if modelName == "" {
		entries, err := os.ReadDir(s.dir)
		if err != nil {
			return nil, fmt.Errorf("failed to read model directory: %w", err)
		}
		names = names[:0]
		for _, e := range entries {
			if e.IsDir() {
				names = append(names, e.Name())
			}
		}
	} else if err := validateName(modelName); err != nil {
		return nil, err
	}

	result := make(map[string][]Metadata)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		versions, err := s.versions(name)
		if err != nil {
			return nil, err
		}
		if len(versions) > 0 {
			result[name] = versions
		}
	}
	return result, nil
}

func (s *Store) versions(modelName string) ([]Metadata, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, modelName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read model %s: %w", modelName, err)
	}

	var versions []Metadata
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var meta Metadata
		if err := readJSON(filepath.Join(s.dir, modelName, e.Name(), metadataFile), &meta); err != nil {
			s.logger.Warn("Skipping unreadable model version",
				zap.Error(err),
				zap.String("model_name", modelName),
				zap.String("version", e.Name()))
			continue
		}
		versions = append(versions, meta)
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].SavedAt.After(versions[j].SavedAt)
	})
	return versions, nil
}

// Delete irreversibly removes one version. It reports false, with no error,
// when the version does not exist. Deleting the latest version repoints the
// index to the newest remaining one.
func (s *Store) Delete(ctx context.Context, modelName, version string) (bool, error) {
	if err := validateName(modelName); err != nil {
		return false, err
	}
	if version == LatestAlias {
		return false, fmt.Errorf("%w: delete needs an explicit version", models.ErrValidation)
	}
	if err := validateName(version); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	versionDir := filepath.Join(s.dir, modelName, version)
	if _, err := os.Stat(versionDir); errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("Model version not found",
			zap.String("model_name", modelName),
			zap.String("version", version))
		return false, nil
	}
	if err := os.RemoveAll(versionDir); err != nil {
		return false, fmt.Errorf("failed to delete model %s/%s: %w", modelName, version, err)
	}

	latest, err := s.Latest(modelName)
	if err == nil && latest == version {
		if err := s.repointLatest(modelName); err != nil {
			return true, err
		}
	}

	s.logger.Info("Model deleted",
		zap.String("model_name", modelName),
		zap.String("version", version))
	return true, nil
}

func (s *Store) repointLatest(modelName string) error {
	modelDir := filepath.Join(s.dir, modelName)
	remaining, err := s.versions(modelName)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		if err := os.Remove(filepath.Join(modelDir, indexFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove latest index: %w", err)
		}
		return nil
	}
	return s.writeIndex(modelDir, latestIndex{Version: remaining[0].Version, UpdatedAt: s.now().UTC()})
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: invalid model name or version %q", models.ErrValidation, name)
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := write(w); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
