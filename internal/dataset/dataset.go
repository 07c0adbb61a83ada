// Package dataset reads and validates training data documents.
package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/xaenox/task-extractor/internal/models"
)

const (
	MinTextLen = 3
	MaxTextLen = 1000
)

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the document format by file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: unsupported training data file %s", models.ErrValidation, path)
	}
}

// Load reads and validates the training document at path.
func Load(path string) ([]models.TrainingExample, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read training data: %w", err)
	}
	return Parse(data, format)
}

func Parse(data []byte, format Format) ([]models.TrainingExample, error) {
	var doc models.TrainingDocument
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: malformed JSON training data: %v", models.ErrValidation, err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: malformed YAML training data: %v", models.ErrValidation, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown format %q", models.ErrValidation, format)
	}

	if err := Validate(doc.TrainingExamples); err != nil {
		return nil, err
	}
	return doc.TrainingExamples, nil
}

// Validate checks every example against the training data schema.
func Validate(examples []models.TrainingExample) error {
	for i, ex := range examples {
		if err := validateExample(ex); err != nil {
			return fmt.Errorf("%w: example %d: %v", models.ErrValidation, i, err)
		}
	}
	return nil
}

func validateExample(ex models.TrainingExample) error {
	n := utf8.RuneCountInString(ex.Text)
	switch {
	case n < MinTextLen || n > MaxTextLen:
		return fmt.Errorf("text length %d outside %d..%d", n, MinTextLen, MaxTextLen)
	case ex.Labels.Priority < 1 || ex.Labels.Priority > 5:
		return fmt.Errorf("priority %d outside 1..5", ex.Labels.Priority)
	case ex.Labels.Difficulty < 1 || ex.Labels.Difficulty > 10:
		return fmt.Errorf("difficulty %d outside 1..10", ex.Labels.Difficulty)
	case strings.TrimSpace(ex.Labels.Status) == "":
		return fmt.Errorf("status is empty")
	}
	return nil
}

// Write stores examples as a training document, choosing the format by extension.
func Write(path string, examples []models.TrainingExample) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	doc := models.TrainingDocument{TrainingExamples: examples}

	var data []byte
	if format == FormatYAML {
		data, err = yaml.Marshal(doc)
	} else {
		data, err = json.MarshalIndent(doc, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode training data: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
