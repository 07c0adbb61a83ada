package modelstore

import (
	"fmt"
	"time"

	"github.com/xaenox/task-extractor/internal/classifier"
	"github.com/xaenox/task-extractor/internal/models"
	"github.com/xaenox/task-extractor/internal/vocab"
)

// Bundle is the persisted unit: a fitted classifier with the vocabulary and
// label encoder it was trained against.
type Bundle struct {
	Net      *classifier.StatusNet
	Vocab    *vocab.Vocabulary
	Labels   *vocab.LabelEncoder
	Metadata Metadata
}

// Metadata is written as metadata.json next to the artifacts.
type Metadata struct {
	ModelName  string                `json:"model_name"`
	Version    string                `json:"version"`
	SavedAt    time.Time             `json:"saved_at"`
	VocabSize  int                   `json:"vocab_size"`
	NumClasses int                   `json:"num_classes"`
	Classes    []string              `json:"classes"`
	Device     string                `json:"device"`
	MaxTextLen int                   `json:"max_text_len"`
	Training   *models.TrainingStats `json:"training,omitempty"`
}

// Validate reports whether the bundle is fit for inference.
func (b *Bundle) Validate() error {
	switch {
	case b == nil || b.Net == nil:
		return fmt.Errorf("%w: bundle has no classifier", models.ErrModelNotTrained)
	case b.Vocab == nil || b.Labels == nil:
		return fmt.Errorf("%w: bundle has no vocabulary or label encoder", models.ErrModelNotTrained)
	case b.Labels.NumClasses() == 0:
		return fmt.Errorf("%w: label encoder is empty", models.ErrModelNotTrained)
	case b.Net.VocabSize != b.Vocab.Size():
		return fmt.Errorf("classifier vocabulary size %d does not match vocabulary %d", b.Net.VocabSize, b.Vocab.Size())
	case b.Net.NumClasses() != b.Labels.NumClasses():
		return fmt.Errorf("classifier has %d classes, label encoder %d", b.Net.NumClasses(), b.Labels.NumClasses())
	}
	return nil
}
