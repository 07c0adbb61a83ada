// Package labeling bootstraps training data from raw task texts.
package labeling

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xaenox/task-extractor/internal/models"
	"github.com/xaenox/task-extractor/internal/rules"
)

// DefaultStatuses is used when the caller does not restrict the status set.
var DefaultStatuses = []string{"новая", "в работе", "выполнена", "отложена"}

// Labeler picks one status out of statuses for text.
type Labeler interface {
	Label(ctx context.Context, text string, statuses []string) (string, error)
}

// KeywordLabeler matches fixed status keywords and falls back to the first
// allowed status.
type KeywordLabeler struct{}

var statusKeywords = []struct {
	status   string
	keywords []string
}{
	{"выполнена", []string{"сделал", "сделано", "готово", "выполнено", "закончил", "завершил", "done"}},
	{"отложена", []string{"отложить", "отложено", "на паузе", "потом", "когда-нибудь"}},
	{"в работе", []string{"делаю", "в процессе", "начал", "продолжаю", "в работе"}},
}

func (KeywordLabeler) Label(ctx context.Context, text string, statuses []string) (string, error) {
	if len(statuses) == 0 {
		statuses = DefaultStatuses
	}
	lower := strings.ToLower(text)
	for _, sk := range statusKeywords {
		if !contains(statuses, sk.status) {
			continue
		}
		for _, kw := range sk.keywords {
			if strings.Contains(lower, kw) {
				return sk.status, nil
			}
		}
	}
	return statuses[0], nil
}

// BuildExamples turns raw texts into training examples. Attribute labels come
// from the rule engine, the status from labeler.
func BuildExamples(ctx context.Context, engine *rules.Engine, labeler Labeler, texts []string, statuses []string, logger *zap.Logger) ([]models.TrainingExample, error) {
	examples := make([]models.TrainingExample, 0, len(texts))
	for i, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		status, err := labeler.Label(ctx, text, statuses)
		if err != nil {
			return nil, fmt.Errorf("failed to label text %d: %w", i, err)
		}

		attrs := engine.Extract(text)
		examples = append(examples, models.TrainingExample{
			Text: text,
			Labels: models.TaskLabels{
				Name:          attrs.Name,
				Description:   attrs.Description,
				Priority:      attrs.Priority,
				Deadline:      attrs.Deadline,
				ExecutionTime: attrs.ExecutionTime,
				Category:      attrs.Categories,
				Difficulty:    attrs.Complexity,
				Stages:        attrs.Stages,
				Status:        status,
			},
		})
	}
	logger.Info("Training examples built", zap.Int("examples", len(examples)))
	return examples, nil
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
