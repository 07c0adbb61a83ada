package bot

import (
	"context"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/task-extractor/internal/models"
	"github.com/xaenox/task-extractor/internal/modelstore"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func (s *fakeSender) last(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.sent)
	return s.sent[len(s.sent)-1]
}

type fakePredictor struct {
	result  models.PredictionResult
	err     error
	meta    *modelstore.Metadata
	cleared int
}

func (p *fakePredictor) Predict(ctx context.Context, text string) (models.PredictionResult, error) {
	return p.result, p.err
}

func (p *fakePredictor) Metrics() models.Metrics {
	return models.Metrics{Predictions: 3, CacheHits: 1, CacheSize: 2, CacheCapacity: 10, ModelLoaded: p.meta != nil}
}

func (p *fakePredictor) CurrentModel() *modelstore.Metadata { return p.meta }

func (p *fakePredictor) ClearCache() int { return p.cleared }

func newTestBot(p *fakePredictor) (*Bot, *fakeSender) {
	s := &fakeSender{}
	return &Bot{sender: s, predictor: p, logger: zap.NewNop()}, s
}

func textMessage(text string) *tgbotapi.Message {
	return &tgbotapi.Message{MessageID: 7, Text: text, Chat: &tgbotapi.Chat{ID: 42}}
}

func commandMessage(cmd string) *tgbotapi.Message {
	m := textMessage("/" + cmd)
	m.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd) + 1}}
	return m
}

func TestHandleMessage_Prediction(t *testing.T) {
	deadline := "2025-01-10"
	b, s := newTestBot(&fakePredictor{result: models.PredictionResult{
		TaskAttributes: models.TaskAttributes{
			Name:          "Пожарить пельмени",
			Description:   "-",
			Priority:      5,
			Deadline:      &deadline,
			ExecutionTime: "0:30:00",
			Categories:    []string{"Кулинария"},
			Complexity:    2,
			Stages:        []string{"1. Купить", "2. Сварить"},
		},
		Status:     "новая",
		Confidence: 0.87,
	}})

	b.handleMessage(context.Background(), textMessage("Пожарить пельмени до пятницы, очень важно"))

	msg := s.last(t)
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Equal(t, 7, msg.ReplyToMessageID)
	assert.Equal(t, tgbotapi.ModeMarkdownV2, msg.ParseMode)
	assert.Contains(t, msg.Text, "*Пожарить пельмени*")
	assert.Contains(t, msg.Text, "*Priority:* 5/5")
	assert.Contains(t, msg.Text, "2025\\-01\\-10")
	assert.Contains(t, msg.Text, "\\#Кулинария")
	assert.Contains(t, msg.Text, "1\\. Купить")
	assert.Contains(t, msg.Text, "*Status:* новая \\(87%\\)")
}

func TestHandleMessage_ModelNotLoaded(t *testing.T) {
	b, s := newTestBot(&fakePredictor{err: models.ErrModelNotLoaded})

	b.handleMessage(context.Background(), textMessage("Купить молоко"))

	assert.Contains(t, s.last(t).Text, "not loaded")
}

func TestHandleCommand(t *testing.T) {
	b, s := newTestBot(&fakePredictor{
		meta:    &modelstore.Metadata{ModelName: "task_model", Version: "20250106_100000.000000", VocabSize: 12, Classes: []string{"новая"}},
		cleared: 4,
	})
	ctx := context.Background()

	b.handleMessage(ctx, commandMessage("model"))
	assert.Contains(t, s.last(t).Text, "task\\_model")

	b.handleMessage(ctx, commandMessage("health"))
	assert.Contains(t, s.last(t).Text, "*Status:* healthy")

	b.handleMessage(ctx, commandMessage("clearcache"))
	assert.Equal(t, "Cache cleared: 4 entries removed.", s.last(t).Text)

	b.handleMessage(ctx, commandMessage("bogus"))
	assert.Contains(t, s.last(t).Text, "Unknown command")
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `a\_b\*c\.d\!`, escapeMarkdown("a_b*c.d!"))
	assert.Equal(t, `\\\(x\)`, escapeMarkdown(`\(x)`))
}
