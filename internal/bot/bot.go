package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/xaenox/task-extractor/internal/models"
	"github.com/xaenox/task-extractor/internal/modelstore"
)

// Predictor is what the bot needs from the prediction service.
type Predictor interface {
	Predict(ctx context.Context, text string) (models.PredictionResult, error)
	Metrics() models.Metrics
	CurrentModel() *modelstore.Metadata
	ClearCache() int
}

// Sender is the subset of tgbotapi.BotAPI used for replies.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Bot struct {
	api       *tgbotapi.BotAPI
	sender    Sender
	predictor Predictor
	logger    *zap.Logger
	wg        sync.WaitGroup
}

func New(token string, predictor Predictor, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", api.Self.UserName))
	return &Bot{
		api:       api,
		sender:    api,
		predictor: predictor,
		logger:    logger,
	}, nil
}

// Start handles updates until ctx is canceled and in-flight replies are sent.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			b.wg.Add(1)
			go func(message *tgbotapi.Message) {
				defer b.wg.Done()
				b.handleMessage(ctx, message)
			}(update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.IsCommand() {
		b.handleCommand(message)
		return
	}

	content := message.Text
	if message.Caption != "" {
		content = message.Caption
	}
	if strings.TrimSpace(content) == "" {
		b.sendMessage(message.Chat.ID, "Send me a task description as text.")
		return
	}

	result, err := b.predictor.Predict(ctx, content)
	if errors.Is(err, models.ErrModelNotLoaded) {
		b.sendErrorMessage(message.Chat.ID, "The model is not loaded yet. Please try again later.")
		return
	}
	if err != nil {
		b.logger.Error("Failed to analyze task",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't analyze this task. Please try again.")
		return
	}

	b.sendMarkdown(message.Chat.ID, message.MessageID, formatPrediction(&result))
}

func (b *Bot) handleCommand(message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "help":
		b.handleHelp(message)
	case "health":
		b.handleHealth(message)
	case "model":
		b.handleModel(message)
	case "clearcache":
		cleared := b.predictor.ClearCache()
		b.sendMessage(message.Chat.ID, fmt.Sprintf("Cache cleared: %d entries removed.", cleared))
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
	welcome := `Welcome to Task Extractor! 📝
Send me a task in free form and I'll extract its title, deadline, priority, categories, complexity, estimate, stages and status.

Use /help to see all available commands.`

	b.sendMessage(message.Chat.ID, welcome)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Available commands:
/start - Start the bot
/help - Show this help message
/health - Show service status
/model - Show the active model
/clearcache - Clear the prediction cache

Example:
Пожарить пельмени до пятницы, очень важно`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleHealth(message *tgbotapi.Message) {
	m := b.predictor.Metrics()
	status := "healthy"
	if !m.ModelLoaded {
		status = "unhealthy"
	}
	text := fmt.Sprintf("*Status:* %s\n*Predictions:* %d\n*Cache hits:* %d\n*Errors:* %d\n*Cache:* %d/%d",
		escapeMarkdown(status), m.Predictions, m.CacheHits, m.Errors, m.CacheSize, m.CacheCapacity)
	b.sendMarkdown(message.Chat.ID, 0, text)
}

func (b *Bot) handleModel(message *tgbotapi.Message) {
	meta := b.predictor.CurrentModel()
	if meta == nil {
		b.sendMessage(message.Chat.ID, "No model is loaded.")
		return
	}
	text := fmt.Sprintf("*Model:* %s\n*Version:* %s\n*Vocabulary:* %d\n*Statuses:* %s",
		escapeMarkdown(meta.ModelName),
		escapeMarkdown(meta.Version),
		meta.VocabSize,
		escapeMarkdown(strings.Join(meta.Classes, ", ")))
	b.sendMarkdown(message.Chat.ID, 0, text)
}

func formatPrediction(r *models.PredictionResult) string {
	deadline := "-"
	if r.Deadline != nil {
		deadline = *r.Deadline
	}

	categories := make([]string, len(r.Categories))
	for i, category := range r.Categories {
		categories[i] = escapeMarkdown("#" + strings.ReplaceAll(category, " ", "_"))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "*%s*\n", escapeMarkdown(r.Name))
	if r.Description != "-" {
		fmt.Fprintf(&sb, "_%s_\n", escapeMarkdown(r.Description))
	}
	fmt.Fprintf(&sb, "\n*Priority:* %d/5\n", r.Priority)
	fmt.Fprintf(&sb, "*Deadline:* %s\n", escapeMarkdown(deadline))
	fmt.Fprintf(&sb, "*Categories:* %s\n", strings.Join(categories, " "))
	fmt.Fprintf(&sb, "*Complexity:* %d/10\n", r.Complexity)
	fmt.Fprintf(&sb, "*Estimate:* %s\n", escapeMarkdown(r.ExecutionTime))
	if len(r.Stages) > 0 {
		sb.WriteString("*Stages:*\n")
		for _, stage := range r.Stages {
			fmt.Fprintf(&sb, "%s\n", escapeMarkdown(stage))
		}
	}
	fmt.Fprintf(&sb, "*Status:* %s \\(%s\\)", escapeMarkdown(r.Status), escapeMarkdown(fmt.Sprintf("%.0f%%", r.Confidence*100)))
	return sb.String()
}

// escapeMarkdown escapes special characters for MarkdownV2
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendMarkdown(chatID int64, replyToID int, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.ReplyToMessageID = replyToID
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send markdown message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
