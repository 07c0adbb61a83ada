package rules

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2025-01-06 is a Monday.
var monday = time.Date(2025, time.January, 6, 10, 0, 0, 0, time.UTC)

func newTestEngine() *Engine {
	return NewEngineAt(func() time.Time { return monday })
}

func TestExtractTitle(t *testing.T) {
	e := newTestEngine()

	tests := []struct {
		name string
		text string
		want string
	}{
		{"verb with deadline clause", "Пожарить пельмени до пятницы, очень важно", "Пожарить пельмени"},
		{"upper case text", "ПЕРЕДЕЛАТЬ ВЕСЬ САЙТ!!! срочно, 8 часов", "Переделать САЙТ"},
		{"object capped at three words", "написать длинный подробный технический отчет", "Написать длинный подробный технический"},
		{"object cut at preposition", "настроить сервер для нового проекта", "Настроить сервер"},
		{"fallback to first clause", "Встреча с командой. Потом обед", "Встреча с командой"},
		{"fallback strips priority words", "Отчет очень важно", "Отчет"},
		{"placeholder", ".!?", "Задача"},
		{"empty", "", "Задача"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.ExtractTitle(tt.text))
		})
	}
}

func TestExtractTitle_Truncated(t *testing.T) {
	e := newTestEngine()
	title := e.ExtractTitle(strings.Repeat("ы", 80))
	assert.Equal(t, maxTitleLen, utf8.RuneCountInString(title))
}

func TestExtractDeadline(t *testing.T) {
	e := newTestEngine()

	tests := []struct {
		text string
		want string
	}{
		{"Купить молоко завтра", "2025-01-07"},
		{"Сделать сегодня", "2025-01-06"},
		{"Позвонить послезавтра", "2025-01-08"},
		{"Позвонить после завтра", "2025-01-08"},
		{"Сдать отчет до пятницы", "2025-01-10"},
		{"Встреча в среду", "2025-01-08"},
		// the same weekday as today means next week
		{"Планерка в понедельник", "2025-01-13"},
		{"Уборка в воскресенье", "2025-01-12"},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := e.ExtractDeadline(tt.text)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, *got)
		})
	}

	assert.Nil(t, e.ExtractDeadline("Купить молоко"))
}

func TestExtractDeadline_TodayWinsOverWeekday(t *testing.T) {
	e := newTestEngine()
	got := e.ExtractDeadline("сегодня, а не в пятницу")
	require.NotNil(t, got)
	assert.Equal(t, "2025-01-06", *got)
}

func TestExtractDescription(t *testing.T) {
	e := newTestEngine()

	assert.Equal(t, "добавить раздел новостей", e.ExtractDescription("Переделать сайт, добавить раздел новостей до пятницы"))
	assert.Equal(t, "-", e.ExtractDescription("Пожарить пельмени до пятницы, очень важно"))
	assert.Equal(t, "-", e.ExtractDescription("Без запятой вообще"))
	assert.Equal(t, "-", e.ExtractDescription("Сделать, ок"))
	assert.Equal(t, "-", e.ExtractDescription("Сделать, "+strings.Repeat("а", 200)))
}

func TestExtractPriority(t *testing.T) {
	e := newTestEngine()

	tests := []struct {
		text string
		want int
	}{
		{"Пожарить пельмени, очень важно", 5},
		{"срочно и важно", 5},
		{"Сделать отчет, важно", 4},
		{"не важно, но сделать", 1},
		{"не срочно", 1},
		{"техдолг по тестам", 2},
		{"Купить хлеб", 3},
		{"Починить !!! всё", 5},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, e.ExtractPriority(tt.text))
		})
	}
}

func TestExtractComplexity(t *testing.T) {
	e := newTestEngine()

	assert.Equal(t, 7, e.ExtractComplexity("это очень сложно"))
	assert.Equal(t, 10, e.ExtractComplexity("просто, но невозможно"))
	assert.Equal(t, 1, e.ExtractComplexity("элементарно"))
	assert.Equal(t, 2, e.ExtractComplexity("Легко сделать"))
	assert.Equal(t, 5, e.ExtractComplexity("Купить хлеб"))
}

func TestExtractCategory(t *testing.T) {
	e := newTestEngine()

	assert.Equal(t, []string{"Кулинария"}, e.ExtractCategory("пожарить пельмени и написать код"))
	assert.Equal(t, []string{"Backend", "IT"}, e.ExtractCategory("написать код для API"))
	assert.Equal(t, []string{"Общее"}, e.ExtractCategory("Купить молоко"))
	assert.Equal(t, []string{"Строительство"}, e.ExtractCategory("Покрасить стену"))
}

func TestExtractTime(t *testing.T) {
	e := newTestEngine()

	assert.Equal(t, "3:00:00", e.ExtractTime("займет 3 часа"))
	assert.Equal(t, "8:00:00", e.ExtractTime("ПЕРЕДЕЛАТЬ ВЕСЬ САЙТ!!! срочно, 8 часов"))
	assert.Equal(t, "4:00:00", e.ExtractTime("примерно 4"))
	assert.Equal(t, "2:00:00", e.ExtractTime("на пару часов"))
	assert.Equal(t, "0:30:00", e.ExtractTime("минут на полчаса"))
	assert.Equal(t, "8:00:00", e.ExtractTime("уйдет целый день"))
	assert.Equal(t, "-", e.ExtractTime("Купить молоко"))
}

func TestExtractStages(t *testing.T) {
	e := newTestEngine()

	text := "Испечь торт:\n1. Купить муку\n2) Замесить тесто\n3. Выпекать"
	assert.Equal(t, []string{"Купить муку", "Замесить тесто", "Выпекать"}, e.ExtractStages(text))

	var b strings.Builder
	for i := 1; i <= 7; i++ {
		b.WriteString(strings.Repeat(" ", i%2))
		b.WriteString(string(rune('0'+i)) + ". шаг\n")
	}
	assert.Len(t, e.ExtractStages(b.String()), maxStages)
	assert.Empty(t, e.ExtractStages("без этапов"))
}

func TestExtract(t *testing.T) {
	e := newTestEngine()

	attrs := e.Extract("Пожарить пельмени до пятницы, очень важно")
	assert.Equal(t, "Пожарить пельмени", attrs.Name)
	assert.Equal(t, "-", attrs.Description)
	assert.Equal(t, 5, attrs.Priority)
	require.NotNil(t, attrs.Deadline)
	assert.Equal(t, "2025-01-10", *attrs.Deadline)
	assert.Equal(t, "-", attrs.ExecutionTime)
	assert.Equal(t, []string{"Кулинария"}, attrs.Categories)
	assert.Equal(t, 5, attrs.Complexity)
	assert.Empty(t, attrs.Stages)
}
