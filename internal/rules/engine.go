// Package rules extracts task attributes from free-form Russian task texts with
// fixed keyword and pattern tables. Every extractor has a deterministic fallback,
// so extraction never fails.
package rules

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/xaenox/task-extractor/internal/models"
)

const dateLayout = "2006-01-02"

// Engine is safe for concurrent use; it holds no per-call state.
type Engine struct {
	now func() time.Time
}

func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// NewEngineAt returns an engine whose notion of "today" comes from now.
func NewEngineAt(now func() time.Time) *Engine {
	return &Engine{now: now}
}

// Extract runs every extractor over text.
func (e *Engine) Extract(text string) models.TaskAttributes {
	return models.TaskAttributes{
		Name:          e.ExtractTitle(text),
		Description:   e.ExtractDescription(text),
		Priority:      e.ExtractPriority(text),
		Deadline:      e.ExtractDeadline(text),
		ExecutionTime: e.ExtractTime(text),
		Categories:    e.ExtractCategory(text),
		Complexity:    e.ExtractComplexity(text),
		Stages:        e.ExtractStages(text),
	}
}

// ExtractTitle builds "<Verb> <object>" from the first known action verb, falling
// back to the first clause of the text.
func (e *Engine) ExtractTitle(text string) string {
	clean := reDeadlineClause.ReplaceAllString(text, "")
	clean = reDurationClause.ReplaceAllString(clean, "")
	clean = rePriorityClause.ReplaceAllString(clean, "")

	for i, re := range verbPatterns {
		m := re.FindStringSubmatch(clean)
		if m == nil {
			continue
		}
		obj := strings.TrimSpace(m[1])
		obj = reObjectCut.ReplaceAllString(obj, "")

		words := make([]string, 0, maxTitleWords)
		for _, w := range strings.Fields(obj) {
			if _, stop := stopWords[strings.ToLower(w)]; stop || utf8.RuneCountInString(w) <= 1 {
				continue
			}
			words = append(words, w)
			if len(words) == maxTitleWords {
				break
			}
		}
		if len(words) > 0 {
			return truncate(capitalize(actionVerbs[i])+" "+strings.Join(words, " "), maxTitleLen)
		}
	}

	if m := reFirstSentence.FindStringSubmatch(strings.TrimSpace(text)); m != nil {
		title := strings.TrimSpace(m[1])
		title = strings.TrimSpace(reFallbackCut.ReplaceAllString(title, ""))
		if title != "" {
			return truncate(title, maxTitleLen)
		}
	}
	return defaultTitle
}

// ExtractDeadline resolves relative day words and weekday names against today.
func (e *Engine) ExtractDeadline(text string) *string {
	today := e.now()
	lower := strings.ToLower(text)

	switch {
	case reToday.MatchString(lower):
		return isoDate(today)
	case reDayAfter.MatchString(lower):
		return isoDate(today.AddDate(0, 0, 2))
	case reTomorrow.MatchString(lower):
		return isoDate(today.AddDate(0, 0, 1))
	}

	current := (int(today.Weekday()) + 6) % 7
	for _, wd := range weekdayRules {
		if !strings.Contains(lower, wd.pattern) {
			continue
		}
		ahead := wd.day - current
		if ahead <= 0 {
			ahead += 7
		}
		return isoDate(today.AddDate(0, 0, ahead))
	}
	return nil
}

// ExtractDescription takes the text after the first comma, minus deadline and
// priority clauses.
func (e *Engine) ExtractDescription(text string) string {
	_, rest, found := strings.Cut(text, ",")
	if !found {
		return noValue
	}
	desc := strings.TrimSpace(rest)
	desc = reDescDeadline.ReplaceAllString(desc, "")
	desc = strings.TrimSpace(reDescPriority.ReplaceAllString(desc, ""))

	if n := utf8.RuneCountInString(desc); n > minDescription && n < maxDescription {
		return desc
	}
	return noValue
}

func (e *Engine) ExtractPriority(text string) int {
	return matchTier(strings.ToLower(text), priorityTiers, defaultPriority)
}

func (e *Engine) ExtractComplexity(text string) int {
	return matchTier(strings.ToLower(text), complexityTiers, defaultComplexity)
}

// ExtractCategory returns every matching category in table order. Cooking
// always stands alone.
func (e *Engine) ExtractCategory(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, rule := range categoryRules {
		for _, re := range rule.patterns {
			if !re.MatchString(lower) {
				continue
			}
			if rule.name == cookingCategory {
				return []string{cookingCategory}
			}
			found = append(found, rule.name)
			break
		}
	}
	if len(found) == 0 {
		return []string{defaultCategory}
	}
	return found
}

// ExtractTime estimates execution time as "H:MM:SS".
func (e *Engine) ExtractTime(text string) string {
	lower := strings.ToLower(text)
	hours := 0
	for _, re := range hourPatterns {
		if m := re.FindStringSubmatch(lower); m != nil {
			hours, _ = strconv.Atoi(m[1])
			break
		}
	}
	if hours == 0 {
		switch {
		case reCoupleHours.MatchString(lower):
			hours = 2
		case reHalfHour.MatchString(lower):
			return "0:30:00"
		case reWholeDay.MatchString(lower):
			hours = 8
		}
	}
	if hours > 0 {
		return fmt.Sprintf("%d:00:00", hours)
	}
	return noValue
}

// ExtractStages collects numbered lines such as "1. ..." or "2) ...".
func (e *Engine) ExtractStages(text string) []string {
	matches := reStage.FindAllStringSubmatch(text, maxStages)
	stages := make([]string, 0, len(matches))
	for _, m := range matches {
		stages = append(stages, strings.TrimSpace(m[2]))
	}
	return stages
}

func matchTier(lower string, tiers []tier, fallback int) int {
	for _, t := range tiers {
		for _, kw := range t.keywords {
			if strings.Contains(lower, kw) {
				return t.level
			}
		}
	}
	return fallback
}

func isoDate(t time.Time) *string {
	s := t.Format(dateLayout)
	return &s
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
