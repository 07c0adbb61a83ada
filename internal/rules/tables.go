package rules

import "regexp"

// RE2 word boundaries are ASCII only, so Cyrillic words are delimited explicitly.
const (
	wordStart = `(?:^|[^\p{L}\p{N}_])`
	wordEnd   = `(?:[^\p{L}\p{N}_]|$)`
)

const (
	defaultTitle    = "Задача"
	defaultCategory = "Общее"
	cookingCategory = "Кулинария"
	noValue         = "-"

	defaultPriority   = 3
	defaultComplexity = 5

	maxTitleLen    = 55
	maxTitleWords  = 3
	maxStages      = 5
	minDescription = 5
	maxDescription = 150
)

var actionVerbs = []string{
	"реализовать", "разработать", "создать", "написать", "подготовить",
	"провести", "организовать", "покрасить", "пожарить", "приготовить",
	"купить", "переделать", "исправить", "оптимизировать", "настроить",
	"установить", "развернуть", "запустить", "проверить", "позвонить",
	"отправить", "закончить", "тестировать", "интегрировать", "мигрировать",
	"нанять", "испечь", "сделать", "отредактировать", "снять", "анализировать",
	"запланировать", "разложить", "собрать", "упаковать", "задизайнить",
	"дизайнить", "варить", "готовить",
}

var stopWords = map[string]struct{}{
	"весь": {}, "всё": {}, "все": {}, "в": {}, "на": {}, "к": {}, "по": {}, "из": {}, "для": {},
	"максимально": {}, "как": {}, "можно": {}, "очень": {}, "совсем": {}, "до": {}, "перед": {},
	"ко": {}, "за": {}, "день": {}, "ночь": {}, "неделю": {}, "месяц": {}, "и": {}, "или": {},
}

type tier struct {
	level    int
	keywords []string
}

// Check order is 1, 5, 4, 2: "не важно" must win over "важно".
var priorityTiers = []tier{
	{1, []string{"очень низкий", "может быть", "не важно", "совсем не важно", "не срочно"}},
	{5, []string{"срочно", "критично", "немедленно", "очень важно", "!!!", "как можно быстрее",
		"срочняк", "срочняга", "быстрее всего", "как можно быстро", "упал сервер",
		"баг в продакшене", "горит", "неотложно"}},
	{4, []string{"важно", "высокий приоритет", "!!", "нужно быстро", "поскорее",
		"для релиза", "клиент ждёт", "важное", "не откладывать", "надо", "очень надо"}},
	{2, []string{"низкий", "низший", "можно подождать", "не спешить", "техдолг"}},
}

// Highest level first.
var complexityTiers = []tier{
	{10, []string{"невозможно", "требует революционного подхода"}},
	{9, []string{"максимально сложно", "требует исследования"}},
	{8, []string{"архи-сложно", "экспертный уровень"}},
	{7, []string{"очень сложно", "нелегко"}},
	{5, []string{"сложно", "требует опыта"}},
	{3, []string{"не очень сложно", "стандартно"}},
	{2, []string{"просто", "легко", "простой"}},
	{1, []string{"элементарно", "за 5 минут", "тривиально"}},
}

type categoryRule struct {
	name     string
	patterns []*regexp.Regexp
}

var categoryRules = []categoryRule{
	{cookingCategory, compileAll(`приготовить|пожарить|торт|еда|блюдо|пельмени|курица|начос|манты|варить|готовить`)},
	{"Frontend", compileAll(`фронтенд|ui|дизайн|макет|верстка|задизайнить|дизайнить`)},
	{"Backend", compileAll(`бэкенд|api|сервер|база|хранилище`)},
	{"IT", compileAll(`программирование|разработка|код|программа`)},
	{"Веб-разработка", compileAll(`веб|website|сайт|интернет|сервис`)},
	{"Дизайн", compileAll(`дизайн|макет|иконки|логотип`)},
	{"Маркетинг", compileAll(`маркетинг|реклама|кампания`)},
	{"Контент", compileAll(`контент|текст|статья|копирайт`)},
	{"Видео", compileAll(`видео|монтаж|съемка`)},
	{"Строительство", compileAll(`покрасить|ремонт|строительство|краска|стена`)},
	{"HR", compileAll(`нанять|рекрутинг|кандидат`)},
	{"Аналитика", compileAll(`анализ|отчет|статистика`)},
	{"Быт", compileAll(`носки|разложить|убрать|помыть|постирать`)},
}

type weekdayRule struct {
	pattern string
	day     int // 0 = Monday
}

// Stems are matched as substrings, in this order.
var weekdayRules = []weekdayRule{
	{"понедельник", 0}, {"понедельн", 0},
	{"вторник", 1}, {"вторн", 1},
	{"среда", 2}, {"сред", 2},
	{"четверг", 3}, {"четв", 3},
	{"пятница", 4}, {"пятниц", 4}, {"пятн", 4},
	{"суббота", 5}, {"суббот", 5},
	{"воскресенье", 6}, {"воскресень", 6}, {"вскр", 6},
}

var hourPatterns = compileAll(
	`([0-9]+)\s*ч(?:ас)?(?:ов)?`,
	`([0-9]+)\s+часов?`,
	`примерно\s+([0-9]+)`,
	`~([0-9]+)\s*ч`,
)

var (
	reToday          = regexp.MustCompile(wordStart + `сегодня` + wordEnd)
	reDayAfter       = regexp.MustCompile(wordStart + `(?:после\s+завтра|послезавтра)` + wordEnd)
	reTomorrow       = regexp.MustCompile(wordStart + `завтра|завтрашн`)
	reCoupleHours    = regexp.MustCompile(`пару\s+час`)
	reHalfHour       = regexp.MustCompile(`полчаса`)
	reWholeDay       = regexp.MustCompile(`целый\s+день`)
	reStage          = regexp.MustCompile(`(?m)^\s*([0-9]+[.)])\s*([^\n]+)$`)
	reFirstSentence  = regexp.MustCompile(`^([^.!?,;:]+)`)
	reDeadlineClause = regexp.MustCompile(`\s+(?:до|к|ко|на|перед)\s+\S+.*`)
	reDurationClause = regexp.MustCompile(`\s+\d+\s+(?:час|минут|дня|дней).*`)
	rePriorityClause = regexp.MustCompile(`\s+(?:очень\s+)?(?:важно|надо|не важно).*`)
	reObjectCut      = regexp.MustCompile(`\s+(?:в|на|к|по|из|для|как|когда)` + wordEnd + `.*`)
	reFallbackCut    = regexp.MustCompile(`\s+(?:до|к|ко|на|перед|очень|важно|надо)` + wordEnd + `.*`)
	reDescDeadline   = regexp.MustCompile(wordStart + `(?:до|к|ко|на|перед)\s+\S+.*`)
	reDescPriority   = regexp.MustCompile(`(?:очень\s+)?(?:важно|надо|не важно).*`)
	verbPatterns     = compileVerbs(actionVerbs)
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

func compileVerbs(verbs []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(verbs))
	for i, v := range verbs {
		out[i] = regexp.MustCompile(`(?i)` + wordStart + regexp.QuoteMeta(v) + `\s+([^,.!?;:\n]+)`)
	}
	return out
}
