// Package routing implements a hybrid query classifier: a deterministic
// keyword classifier, an LLM-backed classifier, and a hybrid gate with a
// bounded cache in front of both.
package routing

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/coreflux-ai/agentrouter/internal/apperrors"
	"github.com/coreflux-ai/agentrouter/internal/tasktype"
)

const maxQueryLength = 10000

var (
	weatherKeywords = []string{
		"weather", "temperature", "humidity", "forecast", "rain", "snow",
		"天气", "温度", "湿度", "预报", "下雨", "下雪", "气温", "climate", "气候",
	}
	financeKeywords = []string{
		"stock", "price", "market", "ticker", "shares", "nasdaq", "dow",
		"股票", "股价", "市场", "股市", "证券", "涨", "跌",
		"crypto", "bitcoin", "ethereum", "加密货币", "比特币",
		"trading", "交易", "投资",
	}
	routingKeywords = []string{
		"route", "direction", "navigate", "travel", "driving", "distance",
		"路线", "导航", "行驶", "距离", "怎么走", "怎么去",
	}
	routingLocationKeywords = []string{"from", "to", "从", "到", "去"}
	ragKeywords              = []string{
		"document", "file", "pdf", "analyze document", "文档", "文件", "分析文档", "文档中",
	}
	codeKeywords = []string{
		"compute", "calculate", "solve", "plot", "draw",
		"计算", "计数", "求解", "画", "绘制",
		"write code", "generate code", "code",
		"数学", "formula", "equation",
		"algorithm", "function", "program",
	}
	researchKeywords = []string{
		"search", "find", "查询", "搜索", "查找", "了解",
		"what is", "who is", "when was", "where is",
		"是什么", "什么是",
		"explain", "tell me about", "information about",
	}
	calculationIndicators = []string{
		"多少", "几个", "几", "多长",
		"how many", "how much", "total",
		"convert", "转换", "转",
		"average", "平均", "sum", "加起来",
		"percent", "百分比", "%",
		"is", "等于", "相等",
	}
	realTimeMarkers = []string{
		"now", "current", "today", "present", "real-time", "live",
		"現在", "现在", "當下", "当下", "今天", "目前", "實時", "实时",
	}
	conversionUnitWords = []string{
		"hour", "day", "week", "month", "year",
		"小时", "小時", "天", "周", "星期", "月", "年",
		"second", "minute", "秒", "分", "km", "meter", "mile",
		"kilogram", "pound", "degree", "度", "米", "克",
	}
	questionMarks = []string{"?", "？"}

	mathPatterns = []*regexp.Regexp{
		regexp.MustCompile(`[+\-*/^]`),
		regexp.MustCompile(`[=<>]`),
		regexp.MustCompile(`\d+\.\d+`),
		regexp.MustCompile(`[∑∫∂√π∞]`),
		regexp.MustCompile(`(?i)(?:sin|cos|tan|log|sqrt|exp)\s*\(`),
	}

	unitConversionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(小時|小时|hours?)\s*(?:in|per|a|的)\s*(天|day|星期|week|月|month|年|year)`),
		regexp.MustCompile(`(?i)(天|days?)\s*(?:in|per|a|的)\s*(周|星期|week|月|month|年|year)`),
		regexp.MustCompile(`(?i)(分鐘|分钟|minutes?)\s*(?:in|per|a|的)\s*(小時|小时|hour)`),
	}
)

// KeywordClassifier is a fast, deterministic rule+keyword classifier. It
// never calls out to an LLM and never panics on well-formed Unicode input.
type KeywordClassifier struct {
	logger *zap.Logger
}

func NewKeywordClassifier(logger *zap.Logger) *KeywordClassifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeywordClassifier{logger: logger}
}

// Classify implements a precedence-ordered keyword rule cascade. The
// only error path is validation (empty or over-length query).
func (k *KeywordClassifier) Classify(query string) (*tasktype.Decision, error) {
	if err := validateQuery(query); err != nil {
		return nil, err
	}

	lower := strings.ToLower(query)
	tt, matched := classifyPrecedence(query, lower)
	confidence := scoreConfidence(query, lower, tt, matched)
	reasoning := reasonFor(tt, matched)

	decision, err := tasktype.NewDecision(query, tt, confidence, reasoning)
	if err != nil {
		// Unreachable in practice since scoreConfidence clamps to [0,1],
		// but kept so a future scoring bug surfaces as an error, not a panic.
		return nil, err
	}
	decision.ToolsNeeded = tasktype.RequiredTools(tt)
	decision.Metadata[tasktype.MetaMethod] = tasktype.MethodKeyword

	k.logger.Debug("keyword classification",
		zap.String("task_type", string(tt)),
		zap.Float64("confidence", confidence),
	)
	return decision, nil
}

func validateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return apperrors.New(apperrors.InvalidQuery, "query cannot be empty", nil)
	}
	if len(query) > maxQueryLength {
		return apperrors.New(apperrors.InvalidQuery, "query exceeds maximum length", nil)
	}
	return nil
}

type matchInfo struct {
	domainKeywords []string // matched weather/finance/routing/rag keywords
	codeKeywords   []string
	researchKeywords []string
	mathHit        bool
	unitConvHit    bool
	calcIndicators []string
	questionMark   bool
}

// classifyPrecedence applies the eight-rule cascade in order; the first
// matching rule wins regardless of how many later rules would also match.
func classifyPrecedence(raw, lower string) (tasktype.TaskType, matchInfo) {
	var m matchInfo

	// 1. Domain keyword sets: WEATHER -> FINANCE -> ROUTING -> RAG.
	if hit := firstContains(lower, weatherKeywords); hit != "" {
		m.domainKeywords = []string{hit}
		return tasktype.Weather, m
	}
	if hit := firstContains(lower, financeKeywords); hit != "" {
		m.domainKeywords = []string{hit}
		return tasktype.Finance, m
	}
	if hit := firstContains(lower, routingKeywords); hit != "" {
		if containsAny(lower, routingLocationKeywords) {
			m.domainKeywords = []string{hit}
			return tasktype.Routing, m
		}
	}
	// "from X to Y" (or its Chinese equivalent) implies a route even
	// without a core routing keyword like "route" or "navigate".
	if (strings.Contains(lower, "from") && strings.Contains(lower, "to")) ||
		(strings.Contains(raw, "从") && strings.Contains(raw, "到")) {
		m.domainKeywords = []string{"from/to"}
		return tasktype.Routing, m
	}
	if hit := firstContains(lower, ragKeywords); hit != "" {
		m.domainKeywords = []string{hit}
		return tasktype.RAG, m
	}

	// 2. Explicit code keywords.
	if matches := containsAll(lower, codeKeywords); len(matches) > 0 {
		m.codeKeywords = matches
		return tasktype.Code, m
	}

	// 3. Math-shape patterns.
	if hasMathPattern(raw) || strings.Contains(raw, "!") {
		m.mathHit = true
		return tasktype.Code, m
	}

	// 4. Unit-conversion patterns.
	if hasUnitConversionPattern(raw) {
		m.unitConvHit = true
		return tasktype.Code, m
	}

	// 5. Calculation indicator + unit context (demoted by real-time markers).
	if tt, ok := classifyCalculationIndicator(lower, &m); ok {
		return tt, m
	}

	// 6. Research keywords.
	if matches := containsAll(lower, researchKeywords); len(matches) > 0 {
		m.researchKeywords = matches
		return tasktype.Research, m
	}

	// 7. Question-mark terminator.
	for _, q := range questionMarks {
		if strings.HasSuffix(strings.TrimSpace(raw), q) {
			m.questionMark = true
			return tasktype.Research, m
		}
	}

	// 8. Default.
	return tasktype.Chat, m
}

func classifyCalculationIndicator(lower string, m *matchInfo) (tasktype.TaskType, bool) {
	for _, indicator := range calculationIndicators {
		if !strings.Contains(lower, indicator) {
			continue
		}
		if containsAny(lower, realTimeMarkers) {
			continue // demoted past this rule
		}
		m.calcIndicators = append(m.calcIndicators, indicator)

		if containsAny(lower, conversionUnitWords) {
			return tasktype.Code, true
		}
		if strings.Contains(lower, "%") || strings.Contains(lower, "percent") || strings.Contains(lower, "百分比") {
			return tasktype.Code, true
		}
		if (indicator == "convert" || indicator == "转换" || indicator == "转") && strings.Contains(lower, "to") {
			return tasktype.Code, true
		}
	}
	return "", false
}

func hasMathPattern(raw string) bool {
	for _, p := range mathPatterns {
		if p.MatchString(raw) {
			return true
		}
	}
	return false
}

func hasUnitConversionPattern(raw string) bool {
	for _, p := range unitConversionPatterns {
		if p.MatchString(raw) {
			return true
		}
	}
	return false
}

func firstContains(lower string, keywords []string) string {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return kw
		}
	}
	return ""
}

func containsAny(lower string, keywords []string) bool {
	return firstContains(lower, keywords) != ""
}

func containsAll(lower string, keywords []string) []string {
	var matched []string
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			matched = append(matched, kw)
		}
	}
	return matched
}

// scoreConfidence implements the additive scoring rules from section 4.1,
// clamped to 1.0.
func scoreConfidence(raw, lower string, tt tasktype.TaskType, m matchInfo) float64 {
	score := 0.5

	switch tt {
	case tasktype.Code:
		score += 0.25 * float64(len(m.codeKeywords))
		if m.mathHit {
			score += 0.15
		}
		if m.unitConvHit {
			score += 0.20
		}
		score += 0.10 * float64(len(m.calcIndicators))
	case tasktype.Research:
		score += 0.25 * float64(len(m.researchKeywords))
		if m.questionMark {
			score += 0.15
		}
	case tasktype.Weather, tasktype.Finance, tasktype.Routing, tasktype.RAG:
		score += 0.25*float64(len(m.domainKeywords)) + 0.3
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

func reasonFor(tt tasktype.TaskType, m matchInfo) string {
	switch tt {
	case tasktype.Weather:
		return "weather keyword detected: " + strings.Join(m.domainKeywords, ", ")
	case tasktype.Finance:
		return "finance keyword detected: " + strings.Join(m.domainKeywords, ", ")
	case tasktype.Routing:
		return "routing keyword detected with location indicator"
	case tasktype.RAG:
		return "document/RAG keyword detected: " + strings.Join(m.domainKeywords, ", ")
	case tasktype.Code:
		switch {
		case len(m.codeKeywords) > 0:
			return "code keyword detected: " + strings.Join(m.codeKeywords, ", ")
		case m.mathHit:
			return "mathematical pattern detected"
		case m.unitConvHit:
			return "unit conversion pattern detected"
		default:
			return "calculation indicator with unit context: " + strings.Join(m.calcIndicators, ", ")
		}
	case tasktype.Research:
		if m.questionMark {
			return "question-mark terminator"
		}
		return "research keyword detected: " + strings.Join(m.researchKeywords, ", ")
	default:
		return "no domain/code/research signal; defaulting to chat"
	}
}
