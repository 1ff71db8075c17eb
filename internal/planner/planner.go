// Package planner 把自由文本任务分类为意图集合，并映射为固定的步骤序列。
package planner

import (
	"fmt"
	"regexp"
	"strings"
)

// Intent 表示任务命中的一类意图。
type Intent string

const (
	IntentScheduling Intent = "scheduling"
	IntentExpense    Intent = "expense"
	IntentVideo      Intent = "video"
	IntentKnowledge  Intent = "knowledge"
	IntentGeneric    Intent = "generic"
)

// Step 是计划中的一个命名步骤。
type Step string

const (
	StepParseScheduling Step = "parse scheduling request"
	StepCheckCalendar   Step = "check calendar for conflicts"
	StepProposeSlots    Step = "propose 3 candidate slots"
	StepDraftEmail      Step = "draft email for approval"
	StepCreateReport    Step = "create expense report"
	StepAttachReceipt   Step = "attach placeholder receipt"
	StepCreateMeeting   Step = "create zoom meeting placeholder"
	StepAnalyze         Step = "analyze request"
	StepGenericSearch   Step = "perform generic search/tool use"
	StepSummarize       Step = "summarize outcome"
)

type group struct {
	intent  Intent
	pattern *regexp.Regexp
	steps   []Step
}

// groups 的声明顺序即步骤拼接顺序。
var groups = []group{
	{
		intent:  IntentScheduling,
		pattern: regexp.MustCompile(`schedule|slot|meet|meeting|book|invite`),
		steps:   []Step{StepParseScheduling, StepCheckCalendar, StepProposeSlots, StepDraftEmail},
	},
	{
		intent:  IntentExpense,
		pattern: regexp.MustCompile(`expense|report|receipt|reimburse`),
		steps:   []Step{StepCreateReport, StepAttachReceipt},
	},
	{
		intent:  IntentVideo,
		pattern: regexp.MustCompile(`zoom|video call|meet link`),
		steps:   []Step{StepCreateMeeting},
	},
}

var fallbackSteps = []Step{StepAnalyze, StepGenericSearch, StepSummarize}

// DefaultKnowledgeTerms 是知识问答意图的默认触发词。
var DefaultKnowledgeTerms = []string{"policy", "handbook", "guideline", "expenses"}

// Plan 是一次规划的结果。Steps 永远非空。
type Plan struct {
	Intents []Intent `json:"intents"`
	Steps   []Step   `json:"steps"`
}

// Has 判断计划是否包含指定意图。
func (p Plan) Has(intent Intent) bool {
	for _, i := range p.Intents {
		if i == intent {
			return true
		}
	}
	return false
}

// Render 输出带编号的计划文本。
func (p Plan) Render() string {
	lines := make([]string, 0, len(p.Steps))
	for i, s := range p.Steps {
		lines = append(lines, fmt.Sprintf("- %d. %s", i+1, s))
	}
	return strings.Join(lines, "\n")
}

// Planner 是纯函数式的规则规划器，可并发使用。
type Planner struct {
	knowledgeTerms []string
}

// Option 定义 Planner 的可选配置。
type Option func(*Planner)

// WithKnowledgeTerms 覆盖知识问答触发词。
func WithKnowledgeTerms(terms ...string) Option {
	return func(p *Planner) {
		cleaned := make([]string, 0, len(terms))
		for _, t := range terms {
			if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
				cleaned = append(cleaned, t)
			}
		}
		if len(cleaned) > 0 {
			p.knowledgeTerms = cleaned
		}
	}
}

// New 创建规划器。
func New(opts ...Option) *Planner {
	p := &Planner{knowledgeTerms: DefaultKnowledgeTerms}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Plan 对任务分类并生成步骤。知识问答意图不贡献步骤。
func (p *Planner) Plan(task string) Plan {
	lowered := strings.ToLower(task)

	var plan Plan
	if p.isKnowledgeQuestion(lowered) {
		plan.Intents = append(plan.Intents, IntentKnowledge)
	}
	for _, g := range groups {
		if g.pattern.MatchString(lowered) {
			plan.Intents = append(plan.Intents, g.intent)
			plan.Steps = append(plan.Steps, g.steps...)
		}
	}
	if len(plan.Steps) == 0 {
		plan.Intents = append(plan.Intents, IntentGeneric)
		plan.Steps = append(plan.Steps, fallbackSteps...)
	}
	return plan
}

func (p *Planner) isKnowledgeQuestion(lowered string) bool {
	for _, term := range p.knowledgeTerms {
		if strings.Contains(lowered, term) {
			return true
		}
	}
	return false
}
