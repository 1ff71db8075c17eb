package agent

import (
	"encoding/json"
	"errors"

	xerrors "OpenEA-Agent/internal/errors"
	"OpenEA-Agent/internal/planner"
)

// 产物的语义名称。
const (
	ArtifactGroundedAnswer = "grounded_answer"
	ArtifactCandidateSlots = "candidate_slots"
	ArtifactEmailDraft     = "email_draft_id"
	ArtifactExpenseReport  = "expense_report"
	ArtifactZoomMeeting    = "zoom_meeting"
)

// Result 汇总一次编排的计划、轨迹与产物。
type Result struct {
	User      string           `json:"user"`
	Task      string           `json:"task"`
	Plan      string           `json:"plan"`
	Intents   []planner.Intent `json:"intents"`
	Steps     []planner.Step   `json:"steps"`
	Trace     []Entry          `json:"trace"`
	Artifacts []Artifact       `json:"artifacts"`
}

// ArtifactKeys 按产生顺序返回产物名称。
func (r *Result) ArtifactKeys() []string {
	if r == nil {
		return nil
	}
	keys := make([]string, 0, len(r.Artifacts))
	for _, a := range r.Artifacts {
		keys = append(keys, a.Key)
	}
	return keys
}

// Artifact 查找指定名称的第一个产物。
func (r *Result) Artifact(key string) (Artifact, bool) {
	if r != nil {
		for _, a := range r.Artifacts {
			if a.Key == key {
				return a, true
			}
		}
	}
	return Artifact{}, false
}

// Failed 返回失败步骤的数量。
func (r *Result) Failed() int {
	n := 0
	if r != nil {
		for _, e := range r.Trace {
			if e.Failed {
				n++
			}
		}
	}
	return n
}

// Entry 是一条执行轨迹。
type Entry struct {
	Title  string `json:"title"`
	Detail any    `json:"detail"`
	Failed bool   `json:"failed,omitempty"`
}

// Failure 是失败步骤在轨迹中的详情。
type Failure struct {
	Error     string       `json:"error"`
	Code      xerrors.Code `json:"code"`
	Retryable bool         `json:"retryable"`
}

func failedEntry(title string, err error) Entry {
	return Entry{
		Title: title,
		Detail: Failure{
			Error:     err.Error(),
			Code:      xerrors.CodeOf(err),
			Retryable: xerrors.RetryableError(err),
		},
		Failed: true,
	}
}

// Artifact 是对外有意义的输出，序列化为 {"<key>": value} 形式，
// 检索答案额外带有 citations 字段。
type Artifact struct {
	Key       string
	Value     any
	Citations []string
}

const citationsField = "citations"

// MarshalJSON 实现 json.Marshaler。
func (a Artifact) MarshalJSON() ([]byte, error) {
	m := map[string]any{a.Key: a.Value}
	if a.Citations != nil {
		m[citationsField] = a.Citations
	}
	return json.Marshal(m)
}

// UnmarshalJSON 实现 json.Unmarshaler。
func (a *Artifact) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*a = Artifact{}
	if raw, ok := m[citationsField]; ok {
		if err := json.Unmarshal(raw, &a.Citations); err != nil {
			return err
		}
		delete(m, citationsField)
	}
	if len(m) != 1 {
		return errors.New("artifact must carry exactly one key")
	}
	for k, raw := range m {
		a.Key = k
		if err := json.Unmarshal(raw, &a.Value); err != nil {
			return err
		}
	}
	return nil
}
