package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"OpenEA-Agent/internal/agent"
	"OpenEA-Agent/internal/evals"
	"OpenEA-Agent/internal/knowledge"
	"OpenEA-Agent/internal/storage"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
)

// heading 输出带样式的小节标题。
func heading(w io.Writer, title string) {
	fmt.Fprintln(w, headingStyle.Render(title))
}

// compact 把非字符串的明细压缩成单行 JSON。
func compact(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

func renderResult(w io.Writer, res *agent.Result) {
	heading(w, "Plan")
	fmt.Fprintln(w, res.Plan)
	fmt.Fprintln(w)

	heading(w, "Trace")
	for _, e := range res.Trace {
		line := fmt.Sprintf("- %s: %s", e.Title, compact(e.Detail))
		if e.Failed {
			line = failStyle.Render(line)
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)

	heading(w, "Artifacts")
	if len(res.Artifacts) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("(none)"))
	}
	for _, a := range res.Artifacts {
		fmt.Fprintf(w, "- %s: %s\n", a.Key, compact(a.Value))
		if len(a.Citations) > 0 {
			fmt.Fprintln(w, mutedStyle.Render("  citations: "+strings.Join(a.Citations, ", ")))
		}
	}
}

func renderAnswer(w io.Writer, ans knowledge.Answer) {
	heading(w, "Answer")
	fmt.Fprintln(w, ans.Text)
	if len(ans.Citations) > 0 {
		fmt.Fprintln(w, mutedStyle.Render("citations: "+strings.Join(ans.Citations, ", ")))
	}
}

func renderApprovals(w io.Writer, title string, list []storage.Approval) {
	heading(w, title)
	if len(list) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("(none)"))
		return
	}
	for _, a := range list {
		fmt.Fprintf(w, "#%d [%s] %s\n", a.ID, a.Action, a.Summary)
	}
}

func renderEval(w io.Writer, s evals.Summary) {
	heading(w, fmt.Sprintf("Eval: %d/%d passed", s.Passed, s.Total))
	for _, r := range s.Rows {
		line := fmt.Sprintf("%s need=%v got=%v", r.Name, r.Need, r.Got)
		if r.Error != "" {
			line += " error=" + r.Error
		}
		if r.OK {
			fmt.Fprintln(w, "ok   "+line)
		} else {
			fmt.Fprintln(w, failStyle.Render("FAIL "+line))
		}
	}
}
