// Package evals 运行 YAML 描述的端到端场景，检查每个任务是否产出了期望的产物。
package evals

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"OpenEA-Agent/internal/agent"
	xerrors "OpenEA-Agent/internal/errors"
	"OpenEA-Agent/pkg/logger"
)

// DefaultUser 是评测使用的用户。
const DefaultUser = "eval-user"

// Scenario 描述一个评测场景。
type Scenario struct {
	Name    string      `yaml:"name" json:"name"`
	Task    string      `yaml:"task" json:"task"`
	Expects Expectation `yaml:"expects" json:"expects"`
}

// Expectation 列出场景必须产出的产物名称。
type Expectation struct {
	Artifacts []string `yaml:"artifacts" json:"artifacts"`
}

// Row 是单个场景的评测结果。
type Row struct {
	Name  string   `json:"name"`
	OK    bool     `json:"ok"`
	Need  []string `json:"need"`
	Got   []string `json:"got"`
	Error string   `json:"error,omitempty"`
}

// Summary 汇总全部场景。
type Summary struct {
	Passed int   `json:"passed"`
	Total  int   `json:"total"`
	Rows   []Row `json:"rows"`
}

// Executor 是评测驱动的编排器。
type Executor interface {
	Execute(ctx context.Context, user, task string) (*agent.Result, error)
}

// ParseScenarios 解析 YAML 场景列表。
func ParseScenarios(data []byte) ([]Scenario, error) {
	var scenarios []Scenario
	if err := yaml.Unmarshal(data, &scenarios); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析评测场景失败")
	}
	for i, sc := range scenarios {
		if strings.TrimSpace(sc.Task) == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("第 %d 个场景缺少 task", i+1))
		}
		if sc.Name == "" {
			scenarios[i].Name = fmt.Sprintf("scenario-%d", i+1)
		}
	}
	return scenarios, nil
}

// LoadScenarios 从文件读取场景。
func LoadScenarios(path string) ([]Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "读取评测场景失败")
	}
	return ParseScenarios(data)
}

// Run 依次执行场景。产物名称集合包含全部期望名称即视为通过；执行报错的场景记为失败并继续。
func Run(ctx context.Context, exec Executor, user string, scenarios []Scenario) (Summary, error) {
	if exec == nil {
		return Summary{}, xerrors.New(xerrors.CodeInitializationFailure, "未配置编排器")
	}
	if strings.TrimSpace(user) == "" {
		user = DefaultUser
	}
	summary := Summary{Rows: make([]Row, 0, len(scenarios))}
	for _, sc := range scenarios {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Total++
		row := Row{Name: sc.Name, Need: uniqueSorted(sc.Expects.Artifacts)}

		res, err := exec.Execute(ctx, user, sc.Task)
		if err != nil {
			row.Error = err.Error()
			row.Got = []string{}
			summary.Rows = append(summary.Rows, row)
			logger.L().Warn("评测场景执行失败", slog.String("scenario", sc.Name), slog.Any("error", err))
			continue
		}
		row.Got = uniqueSorted(res.ArtifactKeys())
		row.OK = subset(row.Need, row.Got)
		if row.OK {
			summary.Passed++
		}
		summary.Rows = append(summary.Rows, row)
	}
	return summary, nil
}

// Write 以纯文本输出评测摘要。
func (s Summary) Write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "=== Eval Summary ===\npassed: %d/%d\n", s.Passed, s.Total); err != nil {
		return err
	}
	for _, r := range s.Rows {
		status := "ok"
		if !r.OK {
			status = "FAIL"
		}
		line := fmt.Sprintf("%-4s %s need=%v got=%v", status, r.Name, r.Need, r.Got)
		if r.Error != "" {
			line += " error=" + r.Error
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func subset(need, got []string) bool {
	have := make(map[string]struct{}, len(got))
	for _, g := range got {
		have[g] = struct{}{}
	}
	for _, n := range need {
		if _, ok := have[n]; !ok {
			return false
		}
	}
	return true
}
