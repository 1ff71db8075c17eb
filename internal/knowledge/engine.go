// Package knowledge 在私有文档集合上提供基于词法重叠的引用式问答。
package knowledge

import (
	"fmt"
	"strings"
	"sync/atomic"

	xerrors "OpenEA-Agent/internal/errors"
	"OpenEA-Agent/pkg/logger"
)

const (
	// NoDocumentsMessage 是知识库为空时的固定回答。
	NoDocumentsMessage = "No documents loaded in KB. Add a .md or .txt or .pdf file to kb/."
	// NoMatchMessage 是没有任何句子命中时的固定回答。
	NoMatchMessage = "No direct sentence match found in KB. Rephrase the question or add policy text to kb/."

	answerPrefix = "Grounded answer:\n"

	defaultTopK   = 3
	defaultWindow = 1
)

// Provider 定义知识库检索的通用接口。
type Provider interface {
	Query(question string) []Snippet
}

// Snippet 描述一段带出处的上下文。
type Snippet struct {
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Answer 是引用式回答。Citations 按首次出现顺序去重。
type Answer struct {
	Text      string   `json:"answer"`
	Citations []string `json:"citations"`
}

// Engine 持有当前索引，Refresh 时整体替换，查询只会看到完整的旧索引或新索引。
type Engine struct {
	dir    string
	topK   int
	window int
	index  atomic.Pointer[Index]
}

// Option 定义 Engine 的可选配置。
type Option func(*Engine)

// WithTopK 设置返回的结果数量。
func WithTopK(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.topK = k
		}
	}
}

// WithWindow 设置命中句前后保留的句子数量，0 表示只保留命中句。
func WithWindow(w int) Option {
	return func(e *Engine) {
		if w >= 0 {
			e.window = w
		}
	}
}

// NewEngine 从目录构建引擎。目录不可读或为空时返回可用的空引擎和配置错误，
// 调用方可以只记录错误继续运行。
func NewEngine(dir string, opts ...Option) (*Engine, error) {
	e := &Engine{dir: dir, topK: defaultTopK, window: defaultWindow}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.index.Store(NewIndex(nil))
	return e, e.Refresh()
}

// NewEngineFromDocuments 使用内存中的文档构建引擎，主要用于测试和嵌入场景。
func NewEngineFromDocuments(docs []*Document, opts ...Option) *Engine {
	e := &Engine{topK: defaultTopK, window: defaultWindow}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.index.Store(NewIndex(docs))
	return e
}

// NewDocument 把原始文本切分为文档。
func NewDocument(name, text string) *Document {
	return &Document{Name: name, Path: name, Sentences: splitSentences(text)}
}

// Refresh 重新扫描目录并原子替换索引。失败时保留旧索引。
func (e *Engine) Refresh() error {
	if strings.TrimSpace(e.dir) == "" {
		return xerrors.New(xerrors.CodeConfiguration, "未配置知识库目录")
	}
	docs, err := loadDocuments(e.dir)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeConfiguration, err, "加载知识库失败")
	}
	idx := NewIndex(docs)
	e.index.Store(idx)

	logger.Named("knowledge").Info("知识库索引已构建",
		"dir", e.dir,
		"documents", idx.Documents(),
		"sentences", idx.Len())

	if idx.Len() == 0 {
		return xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("知识库目录中没有可用文档: %s", e.dir))
	}
	return nil
}

// Stats 返回当前索引的文档数与句子数。
func (e *Engine) Stats() (documents, sentences int) {
	idx := e.index.Load()
	return idx.Documents(), idx.Len()
}

// Query 返回排序后的上下文片段。
func (e *Engine) Query(question string) []Snippet {
	hits := e.index.Load().Search(question, e.topK)
	snippets := make([]Snippet, 0, len(hits))
	for _, hit := range hits {
		snippets = append(snippets, Snippet{
			Title:   hit.Entry.Doc.Name,
			Content: strings.TrimSpace(strings.Join(hit.Entry.Context(e.window), " ")),
			Score:   hit.Score,
		})
	}
	return snippets
}

// Answer 生成带引用的回答。
func (e *Engine) Answer(question string) Answer {
	if e.index.Load().Len() == 0 {
		return Answer{Text: NoDocumentsMessage, Citations: []string{}}
	}
	snippets := e.Query(question)
	if len(snippets) == 0 {
		return Answer{Text: NoMatchMessage, Citations: []string{}}
	}

	parts := make([]string, 0, len(snippets))
	citations := make([]string, 0, len(snippets))
	seen := make(map[string]struct{}, len(snippets))
	for _, s := range snippets {
		parts = append(parts, fmt.Sprintf("“%s”  — %s", s.Content, s.Title))
		if _, ok := seen[s.Title]; !ok {
			seen[s.Title] = struct{}{}
			citations = append(citations, s.Title)
		}
	}
	return Answer{Text: answerPrefix + strings.Join(parts, "\n\n"), Citations: citations}
}

var _ Provider = (*Engine)(nil)
