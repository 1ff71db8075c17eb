package knowledge

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	xerrors "OpenEA-Agent/internal/errors"
)

func writeDoc(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestAnswerCitesExpensePolicy(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "expense_policy.md", "Expenses require manager approval. Receipts must be attached.")

	engine, err := NewEngine(dir)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ans := engine.Answer("What is the expense approval policy?")
	if !reflect.DeepEqual(ans.Citations, []string{"expense_policy.md"}) {
		t.Fatalf("unexpected citations: %v", ans.Citations)
	}
	if !strings.Contains(ans.Text, "approval") {
		t.Fatalf("answer should mention approval: %q", ans.Text)
	}
	want := "Grounded answer:\n“Expenses require manager approval. Receipts must be attached.”  — expense_policy.md"
	if ans.Text != want {
		t.Fatalf("unexpected answer:\n%q\nwant\n%q", ans.Text, want)
	}
}

func TestAnswerEmptyCollection(t *testing.T) {
	engine, err := NewEngine(t.TempDir())
	if !xerrors.HasCode(err, xerrors.CodeConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	for _, q := range []string{"", "What is the expense policy?", "anything"} {
		ans := engine.Answer(q)
		if ans.Text != NoDocumentsMessage || len(ans.Citations) != 0 {
			t.Fatalf("query %q: unexpected answer %+v", q, ans)
		}
	}
}

func TestAnswerMissingDirectoryDegrades(t *testing.T) {
	engine, err := NewEngine(filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Fatalf("expected error for missing directory")
	}
	if ans := engine.Answer("policy"); ans.Text != NoDocumentsMessage {
		t.Fatalf("unexpected answer: %+v", ans)
	}
}

func TestAnswerNoMatch(t *testing.T) {
	engine := NewEngineFromDocuments([]*Document{NewDocument("a.md", "Travel is booked through the portal.")})
	ans := engine.Answer("Who approves hardware?")
	if ans.Text != NoMatchMessage || len(ans.Citations) != 0 {
		t.Fatalf("unexpected answer: %+v", ans)
	}
	// 两个字符以内的词元会被忽略。
	if ans := engine.Answer("is it to be"); ans.Text != NoMatchMessage {
		t.Fatalf("short tokens should not match: %+v", ans)
	}
}

func TestSearchBigramBonusAndStableTies(t *testing.T) {
	docs := []*Document{
		NewDocument("a.md", "Manager reviews travel. Approval manager needed."),
		NewDocument("b.md", "Manager approval is required."),
	}
	idx := NewIndex(docs)
	hits := idx.Search("manager approval", 3)
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}
	// b.md 同时命中二元组，得分最高。
	if hits[0].Entry.Doc.Name != "b.md" || hits[0].Score != 2.5 {
		t.Fatalf("unexpected top hit: %s %.1f", hits[0].Entry.Doc.Name, hits[0].Score)
	}
	if hits[1].Entry.Sentence != "Approval manager needed." || hits[1].Score != 2 {
		t.Fatalf("unexpected second hit: %+v", hits[1].Entry.Sentence)
	}
	if hits[2].Entry.Sentence != "Manager reviews travel." || hits[2].Score != 1 {
		t.Fatalf("unexpected third hit: %+v", hits[2].Entry.Sentence)
	}
}

func TestSearchTopKAndWindow(t *testing.T) {
	text := "Alpha intro. Budget limits apply. Budget owners sign. Closing note. Budget review monthly."
	engine := NewEngineFromDocuments([]*Document{NewDocument("doc.txt", text)}, WithTopK(2), WithWindow(1))
	snippets := engine.Query("budget")
	if len(snippets) != 2 {
		t.Fatalf("expected top 2, got %d", len(snippets))
	}
	if snippets[0].Content != "Alpha intro. Budget limits apply. Budget owners sign." {
		t.Fatalf("unexpected window: %q", snippets[0].Content)
	}
	if snippets[1].Content != "Budget limits apply. Budget owners sign. Closing note." {
		t.Fatalf("unexpected window: %q", snippets[1].Content)
	}

	engine = NewEngineFromDocuments([]*Document{NewDocument("doc.txt", text)}, WithTopK(5), WithWindow(0))
	snippets = engine.Query("budget")
	if len(snippets) != 3 || snippets[2].Content != "Budget review monthly." {
		t.Fatalf("unexpected snippets: %+v", snippets)
	}
}

func TestCitationsUniqueInFirstAppearanceOrder(t *testing.T) {
	engine := NewEngineFromDocuments([]*Document{
		NewDocument("b.md", "Receipts are mandatory. Receipts expire."),
		NewDocument("a.md", "Receipts go to finance."),
	})
	ans := engine.Answer("receipts")
	if !reflect.DeepEqual(ans.Citations, []string{"b.md", "a.md"}) {
		t.Fatalf("unexpected citations: %v", ans.Citations)
	}
}

func TestLoaderOrdersByPathAndSkipsUnsupported(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "z.txt", "Policy zeta applies.")
	writeDoc(t, dir, "nested/a.md", "Policy alpha applies.")
	writeDoc(t, dir, "notes.json", `{"policy": "ignored"}`)

	engine, err := NewEngine(dir)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if docs, sentences := engine.Stats(); docs != 2 || sentences != 2 {
		t.Fatalf("unexpected stats: %d docs %d sentences", docs, sentences)
	}
	ans := engine.Answer("policy applies")
	if !reflect.DeepEqual(ans.Citations, []string{"a.md", "z.txt"}) {
		t.Fatalf("unexpected citations: %v", ans.Citations)
	}
}

func TestRefreshSwapsIndex(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "one.md", "Laptops are refreshed every three years.")
	engine, err := NewEngine(dir)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				ans := engine.Answer("laptops refreshed")
				if ans.Text == NoDocumentsMessage {
					t.Errorf("reader observed an empty index")
					return
				}
			}
		}()
	}
	writeDoc(t, dir, "two.md", "Laptops are insured.")
	if err := engine.Refresh(); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	wg.Wait()

	if docs, _ := engine.Stats(); docs != 2 {
		t.Fatalf("expected two documents after refresh, got %d", docs)
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("  First line.\nSecond   line!  Third? trailing")
	want := []string{"First line.", "Second line!", "Third?", "trailing"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected sentences: %v", got)
	}
	if got := tokenize("Don't SHIP v2.0-beta"); !reflect.DeepEqual(got, []string{"don't", "ship", "v2", "0", "beta"}) {
		t.Fatalf("unexpected tokens: %v", got)
	}
}
