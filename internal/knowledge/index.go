package knowledge

import "sort"

// Entry 对应文档中的一个句子。
type Entry struct {
	Doc      *Document
	Position int
	Sentence string
	Tokens   []string

	tokens  map[string]struct{}
	bigrams map[bigram]struct{}
}

// Index 是构建后只读的句子索引，可被任意数量的查询并发读取。
type Index struct {
	docs    []*Document
	entries []Entry
}

// NewIndex 根据文档顺序构建索引，条目顺序即发现顺序。
func NewIndex(docs []*Document) *Index {
	idx := &Index{docs: docs}
	for _, doc := range docs {
		for i, sentence := range doc.Sentences {
			tokens := tokenize(sentence)
			idx.entries = append(idx.entries, Entry{
				Doc:      doc,
				Position: i,
				Sentence: sentence,
				Tokens:   tokens,
				tokens:   tokenSet(tokens),
				bigrams:  bigramSet(tokens),
			})
		}
	}
	return idx
}

// Len 返回索引中的句子数量。
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.entries)
}

// Documents 返回已索引的文档数量。
func (idx *Index) Documents() int {
	if idx == nil {
		return 0
	}
	return len(idx.docs)
}

// Hit 是一条带分数的检索结果。
type Hit struct {
	Entry *Entry
	Score float64
}

// Search 计算词重叠与二元组加分，按分数降序稳定排序后取前 topK。
func (idx *Index) Search(question string, topK int) []Hit {
	if idx.Len() == 0 || topK <= 0 {
		return nil
	}

	var filtered []string
	for _, t := range tokenize(question) {
		if len(t) > 2 {
			filtered = append(filtered, t)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	qTokens := tokenSet(filtered)
	qBigrams := bigramSet(filtered)

	hits := make([]Hit, 0)
	for i := range idx.entries {
		entry := &idx.entries[i]
		overlap := 0
		for t := range qTokens {
			if _, ok := entry.tokens[t]; ok {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		shared := 0
		for b := range qBigrams {
			if _, ok := entry.bigrams[b]; ok {
				shared++
			}
		}
		hits = append(hits, Hit{Entry: entry, Score: float64(overlap) + 0.5*float64(shared)})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// Context 返回以命中句为中心、前后各 window 句的上下文。
func (e *Entry) Context(window int) []string {
	if window < 0 {
		window = 0
	}
	sentences := e.Doc.Sentences
	start := e.Position - window
	if start < 0 {
		start = 0
	}
	end := e.Position + window + 1
	if end > len(sentences) {
		end = len(sentences)
	}
	return sentences[start:end]
}
