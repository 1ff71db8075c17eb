package knowledge

import (
	"regexp"
	"strings"
)

var wordPattern = regexp.MustCompile(`[A-Za-z0-9']+`)

// splitSentences 先折叠空白，再在 . ! ? 之后的空白处切分。
func splitSentences(text string) []string {
	collapsed := strings.Join(strings.Fields(text), " ")
	if collapsed == "" {
		return nil
	}

	var sentences []string
	start := 0
	for i := 0; i+1 < len(collapsed); i++ {
		switch collapsed[i] {
		case '.', '!', '?':
			if collapsed[i+1] == ' ' {
				if s := strings.TrimSpace(collapsed[start : i+1]); s != "" {
					sentences = append(sentences, s)
				}
				start = i + 2
			}
		}
	}
	if start < len(collapsed) {
		if s := strings.TrimSpace(collapsed[start:]); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// tokenize 返回小写的字母数字词元，保留撇号。
func tokenize(s string) []string {
	words := wordPattern.FindAllString(s, -1)
	for i, w := range words {
		words[i] = strings.ToLower(w)
	}
	return words
}

type bigram struct {
	first  string
	second string
}

func bigramSet(tokens []string) map[bigram]struct{} {
	if len(tokens) < 2 {
		return nil
	}
	set := make(map[bigram]struct{}, len(tokens)-1)
	for i := 0; i+1 < len(tokens); i++ {
		set[bigram{tokens[i], tokens[i+1]}] = struct{}{}
	}
	return set
}

func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}
