package knowledge

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"OpenEA-Agent/pkg/logger"
)

// extractor 从文件中提取纯文本。
type extractor func(path string) (string, error)

var extractors = map[string]extractor{
	".md":  readPlain,
	".txt": readPlain,
	".pdf": readPDF,
}

// Document 是一份已切分为句子的文档。
type Document struct {
	Name      string
	Path      string
	Sentences []string
}

// loadDocuments 递归扫描目录，按路径字典序返回支持格式的文档。
// 单个文件读取失败只记录日志并跳过。
func loadDocuments(dir string) ([]*Document, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("读取知识库目录失败: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("知识库路径不是目录: %s", dir)
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := extractors[strings.ToLower(filepath.Ext(path))]; ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("遍历知识库目录失败: %w", err)
	}
	sort.Strings(paths)

	log := logger.Named("knowledge")
	docs := make([]*Document, 0, len(paths))
	for _, path := range paths {
		text, err := extractors[strings.ToLower(filepath.Ext(path))](path)
		if err != nil {
			log.Warn("跳过无法读取的文档", "path", path, "error", err)
			continue
		}
		sentences := splitSentences(text)
		if len(sentences) == 0 {
			continue
		}
		docs = append(docs, &Document{Name: filepath.Base(path), Path: path, Sentences: sentences})
	}
	return docs, nil
}

func readPlain(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(bytes.ToValidUTF8(content, nil)), nil
}

func readPDF(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}
