package storage

import (
	"context"
	"sort"
	"strings"

	"github.com/oklog/ulid/v2"
)

// NotePrefix 是笔记在 KV 中的键前缀。
const NotePrefix = "note:"

// Note 是一条会话笔记。
type Note struct {
	Key  string `json:"key"`
	Note string `json:"note"`
}

// AddNote 以可按时间排序的 ULID 作为键写入笔记。
func AddNote(ctx context.Context, kv KV, user, text string) (string, error) {
	key := NotePrefix + ulid.Make().String()
	if err := kv.Set(ctx, user, key, text); err != nil {
		return "", err
	}
	return key, nil
}

// ListNotes 返回用户的笔记，最新的在前。
func ListNotes(ctx context.Context, kv KV, user string) ([]Note, error) {
	entries, err := kv.List(ctx, user, NotePrefix)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return strings.Compare(entries[i].Key, entries[j].Key) > 0 })
	notes := make([]Note, 0, len(entries))
	for _, e := range entries {
		notes = append(notes, Note{Key: e.Key, Note: e.Value})
	}
	return notes, nil
}
