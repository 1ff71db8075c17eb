package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	xerrors "OpenEA-Agent/internal/errors"
	"OpenEA-Agent/internal/storage"
)

// Config 描述 Redis 连接参数。
type Config struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// SessionStore 把每个用户的会话 KV 存为一个 Redis hash，Reset 通过单条 DEL 原子完成。
type SessionStore struct {
	client *goredis.Client
	prefix string
}

// NewSessionStore 连接 Redis 并校验可用性。
func NewSessionStore(ctx context.Context, cfg Config) (*SessionStore, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "Redis address 不能为空")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return NewSessionStoreWithClient(client, cfg.Prefix), nil
}

// NewSessionStoreWithClient 复用已有的客户端。
func NewSessionStoreWithClient(client *goredis.Client, prefix string) *SessionStore {
	if prefix == "" {
		prefix = "eagent:"
	}
	return &SessionStore{client: client, prefix: prefix}
}

func (s *SessionStore) key(user string) string {
	return fmt.Sprintf("%ssession:%s", s.prefix, user)
}

// Get 实现 storage.KV。
func (s *SessionStore) Get(ctx context.Context, user, key string) (string, bool, error) {
	v, err := s.client.HGet(ctx, s.key(user), key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取会话数据失败")
	}
	return v, true, nil
}

// Set 实现 storage.KV。
func (s *SessionStore) Set(ctx context.Context, user, key, value string) error {
	if err := s.client.HSet(ctx, s.key(user), key, value).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入会话数据失败")
	}
	return nil
}

// List 实现 storage.KV。
func (s *SessionStore) List(ctx context.Context, user, prefix string) ([]storage.KVEntry, error) {
	all, err := s.client.HGetAll(ctx, s.key(user)).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话数据失败")
	}
	entries := make([]storage.KVEntry, 0, len(all))
	for k, v := range all {
		if strings.HasPrefix(k, prefix) {
			entries = append(entries, storage.KVEntry{Key: k, Value: v})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// Reset 实现 storage.KV。
func (s *SessionStore) Reset(ctx context.Context, user string) error {
	if err := s.client.Del(ctx, s.key(user)).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "重置会话失败")
	}
	return nil
}

// Close 关闭 Redis 连接。
func (s *SessionStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

var _ storage.KV = (*SessionStore)(nil)
