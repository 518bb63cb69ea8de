package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"clicksync/internal/store"
)

// FileSlot keeps the credential in a single file on disk.
type FileSlot struct {
	Path string
}

func (s FileSlot) Name() string { return "file:" + s.Path }

func (s FileSlot) Load(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrEmptySlot
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Save replaces the file atomically so a crash never leaves a half-written
// credential behind.
func (s FileSlot) Save(ctx context.Context, data []byte) error {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".credential-*")
	if err != nil {
		return fmt.Errorf("create temp credential: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write credential: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.Path)
}

func (s FileSlot) Delete(ctx context.Context) error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// PostgresSlot keeps the credential in the oauth_credentials table.
type PostgresSlot struct {
	Store *store.Store
	Key   string
}

func (s PostgresSlot) Name() string { return "postgres:" + s.Key }

func (s PostgresSlot) Load(ctx context.Context) ([]byte, error) {
	data, err := s.Store.LoadCredential(ctx, s.Key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrEmptySlot
	}
	return data, err
}

func (s PostgresSlot) Save(ctx context.Context, data []byte) error {
	return s.Store.SaveCredential(ctx, s.Key, data)
}

func (s PostgresSlot) Delete(ctx context.Context) error {
	return s.Store.DeleteCredential(ctx, s.Key)
}

// RedisSlot keeps the credential under a single redis key.
type RedisSlot struct {
	Client *redis.Client
	Key    string
}

func NewRedisSlot(url, key string) (*RedisSlot, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisSlot{Client: redis.NewClient(opts), Key: key}, nil
}

func (s *RedisSlot) Name() string { return "redis:" + s.Key }

func (s *RedisSlot) Load(ctx context.Context) ([]byte, error) {
	data, err := s.Client.Get(ctx, s.Key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmptySlot
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.Key, err)
	}
	return data, nil
}

func (s *RedisSlot) Save(ctx context.Context, data []byte) error {
	if err := s.Client.Set(ctx, s.Key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.Key, err)
	}
	return nil
}

func (s *RedisSlot) Delete(ctx context.Context) error {
	if err := s.Client.Del(ctx, s.Key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", s.Key, err)
	}
	return nil
}

func (s *RedisSlot) Close() error {
	return s.Client.Close()
}
