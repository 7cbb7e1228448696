package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rushteam/movierec/core"
)

// BlobStore 是 checkpoint 的二进制块存储。
// Put 必须原子可见：并发的 Get 只会读到旧值或完整的新值。
// Get 不存在时返回 core.ErrStoreNotFound。
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// FileBlobStore 把每个块存为目录下的一个文件，写入走 临时文件 + fsync + rename。
type FileBlobStore struct {
	Dir string
}

func NewFileBlobStore(dir string) (*FileBlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: mkdir %s: %w", dir, err)
	}
	return &FileBlobStore{Dir: dir}, nil
}

func (s *FileBlobStore) path(key string) (string, error) {
	if key == "" || key != filepath.Base(key) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("checkpoint: invalid blob key %q", key)
	}
	return filepath.Join(s.Dir, key), nil
}

func (s *FileBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, core.ErrStoreNotFound
	}
	return b, err
}

func (s *FileBlobStore) Put(ctx context.Context, key string, data []byte) (err error) {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.Dir, "."+key+".tmp-*")
	if err != nil {
		return fmt.Errorf("checkpoint: create temp: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("checkpoint: write %s: %w", key, err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("checkpoint: fsync %s: %w", key, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("checkpoint: close %s: %w", key, err)
	}
	if err = os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("checkpoint: rename %s: %w", key, err)
	}
	if d, derr := os.Open(s.Dir); derr == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

func (s *FileBlobStore) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// KVBlobStore 把块存进 core.Store（MemoryStore / RedisStore / BadgerStore）。
// 单 key 写入在这些后端上都是原子的。
type KVBlobStore struct {
	Store  core.Store
	Prefix string
}

func NewKVBlobStore(s core.Store, prefix string) *KVBlobStore {
	return &KVBlobStore{Store: s, Prefix: prefix}
}

func (s *KVBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.Store.Get(ctx, s.Prefix+key)
}

func (s *KVBlobStore) Put(ctx context.Context, key string, data []byte) error {
	return s.Store.Set(ctx, s.Prefix+key, data)
}

func (s *KVBlobStore) Delete(ctx context.Context, key string) error {
	return s.Store.Delete(ctx, s.Prefix+key)
}
