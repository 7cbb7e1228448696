package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/model"
	"github.com/rushteam/movierec/store"
)

func memBlobs(t *testing.T) BlobStore {
	t.Helper()
	ms := store.NewMemoryStore()
	t.Cleanup(func() { _ = ms.Close() })
	return NewKVBlobStore(ms, "ckpt:")
}

func TestLoadFreshWhenNoCheckpoint(t *testing.T) {
	mgr := NewRecallManager(memBlobs(t), 4)
	l, err := mgr.Load(context.Background(), core.Bounds{Users: 3, Items: 10})
	require.NoError(t, err)
	assert.True(t, l.Fresh)
	assert.Equal(t, int64(0), l.Version)
	assert.Equal(t, 3+DefaultBuffer, l.Model.User.Rows)
	assert.Equal(t, 10+DefaultBuffer, l.Model.Item.Rows)
	assert.Equal(t, 4, l.Model.Dim())

	_, err = mgr.Manifest(context.Background())
	assert.ErrorIs(t, err, ErrNoCheckpoint)
}

func TestGrowthKeepsLearnedRowsBitIdentical(t *testing.T) {
	ctx := context.Background()
	blobs := memBlobs(t)
	mgr := NewRecallManager(blobs, 4, WithSeed(7))

	first, err := mgr.Load(ctx, core.Bounds{Users: 3, Items: 5})
	require.NoError(t, err)
	m := first.Model
	for i := range m.User.Data {
		m.User.Data[i] = float32(i)*0.125 + 1e-7
	}
	man, err := mgr.Save(ctx, m, core.Bounds{Users: 3, Items: 5}, first.Version)
	require.NoError(t, err)
	assert.Equal(t, int64(1), man.Version)

	grown, err := mgr.Load(ctx, core.Bounds{Users: 10, Items: 5})
	require.NoError(t, err)
	assert.False(t, grown.Fresh)
	assert.Equal(t, int64(1), grown.Version)
	assert.Equal(t, 12, grown.Model.User.Rows)
	assert.Equal(t, 7, grown.Model.Item.Rows)
	assert.Equal(t, [2]int{5, 12}, grown.Grown[model.TwoTowerUserTable])
	assert.NotContains(t, grown.Grown, model.TwoTowerItemTable)

	old := m.User.Data
	assert.Equal(t, old, grown.Model.User.Data[:len(old)], "learned rows must be copied bit for bit")
	assert.Equal(t, m.Item.Data, grown.Model.Item.Data)

	// 新行是随机初始化，不是全零
	var nonZero bool
	for _, v := range grown.Model.User.Data[len(old):] {
		if v != 0 {
			nonZero = true
			break
		}
	}
	assert.True(t, nonZero)

	// 新用户可以查表，原来会越界
	_, err = m.UserVector(9)
	assert.True(t, core.IsOutOfRange(err))
	_, err = grown.Model.UserVector(9)
	assert.NoError(t, err)
}

func TestLoadNeverShrinks(t *testing.T) {
	ctx := context.Background()
	mgr := NewRecallManager(memBlobs(t), 2)
	l, err := mgr.Load(ctx, core.Bounds{Users: 20, Items: 20})
	require.NoError(t, err)
	_, err = mgr.Save(ctx, l.Model, l.Bounds, 0)
	require.NoError(t, err)

	again, err := mgr.Load(ctx, core.Bounds{Users: 1, Items: 1})
	require.NoError(t, err)
	assert.Equal(t, 22, again.Model.User.Rows)
	assert.Empty(t, again.Grown)
	assert.Equal(t, l.Model.User.Data, again.Model.User.Data)
}

func TestLoadedModelsDoNotShareMemory(t *testing.T) {
	ctx := context.Background()
	mgr := NewRecallManager(memBlobs(t), 2)
	l, err := mgr.Load(ctx, core.Bounds{Users: 2, Items: 2})
	require.NoError(t, err)
	_, err = mgr.Save(ctx, l.Model, l.Bounds, 0)
	require.NoError(t, err)

	a, err := mgr.Load(ctx, l.Bounds)
	require.NoError(t, err)
	b, err := mgr.Load(ctx, l.Bounds)
	require.NoError(t, err)
	a.Model.User.Data[0] = 42
	assert.NotEqual(t, float32(42), b.Model.User.Data[0])
}

func TestSavePrunesOldVersions(t *testing.T) {
	ctx := context.Background()
	blobs := memBlobs(t)
	mgr := NewRecallManager(blobs, 2)
	l, err := mgr.Load(ctx, core.Bounds{Users: 1, Items: 1})
	require.NoError(t, err)

	var version int64
	for i := 0; i < 3; i++ {
		man, err := mgr.Save(ctx, l.Model, l.Bounds, version)
		require.NoError(t, err)
		version = man.Version
	}
	assert.Equal(t, int64(3), version)

	_, err = blobs.Get(ctx, blobKey(RecallName, 1))
	assert.True(t, core.IsStoreNotFound(err))
	_, err = blobs.Get(ctx, blobKey(RecallName, 2))
	assert.NoError(t, err)
	_, err = blobs.Get(ctx, blobKey(RecallName, 3))
	assert.NoError(t, err)

	man, err := mgr.Manifest(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), man.Version)
	assert.Equal(t, blobKey(RecallName, 3), man.Blob)
	assert.Len(t, man.Tensors, 2)
}

// tamper 保存一个合法 checkpoint 后用 mutate 改写载荷。
func tamper(t *testing.T, blobs BlobStore, mutate func(c *Checkpoint)) *Manager[*model.TwoTower] {
	t.Helper()
	ctx := context.Background()
	mgr := NewRecallManager(blobs, 4)
	l, err := mgr.Load(ctx, core.Bounds{Users: 3, Items: 3})
	require.NoError(t, err)
	man, err := mgr.Save(ctx, l.Model, l.Bounds, 0)
	require.NoError(t, err)

	b, err := blobs.Get(ctx, man.Blob)
	require.NoError(t, err)
	c, err := Decode(b)
	require.NoError(t, err)
	mutate(c)
	b, err = Encode(c)
	require.NoError(t, err)
	require.NoError(t, blobs.Put(ctx, man.Blob, b))
	return mgr
}

func TestLoadCorrupt(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Checkpoint)
	}{
		{"missing tensor", func(c *Checkpoint) { c.Tensors = c.Tensors[:1] }},
		{"extra tensor", func(c *Checkpoint) {
			c.Tensors = append(c.Tensors, model.NewTensor("bogus", 1, 1))
		}},
		{"duplicate tensor", func(c *Checkpoint) {
			c.Tensors = append(c.Tensors, c.Tensors[0])
		}},
		{"embedding dim mismatch", func(c *Checkpoint) {
			t := c.Tensors[0]
			c.Tensors[0] = model.NewTensor(t.Name, t.Rows, t.Cols+1)
		}},
		{"version mismatch", func(c *Checkpoint) { c.Version = 9 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mgr := tamper(t, memBlobs(t), tc.mutate)
			_, err := mgr.Load(context.Background(), core.Bounds{Users: 3, Items: 3})
			require.Error(t, err)
			assert.True(t, core.IsCheckpointCorrupt(err), "got %v", err)
		})
	}
}

func TestLoadUndecodablePayload(t *testing.T) {
	ctx := context.Background()
	blobs := memBlobs(t)
	mgr := NewRecallManager(blobs, 4)
	l, err := mgr.Load(ctx, core.Bounds{Users: 1, Items: 1})
	require.NoError(t, err)
	man, err := mgr.Save(ctx, l.Model, l.Bounds, 0)
	require.NoError(t, err)
	require.NoError(t, blobs.Put(ctx, man.Blob, []byte("{not json")))

	_, err = mgr.Load(ctx, l.Bounds)
	assert.True(t, core.IsCheckpointCorrupt(err))
}

func TestLoadManifestReferencesMissingBlob(t *testing.T) {
	ctx := context.Background()
	blobs := memBlobs(t)
	mgr := NewRecallManager(blobs, 4)
	l, err := mgr.Load(ctx, core.Bounds{Users: 1, Items: 1})
	require.NoError(t, err)
	man, err := mgr.Save(ctx, l.Model, l.Bounds, 0)
	require.NoError(t, err)
	require.NoError(t, blobs.Delete(ctx, man.Blob))

	_, err = mgr.Load(ctx, l.Bounds)
	assert.True(t, core.IsCheckpointCorrupt(err))
}

func TestRankArchitectureChangeIsCorrupt(t *testing.T) {
	ctx := context.Background()
	blobs := memBlobs(t)
	small := NewRankManager(blobs, model.DeepFMConfig{EmbedDim: 4, Hidden: 8, NumDense: 2})
	l, err := small.Load(ctx, core.Bounds{Users: 2, Items: 2, Categories: 2})
	require.NoError(t, err)
	_, err = small.Save(ctx, l.Model, l.Bounds, 0)
	require.NoError(t, err)

	// 隐层变宽：mlp.w1 是固定形状张量，不能增长
	wide := NewRankManager(blobs, model.DeepFMConfig{EmbedDim: 4, Hidden: 16, NumDense: 2})
	_, err = wide.Load(ctx, l.Bounds)
	assert.True(t, core.IsCheckpointCorrupt(err))

	// 同一结构、更大的词表可以正常增长四个 field 的表
	same := NewRankManager(blobs, model.DeepFMConfig{EmbedDim: 4, Hidden: 8, NumDense: 2})
	grown, err := same.Load(ctx, core.Bounds{Users: 5, Items: 9, Categories: 3})
	require.NoError(t, err)
	assert.Equal(t, 7, grown.Model.Embeddings[0].Rows)
	assert.Equal(t, 11, grown.Model.Embeddings[1].Rows)
	assert.Equal(t, 5, grown.Model.Embeddings[2].Rows)
	assert.Equal(t, 5, grown.Model.Embeddings[3].Rows)
	assert.Equal(t, l.Model.MLP.W1.Data, grown.Model.MLP.W1.Data)
}

func TestCorruptManifest(t *testing.T) {
	ctx := context.Background()
	blobs := memBlobs(t)
	require.NoError(t, blobs.Put(ctx, manifestKey(RecallName), []byte("name: two_tower\nversion: 0\n")))
	mgr := NewRecallManager(blobs, 4)
	_, err := mgr.Load(ctx, core.Bounds{Users: 1, Items: 1})
	assert.True(t, core.IsCheckpointCorrupt(err))
}

func TestFileBlobStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs, err := NewFileBlobStore(filepath.Join(dir, "ckpt"))
	require.NoError(t, err)

	_, err = fs.Get(ctx, "missing")
	assert.True(t, core.IsStoreNotFound(err))

	require.NoError(t, fs.Put(ctx, "a.json", []byte("one")))
	require.NoError(t, fs.Put(ctx, "a.json", []byte("two")))
	b, err := fs.Get(ctx, "a.json")
	require.NoError(t, err)
	assert.Equal(t, "two", string(b))

	entries, err := os.ReadDir(fs.Dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp-"), "temp file left behind: %s", e.Name())
	}

	require.NoError(t, fs.Delete(ctx, "a.json"))
	require.NoError(t, fs.Delete(ctx, "a.json"))
	_, err = fs.Get(ctx, "a.json")
	assert.True(t, core.IsStoreNotFound(err))

	for _, bad := range []string{"", "../x", "sub/x", ".hidden"} {
		assert.Error(t, fs.Put(ctx, bad, []byte("x")), bad)
	}
}

func TestManagerOverFileBlobStore(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileBlobStore(t.TempDir())
	require.NoError(t, err)
	mgr := NewRecallManager(fs, 3)
	l, err := mgr.Load(ctx, core.Bounds{Users: 2, Items: 2})
	require.NoError(t, err)
	_, err = mgr.Save(ctx, l.Model, l.Bounds, 0)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(fs.Dir, manifestKey(RecallName)))
	require.NoError(t, err)
	again, err := mgr.Load(ctx, l.Bounds)
	require.NoError(t, err)
	assert.Equal(t, int64(1), again.Version)
	assert.Equal(t, l.Model.Item.Data, again.Model.Item.Data)
}
