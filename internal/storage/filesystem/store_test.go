package filesystem

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore(t *testing.T) {
	t.Run("创建基础目录", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "samples")
		_, err := NewStore(base)
		require.NoError(t, err)

		info, err := os.Stat(base)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("空路径报错", func(t *testing.T) {
		_, err := NewStore("  ")
		assert.Error(t, err)
	})
}

func TestSaveSample(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	t.Run("按日期目录写入", func(t *testing.T) {
		path, err := store.SaveSample("2025-06-01", "deadbeef", "invoice.pdf", []byte("sample data"))
		require.NoError(t, err)

		assert.Contains(t, path, filepath.Join("2025-06-01", "deadbeef_invoice.pdf"))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, []byte("sample data"), data)
	})

	t.Run("同哈希重复写入覆盖", func(t *testing.T) {
		first, err := store.SaveSample("2025-06-01", "cafebabe", "a.bin", []byte("v1"))
		require.NoError(t, err)
		second, err := store.SaveSample("2025-06-01", "cafebabe", "a.bin", []byte("v2"))
		require.NoError(t, err)

		assert.Equal(t, first, second)
		data, err := os.ReadFile(second)
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), data)
	})

	t.Run("文件名目录穿越被消毒", func(t *testing.T) {
		path, err := store.SaveSample("2025-06-02", "f00dface", "../../etc/passwd", []byte("x"))
		require.NoError(t, err)
		assert.Contains(t, path, filepath.Join("2025-06-02", "f00dface_passwd"))
	})

	t.Run("缺少哈希报错", func(t *testing.T) {
		_, err := store.SaveSample("2025-06-02", "", "x.bin", []byte("x"))
		assert.Error(t, err)
	})

	t.Run("空文件名只用哈希", func(t *testing.T) {
		path, err := store.SaveSample("2025-06-03", "0123abcd", "", []byte("x"))
		require.NoError(t, err)
		assert.Equal(t, "0123abcd", filepath.Base(path))
	})
}
