package smtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionLimiter(t *testing.T) {
	t.Run("并发连接数上限", func(t *testing.T) {
		l := NewConnectionLimiter(2, 100)

		require.True(t, l.Acquire())
		require.True(t, l.Acquire())
		assert.False(t, l.Acquire())
		assert.Equal(t, 2, l.Current())

		l.Release()
		assert.Equal(t, 1, l.Current())
		assert.True(t, l.Acquire())
	})

	t.Run("新建连接速率上限", func(t *testing.T) {
		// 令牌桶容量 1：第二次立即获取必然失败
		l := NewConnectionLimiter(10, 1)

		require.True(t, l.Acquire())
		assert.False(t, l.Acquire())
		// 被速率拒绝的连接不计入并发数
		assert.Equal(t, 1, l.Current())
	})

	t.Run("多余的Release不会让计数为负", func(t *testing.T) {
		l := NewConnectionLimiter(2, 100)
		l.Release()
		assert.Equal(t, 0, l.Current())
	})
}
