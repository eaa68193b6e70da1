package bitmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBitMap(t *testing.T) *BitMap {
	t.Helper()
	bm, err := New(map[string]uint{"a": 0, "b": 1, "c": 2})
	require.NoError(t, err)
	return bm
}

func TestNew(t *testing.T) {
	t.Run("合法的连续位分配", func(t *testing.T) {
		bm, err := New(map[string]uint{"a": 0, "b": 1, "c": 2})
		assert.NoError(t, err)
		assert.Equal(t, 3, bm.Len())
		assert.Equal(t, 7, bm.MaxScore())
		assert.Equal(t, []string{"a", "b", "c"}, bm.Properties())
	})

	t.Run("空属性表报错", func(t *testing.T) {
		_, err := New(map[string]uint{})
		assert.ErrorIs(t, err, ErrInvalidBitMap)
	})

	t.Run("位序号有空洞报错", func(t *testing.T) {
		_, err := New(map[string]uint{"a": 0, "b": 2})
		assert.ErrorIs(t, err, ErrInvalidBitMap)
	})

	t.Run("位序号重复报错", func(t *testing.T) {
		_, err := New(map[string]uint{"a": 0, "b": 0, "c": 1})
		assert.ErrorIs(t, err, ErrInvalidBitMap)
	})
}

func TestSetAndScore(t *testing.T) {
	t.Run("置位累加分值", func(t *testing.T) {
		bm := newTestBitMap(t)

		require.NoError(t, bm.Set("a"))
		assert.Equal(t, 1, bm.Score())

		require.NoError(t, bm.Set("c"))
		assert.Equal(t, 5, bm.Score())

		// 重复置位幂等
		require.NoError(t, bm.Set("a"))
		assert.Equal(t, 5, bm.Score())
	})

	t.Run("未知属性整体失败且不改分值", func(t *testing.T) {
		bm := newTestBitMap(t)
		require.NoError(t, bm.Set("a"))

		err := bm.Set("b", "nope")
		assert.ErrorIs(t, err, ErrUnknownProperty)
		assert.Equal(t, 1, bm.Score())
	})

	t.Run("Unset 清除指定位", func(t *testing.T) {
		bm := newTestBitMap(t)
		require.NoError(t, bm.Set("a", "b", "c"))
		require.NoError(t, bm.Unset("b"))
		assert.Equal(t, 5, bm.Score())
	})

	t.Run("Reset 清零", func(t *testing.T) {
		bm := newTestBitMap(t)
		require.NoError(t, bm.Set("a", "b"))
		bm.Reset()
		assert.Equal(t, 0, bm.Score())
	})
}

func TestSetScore(t *testing.T) {
	bm := newTestBitMap(t)

	assert.NoError(t, bm.SetScore(7))
	assert.Equal(t, 7, bm.Score())

	assert.ErrorIs(t, bm.SetScore(8), ErrScoreOutOfRange)
	assert.ErrorIs(t, bm.SetScore(-1), ErrScoreOutOfRange)
	// 失败不改变当前分值
	assert.Equal(t, 7, bm.Score())
}

func TestScoreOf(t *testing.T) {
	bm := newTestBitMap(t)

	score, err := bm.ScoreOf("a", "c")
	require.NoError(t, err)
	assert.Equal(t, 5, score)
	// 不影响当前分值
	assert.Equal(t, 0, bm.Score())

	_, err = bm.ScoreOf("missing")
	assert.ErrorIs(t, err, ErrUnknownProperty)
}

func TestSumOfBitPositions(t *testing.T) {
	bm := newTestBitMap(t)

	sum, err := bm.SumOfBitPositions(0, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, sum)

	_, err = bm.SumOfBitPositions(3)
	assert.ErrorIs(t, err, ErrInvalidBit)
}

func TestActiveProperties(t *testing.T) {
	bm := newTestBitMap(t)
	require.NoError(t, bm.Set("a", "c"))

	// 从高位到低位
	assert.Equal(t, []string{"c", "a"}, bm.ActiveProperties())

	bm.Reset()
	assert.Empty(t, bm.ActiveProperties())
}
