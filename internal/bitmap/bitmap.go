// Package bitmap 提供通用的位图评分抽象。
//
// 一组固定的布尔属性，每个属性占据 [0, N-1] 内唯一且连续的位；
// 当前分值是一个 0 ≤ score ≤ 2^N-1 的整数。包本身不含任何业务语义，
// 领域评分器（如钓鱼评分）在其上定义自己的属性表。
package bitmap

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrInvalidBitMap 位分配存在空洞或重复
	ErrInvalidBitMap = errors.New("invalid bitmap definition")
	// ErrUnknownProperty 属性名未注册
	ErrUnknownProperty = errors.New("unknown bitmap property")
	// ErrScoreOutOfRange 分值超过 2^N-1
	ErrScoreOutOfRange = errors.New("score out of range")
	// ErrInvalidBit 位序号越界
	ErrInvalidBit = errors.New("invalid bit position")
)

// BitMap 命名属性位图及其当前分值。
type BitMap struct {
	bits  map[string]uint // 属性名 -> 位序号
	names []string        // 位序号 -> 属性名
	score int
}

// New 根据属性→位序号表构建位图。
//
// 位序号必须恰好覆盖 {0, …, N-1}：有空洞或重复立即报错，
// 这是编程或配置缺陷而不是坏输入。
func New(properties map[string]uint) (*BitMap, error) {
	n := len(properties)
	if n == 0 {
		return nil, fmt.Errorf("%w: no properties", ErrInvalidBitMap)
	}

	names := make([]string, n)
	for name, bit := range properties {
		if bit >= uint(n) {
			return nil, fmt.Errorf("%w: bit %d out of [0, %d)", ErrInvalidBitMap, bit, n)
		}
		if names[bit] != "" {
			return nil, fmt.Errorf("%w: bit %d assigned to both %q and %q",
				ErrInvalidBitMap, bit, names[bit], name)
		}
		names[bit] = name
	}

	bits := make(map[string]uint, n)
	for name, bit := range properties {
		bits[name] = bit
	}
	return &BitMap{bits: bits, names: names}, nil
}

// Len 属性个数 N。
func (b *BitMap) Len() int { return len(b.names) }

// MaxScore 可能的最大分值 2^N-1。
func (b *BitMap) MaxScore() int { return 1<<uint(len(b.names)) - 1 }

// Score 当前分值。
func (b *BitMap) Score() int { return b.score }

// SetScore 直接赋分。超过 2^N-1 报错。
func (b *BitMap) SetScore(score int) error {
	if score < 0 || score > b.MaxScore() {
		return fmt.Errorf("%w: %d not in [0, %d]", ErrScoreOutOfRange, score, b.MaxScore())
	}
	b.score = score
	return nil
}

// Reset 清零分值。
func (b *BitMap) Reset() { b.score = 0 }

// Set 置位给定属性。任一属性名未知时整体报错且不修改分值。
func (b *BitMap) Set(names ...string) error {
	mask, err := b.mask(names)
	if err != nil {
		return err
	}
	b.score |= mask
	return nil
}

// Unset 清除给定属性的位。
func (b *BitMap) Unset(names ...string) error {
	mask, err := b.mask(names)
	if err != nil {
		return err
	}
	b.score &^= mask
	return nil
}

// ScoreOf 返回给定属性位的或组合，不改变当前分值。
//
// 用于计算假设分值或理论最大分值。
func (b *BitMap) ScoreOf(names ...string) (int, error) {
	return b.mask(names)
}

// SumOfBitPositions 返回若干原始位序号的或组合。
//
// 序号越界时报错；不经过属性名表。
func (b *BitMap) SumOfBitPositions(positions ...uint) (int, error) {
	sum := 0
	for _, pos := range positions {
		if pos >= uint(len(b.names)) {
			return 0, fmt.Errorf("%w: %d", ErrInvalidBit, pos)
		}
		sum |= 1 << pos
	}
	return sum, nil
}

// ActiveProperties 返回当前已置位的属性名，从高位到低位。
func (b *BitMap) ActiveProperties() []string {
	var active []string
	for bit := len(b.names) - 1; bit >= 0; bit-- {
		if b.score&(1<<uint(bit)) != 0 {
			active = append(active, b.names[bit])
		}
	}
	return active
}

// Properties 返回全部属性名，按位序号升序。
func (b *BitMap) Properties() []string {
	out := make([]string, len(b.names))
	copy(out, b.names)
	return out
}

func (b *BitMap) mask(names []string) (int, error) {
	mask := 0
	missing := make([]string, 0)
	for _, name := range names {
		bit, ok := b.bits[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		mask |= 1 << bit
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return 0, fmt.Errorf("%w: %v", ErrUnknownProperty, missing)
	}
	return mask, nil
}
