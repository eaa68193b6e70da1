// Package fingerprint 计算附件内容的精确与模糊指纹。
package fingerprint

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/glaslos/ssdeep"

	"mailscan/backend/internal/domain"
)

// ErrInvalidHash 哈希长度无法对应任何已知类型。
var ErrInvalidHash = errors.New("invalid hash")

// Engine 指纹计算引擎。
//
// 纯函数语义：相同输入必定产生相同的五个哈希值。
// 结果按原始字节内容记忆化，缓存键是内容本身而不是内容的哈希，
// 避免哈希碰撞造成缓存投毒。可并发读写。
type Engine struct {
	cache sync.Map // string(内容) -> domain.Fingerprints
}

var forceOnce sync.Once

// New 创建指纹引擎。
func New() *Engine {
	// ssdeep 默认拒绝小于 4096 字节的输入；
	// 邮件附件经常很小，统一强制计算
	forceOnce.Do(func() { ssdeep.Force = true })
	return &Engine{}
}

// Hash 计算 data 的全部五个指纹。
//
// md5/sha1/sha256/sha512 与模糊哈希要么全部成功，要么一起失败；
// 不会返回部分结果。
func (e *Engine) Hash(data []byte) (domain.Fingerprints, error) {
	key := string(data)
	if v, ok := e.cache.Load(key); ok {
		return v.(domain.Fingerprints), nil
	}

	fuzzy, err := ssdeep.FuzzyBytes(data)
	if err != nil {
		return domain.Fingerprints{}, fmt.Errorf("fuzzy hash: %w", err)
	}

	md5Sum := md5.Sum(data)
	sha1Sum := sha1.Sum(data)
	sha256Sum := sha256.Sum256(data)
	sha512Sum := sha512.Sum512(data)

	fp := domain.Fingerprints{
		MD5:    hex.EncodeToString(md5Sum[:]),
		SHA1:   hex.EncodeToString(sha1Sum[:]),
		SHA256: hex.EncodeToString(sha256Sum[:]),
		SHA512: hex.EncodeToString(sha512Sum[:]),
		SSDeep: fuzzy,
	}

	e.cache.Store(key, fp)
	return fp, nil
}

// HashText 对文本输入先做规范化字节编码（UTF-8）再计算指纹。
func (e *Engine) HashText(text string) (domain.Fingerprints, error) {
	return e.Hash([]byte(text))
}

// HashKindByLength 按十六进制长度推断哈希类型。
//
// 32 → md5，40 → sha1，64 → sha256，128 → sha512。
func HashKindByLength(hash string) (string, error) {
	switch len(hash) {
	case 32:
		return "md5", nil
	case 40:
		return "sha1", nil
	case 64:
		return "sha256", nil
	case 128:
		return "sha512", nil
	}
	return "", fmt.Errorf("%w: unexpected length %d", ErrInvalidHash, len(hash))
}
