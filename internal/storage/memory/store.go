package memory

import (
	"sort"
	"sync"

	"mailscan/backend/internal/domain"
	"mailscan/backend/internal/storage"
)

// Store 使用内存保存扫描结果，主要用于开发验证。
type Store struct {
	mu    sync.RWMutex
	scans map[string]*domain.ScanResult
	order []string // 按保存顺序的扫描 ID
}

// NewStore 创建内存存储。
func NewStore() *Store {
	return &Store{
		scans: make(map[string]*domain.ScanResult),
	}
}

// SaveScan 保存一条扫描结果。
func (s *Store) SaveScan(result *domain.ScanResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.scans[result.ID]; !exists {
		s.order = append(s.order, result.ID)
	}
	clone := *result
	s.scans[result.ID] = &clone
	return nil
}

// GetScan 按 ID 查询扫描结果。
func (s *Store) GetScan(id string) (*domain.ScanResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, ok := s.scans[id]
	if !ok {
		return nil, storage.ErrScanNotFound
	}
	clone := *result
	return &clone, nil
}

// ListScans 按接收时间倒序分页列出扫描结果。
func (s *Store) ListScans(limit, offset int) ([]domain.ScanResult, int, error) {
	return s.list(limit, offset, func(*domain.ScanResult) bool { return true })
}

// ListPhishing 只列出判定为钓鱼的扫描结果。
func (s *Store) ListPhishing(limit, offset int) ([]domain.ScanResult, int, error) {
	return s.list(limit, offset, func(r *domain.ScanResult) bool { return r.WithPhishing })
}

func (s *Store) list(limit, offset int, keep func(*domain.ScanResult) bool) ([]domain.ScanResult, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []domain.ScanResult
	for _, id := range s.order {
		if r := s.scans[id]; keep(r) {
			all = append(all, *r)
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].ReceivedAt.After(all[j].ReceivedAt)
	})

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// Health 内存存储总是健康的。
func (s *Store) Health() error { return nil }

// Close 无资源需要释放。
func (s *Store) Close() error { return nil }
