package storage

import (
	"errors"

	"mailscan/backend/internal/domain"
)

var (
	// ErrScanNotFound 扫描结果未找到错误
	ErrScanNotFound = errors.New("scan not found")
)

// ScanRepository 定义扫描结果数据存取操作。
type ScanRepository interface {
	SaveScan(result *domain.ScanResult) error
	GetScan(id string) (*domain.ScanResult, error)
	ListScans(limit, offset int) ([]domain.ScanResult, int, error)
	// ListPhishing 只列出判定为钓鱼的结果
	ListPhishing(limit, offset int) ([]domain.ScanResult, int, error)
}

// Store 聚合存储能力并附带运维接口。
type Store interface {
	ScanRepository
	Health() error
	Close() error
}
