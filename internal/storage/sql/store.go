// Package sql 提供基于 GORM 的扫描结果持久化（支持 MySQL 与 PostgreSQL）。
package sql

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mailscan/backend/internal/domain"
	"mailscan/backend/internal/storage"
)

// attachmentRow 附件记录的数据库行。内容字节不入库，只存元数据与指纹。
type attachmentRow struct {
	ID           string    `gorm:"primaryKey;type:varchar(36)"`
	ScanID       string    `gorm:"type:varchar(36);index;not null"`
	ParentID     string    `gorm:"type:varchar(36);index"` // 归档成员指向父记录，顶层为空
	Filename     string    `gorm:"type:varchar(255)"`
	Extension    string    `gorm:"type:varchar(32)"`
	ContentType  string    `gorm:"type:varchar(100)"`
	MailContent  string    `gorm:"column:mail_content_type;type:varchar(100)"`
	Size         int64
	IsArchive    bool
	IsFiltered   bool
	FilterReason string    `gorm:"type:varchar(255)"`
	MD5          string    `gorm:"type:varchar(32)"`
	SHA1         string    `gorm:"type:varchar(40)"`
	SHA256       string    `gorm:"type:varchar(64);index"`
	SHA512       string    `gorm:"type:varchar(128)"`
	SSDeep       string    `gorm:"type:varchar(200)"`
	AnalysisDate time.Time
}

func (attachmentRow) TableName() string { return "scan_attachments" }

// Store SQL 数据库存储实现（支持 MySQL 5.7+ 和 PostgreSQL）
type Store struct {
	db         *gorm.DB
	driverName string // "mysql" or "postgres"
}

// NewStore 创建 SQL 数据库存储
func NewStore(
	driverName string,
	dsn string,
	maxOpenConns int,
	maxIdleConns int,
	connMaxLifetime time.Duration,
) (*Store, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var (
		db  *gorm.DB
		err error
	)
	switch driverName {
	case "mysql":
		db, err = gorm.Open(mysql.Open(dsn), gormConfig)
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db, driverName: driverName}
	if err := store.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate 自动建表
func (s *Store) migrate() error {
	return s.db.AutoMigrate(&domain.ScanResult{}, &attachmentRow{})
}

// SaveScan 保存扫描结果及其附件元数据行。
func (s *Store) SaveScan(result *domain.ScanResult) error {
	detail, err := json.Marshal(result.Verdict)
	if err != nil {
		return fmt.Errorf("encode verdict: %w", err)
	}
	result.ScoreDetail = string(detail)

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(result).Error; err != nil {
			return fmt.Errorf("save scan: %w", err)
		}
		if err := tx.Where("scan_id = ?", result.ID).Delete(&attachmentRow{}).Error; err != nil {
			return fmt.Errorf("clear attachment rows: %w", err)
		}
		rows := flattenAttachments(result)
		if len(rows) == 0 {
			return nil
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("save attachment rows: %w", err)
		}
		return nil
	})
}

// GetScan 按 ID 查询扫描结果并还原附件树。
func (s *Store) GetScan(id string) (*domain.ScanResult, error) {
	var result domain.ScanResult
	if err := s.db.First(&result, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrScanNotFound
		}
		return nil, fmt.Errorf("query scan: %w", err)
	}

	if result.ScoreDetail != "" {
		if err := json.Unmarshal([]byte(result.ScoreDetail), &result.Verdict); err != nil {
			return nil, fmt.Errorf("decode verdict: %w", err)
		}
	}

	var rows []attachmentRow
	if err := s.db.Where("scan_id = ?", id).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query attachment rows: %w", err)
	}
	result.Attachments = rebuildAttachments(rows)
	return &result, nil
}

// ListScans 按接收时间倒序分页列出扫描结果。
func (s *Store) ListScans(limit, offset int) ([]domain.ScanResult, int, error) {
	return s.list(limit, offset, s.db.Model(&domain.ScanResult{}))
}

// ListPhishing 只列出判定为钓鱼的扫描结果。
func (s *Store) ListPhishing(limit, offset int) ([]domain.ScanResult, int, error) {
	return s.list(limit, offset, s.db.Model(&domain.ScanResult{}).Where("with_phishing = ?", true))
}

func (s *Store) list(limit, offset int, query *gorm.DB) ([]domain.ScanResult, int, error) {
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count scans: %w", err)
	}

	var results []domain.ScanResult
	q := query.Order("received_at DESC").Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&results).Error; err != nil {
		return nil, 0, fmt.Errorf("list scans: %w", err)
	}
	return results, int(total), nil
}

// Health 检查数据库连通性。
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func flattenAttachments(result *domain.ScanResult) []attachmentRow {
	var rows []attachmentRow
	for _, att := range result.Attachments {
		rows = append(rows, toRow(result.ID, "", att))
		for _, member := range att.Files {
			rows = append(rows, toRow(result.ID, att.ID, member))
		}
	}
	return rows
}

func toRow(scanID, parentID string, att *domain.Attachment) attachmentRow {
	return attachmentRow{
		ID:           att.ID,
		ScanID:       scanID,
		ParentID:     parentID,
		Filename:     att.Filename,
		Extension:    att.Extension,
		ContentType:  att.ContentType,
		MailContent:  att.MailContentType,
		Size:         att.Size,
		IsArchive:    att.IsArchive,
		IsFiltered:   att.IsFiltered,
		FilterReason: att.FilterReason,
		MD5:          att.Fingerprints.MD5,
		SHA1:         att.Fingerprints.SHA1,
		SHA256:       att.Fingerprints.SHA256,
		SHA512:       att.Fingerprints.SHA512,
		SSDeep:       att.Fingerprints.SSDeep,
		AnalysisDate: att.AnalysisDate,
	}
}

func rebuildAttachments(rows []attachmentRow) []*domain.Attachment {
	byID := make(map[string]*domain.Attachment, len(rows))
	var top []*domain.Attachment

	for _, row := range rows {
		att := &domain.Attachment{
			ID:              row.ID,
			Filename:        row.Filename,
			Extension:       row.Extension,
			ContentType:     row.ContentType,
			MailContentType: row.MailContent,
			Size:            row.Size,
			IsArchive:       row.IsArchive,
			IsFiltered:      row.IsFiltered,
			FilterReason:    row.FilterReason,
			AnalysisDate:    row.AnalysisDate,
			Fingerprints: domain.Fingerprints{
				MD5:    row.MD5,
				SHA1:   row.SHA1,
				SHA256: row.SHA256,
				SHA512: row.SHA512,
				SSDeep: row.SSDeep,
			},
		}
		byID[row.ID] = att
		if row.ParentID == "" {
			top = append(top, att)
		}
	}
	for _, row := range rows {
		if row.ParentID == "" {
			continue
		}
		if parent, ok := byID[row.ParentID]; ok {
			parent.Files = append(parent.Files, byID[row.ID])
		}
	}
	return top
}
