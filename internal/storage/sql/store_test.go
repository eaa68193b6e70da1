package sql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailscan/backend/internal/domain"
)

func TestFlattenAndRebuildAttachments(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	member := &domain.Attachment{
		ID:           "member-1",
		Filename:     "inner.txt",
		Extension:    ".txt",
		ContentType:  "text/plain",
		Size:         12,
		AnalysisDate: now,
		Fingerprints: domain.Fingerprints{SHA256: "bbb"},
	}
	archive := &domain.Attachment{
		ID:              "top-1",
		Filename:        "bundle.zip",
		Extension:       ".zip",
		ContentType:     "application/zip",
		MailContentType: "application/octet-stream",
		Size:            300,
		IsArchive:       true,
		AnalysisDate:    now,
		Fingerprints:    domain.Fingerprints{MD5: "m", SHA1: "s1", SHA256: "aaa", SHA512: "s5", SSDeep: "3:x:y"},
		Files:           []*domain.Attachment{member},
	}
	filtered := &domain.Attachment{
		ID:           "top-2",
		Filename:     "huge.bin",
		Size:         9999,
		IsFiltered:   true,
		FilterReason: "size 9999 exceeds limit 1024",
		AnalysisDate: now,
	}

	result := &domain.ScanResult{
		ID:          "scan-1",
		Attachments: []*domain.Attachment{archive, filtered},
	}

	rows := flattenAttachments(result)
	require.Len(t, rows, 3)

	byID := make(map[string]attachmentRow, len(rows))
	for _, row := range rows {
		assert.Equal(t, "scan-1", row.ScanID)
		byID[row.ID] = row
	}

	assert.Equal(t, "", byID["top-1"].ParentID)
	assert.Equal(t, "", byID["top-2"].ParentID)
	assert.Equal(t, "top-1", byID["member-1"].ParentID)
	assert.True(t, byID["top-1"].IsArchive)
	assert.Equal(t, "aaa", byID["top-1"].SHA256)
	assert.True(t, byID["top-2"].IsFiltered)
	assert.Equal(t, "size 9999 exceeds limit 1024", byID["top-2"].FilterReason)

	rebuilt := rebuildAttachments(rows)
	require.Len(t, rebuilt, 2)

	rebuiltByID := make(map[string]*domain.Attachment, len(rebuilt))
	for _, att := range rebuilt {
		rebuiltByID[att.ID] = att
	}

	gotArchive := rebuiltByID["top-1"]
	require.NotNil(t, gotArchive)
	assert.Equal(t, "bundle.zip", gotArchive.Filename)
	assert.Equal(t, "application/octet-stream", gotArchive.MailContentType)
	assert.Equal(t, archive.Fingerprints, gotArchive.Fingerprints)
	require.Len(t, gotArchive.Files, 1)
	assert.Equal(t, "inner.txt", gotArchive.Files[0].Filename)
	assert.Equal(t, "bbb", gotArchive.Files[0].Fingerprints.SHA256)

	gotFiltered := rebuiltByID["top-2"]
	require.NotNil(t, gotFiltered)
	assert.True(t, gotFiltered.IsFiltered)
	assert.Empty(t, gotFiltered.Files)
}

func TestRebuildAttachmentsOrphanedMember(t *testing.T) {
	rows := []attachmentRow{
		{ID: "member-x", ScanID: "scan-1", ParentID: "gone", Filename: "lost.txt"},
		{ID: "top-1", ScanID: "scan-1", Filename: "a.txt"},
	}

	rebuilt := rebuildAttachments(rows)

	// 父记录缺失的成员被丢弃，不出现在顶层
	require.Len(t, rebuilt, 1)
	assert.Equal(t, "top-1", rebuilt[0].ID)
}

func TestNewStoreUnsupportedDriver(t *testing.T) {
	_, err := NewStore("sqlite", "file::memory:", 1, 1, time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}
