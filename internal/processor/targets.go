package processor

import "mailscan/backend/internal/domain"

// withMembers 返回记录本身加上它的全部归档成员，按发现顺序。
func withMembers(rec *domain.Attachment) []*domain.Attachment {
	out := make([]*domain.Attachment, 0, 1+len(rec.Files))
	out = append(out, rec)
	out = append(out, rec.Files...)
	return out
}
