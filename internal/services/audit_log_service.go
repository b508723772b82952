package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/campus-brew/api/internal/domain"
	"github.com/campus-brew/api/internal/repositories"
)

const (
	defaultAuditSeverity = "info"
	defaultActorType     = "unknown"
	auditEntryIDPrefix   = "aud_"
	maxAuditTextLength   = 256
)

// AuditLogger defines the logging contract used by the audit writer service.
type AuditLogger interface {
	Warnf(format string, args ...any)
}

type noopAuditLogger struct{}

func (noopAuditLogger) Warnf(string, ...any) {}

// AuditLogServiceDeps bundles constructor inputs for the audit writer service.
type AuditLogServiceDeps struct {
	Repository  repositories.AuditLogRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      AuditLogger
}

type auditLogService struct {
	repo   repositories.AuditLogRepository
	clock  func() time.Time
	newID  func() string
	logger AuditLogger
}

// NewAuditLogService creates an audit log writer backed by the supplied repository.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.Repository == nil {
		return nil, errors.New("audit log service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopAuditLogger{}
	}
	return &auditLogService{
		repo:   deps.Repository,
		clock:  func() time.Time { return clock().UTC() },
		newID:  idGen,
		logger: logger,
	}, nil
}

// Record persists an audit entry. Repository failures are logged but do not
// bubble up, so the primary mutation never fails because auditing did.
func (s *auditLogService) Record(ctx context.Context, record AuditLogRecord) {
	if s.repo == nil {
		return
	}
	entry := s.buildEntry(record)
	if err := s.repo.Append(ctx, entry); err != nil {
		s.logger.Warnf("audit log append failed: %v", err)
	}
}

// List retrieves audit entries matching the filter, newest first.
func (s *auditLogService) List(ctx context.Context, filter AuditLogFilter) ([]AuditLogEntry, error) {
	return s.repo.List(ctx, repositories.AuditLogFilter{
		TargetRef: strings.TrimSpace(filter.TargetRef),
		Actor:     strings.TrimSpace(filter.Actor),
		Action:    strings.TrimSpace(filter.Action),
		DateRange: domain.RangeQuery[time.Time]{From: filter.From, To: filter.To},
		Limit:     filter.Limit,
	})
}

func (s *auditLogService) buildEntry(record AuditLogRecord) domain.AuditLogEntry {
	actorType := strings.TrimSpace(record.ActorType)
	if actorType == "" {
		actorType = defaultActorType
	}
	severity := strings.TrimSpace(record.Severity)
	if severity == "" {
		severity = defaultAuditSeverity
	}

	entry := domain.AuditLogEntry{
		ID:        auditEntryIDPrefix + s.newID(),
		Actor:     truncateAuditText(record.Actor),
		ActorType: actorType,
		Action:    truncateAuditText(record.Action),
		TargetRef: truncateAuditText(record.TargetRef),
		Severity:  severity,
		RequestID: truncateAuditText(record.RequestID),
		CreatedAt: s.clock(),
	}

	if len(record.Metadata) > 0 {
		meta := make(map[string]any, len(record.Metadata))
		for key, value := range record.Metadata {
			trimmedKey := strings.TrimSpace(key)
			if trimmedKey == "" {
				continue
			}
			if str, ok := value.(string); ok {
				meta[trimmedKey] = truncateAuditText(str)
				continue
			}
			meta[trimmedKey] = value
		}
		entry.Metadata = meta
	}
	return entry
}

func truncateAuditText(value string) string {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) <= maxAuditTextLength {
		return trimmed
	}
	return fmt.Sprintf("%s…", trimmed[:maxAuditTextLength])
}
