package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
	"github.com/xuri/excelize/v2"

	"github.com/campus-brew/api/internal/domain"
	"github.com/campus-brew/api/internal/platform/storage"
)

const (
	defaultExportTokenTTL = 15 * time.Minute
	exportContentType     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	exportSummarySheet    = "Summary"
	exportBucketsSheet    = "Buckets"
)

var (
	// ErrExportInvalidInput indicates an export request failed validation.
	ErrExportInvalidInput = errors.New("export: invalid input")
	// ErrExportTokenInvalid indicates the presented token is malformed, forged, or expired.
	ErrExportTokenInvalid = errors.New("export: token invalid")
	// ErrExportUnavailable indicates workbook generation or storage failed.
	ErrExportUnavailable = errors.New("export: temporarily unavailable")
)

// ExportUploader persists rendered workbooks into the exports bucket.
type ExportUploader interface {
	Upload(ctx context.Context, bucket, object, contentType string, data []byte) error
}

// ExportURLSigner mints signed download URLs for stored workbooks.
type ExportURLSigner interface {
	SignedURL(ctx context.Context, bucket, object string, opts storage.SignedURLOptions) (storage.SignedURLResult, error)
}

// ExportServiceDeps bundles collaborators required to construct an export service.
type ExportServiceDeps struct {
	Statistics  StatisticsService
	Uploader    ExportUploader
	URLSigner   ExportURLSigner
	Bucket      string
	TokenSecret string
	TokenTTL    time.Duration
	Audit       AuditLogService
	Clock       func() time.Time
}

type exportService struct {
	stats     StatisticsService
	uploader  ExportUploader
	urlSigner ExportURLSigner
	bucket    string
	secret    []byte
	tokenTTL  time.Duration
	audit     AuditLogService
	clock     func() time.Time
}

var _ ExportService = (*exportService)(nil)

// NewExportService assembles the statistics export service.
func NewExportService(deps ExportServiceDeps) (ExportService, error) {
	if deps.Statistics == nil {
		return nil, errors.New("export service: statistics service is required")
	}
	if deps.Uploader == nil {
		return nil, errors.New("export service: uploader is required")
	}
	if deps.URLSigner == nil {
		return nil, errors.New("export service: url signer is required")
	}
	if strings.TrimSpace(deps.Bucket) == "" {
		return nil, errors.New("export service: bucket is required")
	}
	if strings.TrimSpace(deps.TokenSecret) == "" {
		return nil, errors.New("export service: token secret is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	ttl := deps.TokenTTL
	if ttl <= 0 {
		ttl = defaultExportTokenTTL
	}

	return &exportService{
		stats:     deps.Statistics,
		uploader:  deps.Uploader,
		urlSigner: deps.URLSigner,
		bucket:    strings.TrimSpace(deps.Bucket),
		secret:    []byte(deps.TokenSecret),
		tokenTTL:  ttl,
		audit:     deps.Audit,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

type exportClaims struct {
	Granularity string `json:"gran"`
	Limit       int    `json:"limit"`
	jwt.RegisteredClaims
}

func (s *exportService) IssueToken(ctx context.Context, cmd IssueExportTokenCommand) (ExportToken, error) {
	if ctx == nil {
		return ExportToken{}, fmt.Errorf("%w: context is required", ErrExportInvalidInput)
	}
	granularity, err := normalizeExportGranularity(cmd.Granularity)
	if err != nil {
		return ExportToken{}, err
	}
	if cmd.Limit < 0 {
		return ExportToken{}, fmt.Errorf("%w: limit must not be negative", ErrExportInvalidInput)
	}
	limit := cmd.Limit
	if limit == 0 {
		limit = defaultStatsLimit
	}
	if limit > maxStatsLimit {
		limit = maxStatsLimit
	}

	now := s.clock()
	expiresAt := now.Add(s.tokenTTL)
	claims := exportClaims{
		Granularity: string(granularity),
		Limit:       limit,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strings.TrimSpace(cmd.ActorID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return ExportToken{}, fmt.Errorf("%w: sign token: %v", ErrExportUnavailable, err)
	}

	if s.audit != nil {
		s.audit.Record(ctx, AuditLogRecord{
			Actor:     strings.TrimSpace(cmd.ActorID),
			ActorType: "staff",
			Action:    "stats.export_token",
			Metadata: map[string]any{
				"granularity": string(granularity),
				"limit":       limit,
			},
		})
	}

	return ExportToken{Token: signed, ExpiresAt: expiresAt}, nil
}

func (s *exportService) Export(ctx context.Context, token string) (ExportArtifact, error) {
	if ctx == nil {
		return ExportArtifact{}, fmt.Errorf("%w: context is required", ErrExportInvalidInput)
	}
	claims, err := s.verifyToken(token)
	if err != nil {
		return ExportArtifact{}, err
	}

	snapshot, err := s.stats.Snapshot(ctx, StatsQuery{
		Granularity: StatsGranularity(claims.Granularity),
		Limit:       claims.Limit,
	})
	if err != nil {
		return ExportArtifact{}, fmt.Errorf("%w: compute snapshot: %v", ErrExportUnavailable, err)
	}

	data, err := renderStatsWorkbook(snapshot, StatsGranularity(claims.Granularity))
	if err != nil {
		return ExportArtifact{}, fmt.Errorf("%w: render workbook: %v", ErrExportUnavailable, err)
	}

	now := s.clock()
	object, err := storage.BuildExportObjectPath(storage.ExportPathParams{
		Kind:        claims.Granularity,
		GeneratedAt: now,
	})
	if err != nil {
		return ExportArtifact{}, fmt.Errorf("%w: build object path: %v", ErrExportUnavailable, err)
	}

	if err := s.uploader.Upload(ctx, s.bucket, object, exportContentType, data); err != nil {
		return ExportArtifact{}, fmt.Errorf("%w: upload workbook: %v", ErrExportUnavailable, err)
	}

	signed, err := s.urlSigner.SignedURL(ctx, s.bucket, object, storage.SignedURLOptions{
		Download: &storage.DownloadOptions{
			ExpiresIn:      s.tokenTTL,
			Disposition:    fmt.Sprintf("attachment; filename=%q", workbookFilename(object)),
			ResponseType:   exportContentType,
			AllowAnonymous: true,
		},
	})
	if err != nil {
		return ExportArtifact{}, fmt.Errorf("%w: sign download url: %v", ErrExportUnavailable, err)
	}

	return ExportArtifact{
		ObjectName:  object,
		DownloadURL: signed.URL,
		ExpiresAt:   signed.ExpiresAt,
	}, nil
}

// verifyToken accepts only tokens this service minted: HS256 with our secret.
func (s *exportService) verifyToken(token string) (exportClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return exportClaims{}, fmt.Errorf("%w: token is required", ErrExportTokenInvalid)
	}

	// Expiry is checked against the injected clock, not the parser's.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	claims := exportClaims{}
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}); err != nil {
		return exportClaims{}, fmt.Errorf("%w: %v", ErrExportTokenInvalid, err)
	}
	if claims.ExpiresAt == nil || !s.clock().Before(claims.ExpiresAt.Time) {
		return exportClaims{}, fmt.Errorf("%w: token expired", ErrExportTokenInvalid)
	}
	if _, err := normalizeExportGranularity(StatsGranularity(claims.Granularity)); err != nil {
		return exportClaims{}, fmt.Errorf("%w: unsupported granularity %q", ErrExportTokenInvalid, claims.Granularity)
	}
	return claims, nil
}

func normalizeExportGranularity(granularity StatsGranularity) (StatsGranularity, error) {
	if granularity == "" {
		return domain.StatsByDay, nil
	}
	switch granularity {
	case domain.StatsByDay, domain.StatsByWeek, domain.StatsByMonth, domain.StatsIndividual:
		return granularity, nil
	default:
		return "", fmt.Errorf("%w: unsupported granularity %q", ErrExportInvalidInput, granularity)
	}
}

func workbookFilename(object string) string {
	if idx := strings.LastIndex(object, "/"); idx >= 0 {
		return object[idx+1:]
	}
	return object
}

// renderStatsWorkbook produces a two-sheet xlsx: a summary of the headline
// figures and a bucket table sorted by label.
func renderStatsWorkbook(snapshot StatsSnapshot, granularity StatsGranularity) ([]byte, error) {
	file := excelize.NewFile()
	defer func() {
		_ = file.Close()
	}()

	file.SetSheetName(file.GetSheetName(0), exportSummarySheet)
	summaryRows := [][]any{
		{"Generated At", snapshot.GeneratedAt.Format(time.RFC3339)},
		{"Granularity", string(granularity)},
		{"Today Revenue", snapshot.TodayRevenue.StringFixed(2)},
		{"Today Orders", snapshot.TodayOrders},
		{"Today Cups", snapshot.TodayCups},
		{"Today Unique Users", snapshot.TodayUniqueUsers},
		{"Week Revenue", snapshot.WeekRevenue.StringFixed(2)},
		{"Week Range", snapshot.WeekRevenueRange},
	}
	for i, row := range summaryRows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, err
		}
		if err := file.SetSheetRow(exportSummarySheet, cell, &row); err != nil {
			return nil, err
		}
	}

	file.NewSheet(exportBucketsSheet)
	header := []any{"Bucket", "Revenue", "Orders", "Cups", "Unique Users"}
	if err := file.SetSheetRow(exportBucketsSheet, "A1", &header); err != nil {
		return nil, err
	}

	labels := make([]string, 0, len(snapshot.Orders))
	for label := range snapshot.Orders {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for i, label := range labels {
		row := []any{
			label,
			snapshot.Revenue[label].StringFixed(2),
			snapshot.Orders[label],
			snapshot.Cups[label],
			snapshot.UniqueUsers[label],
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := file.SetSheetRow(exportBucketsSheet, cell, &row); err != nil {
			return nil, err
		}
	}

	buf, err := file.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
