package services

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/campus-brew/api/internal/domain"
	"github.com/campus-brew/api/internal/platform/storage"
)

type stubStatsService struct {
	snapshot StatsSnapshot
	err      error
	query    StatsQuery
	calls    int
}

func (s *stubStatsService) Snapshot(ctx context.Context, query StatsQuery) (StatsSnapshot, error) {
	s.calls++
	s.query = query
	return s.snapshot, s.err
}

func (s *stubStatsService) ForUser(ctx context.Context, userID string) (UserStatistics, error) {
	return UserStatistics{}, nil
}

type stubUploader struct {
	bucket      string
	object      string
	contentType string
	data        []byte
	err         error
}

func (s *stubUploader) Upload(ctx context.Context, bucket, object, contentType string, data []byte) error {
	s.bucket = bucket
	s.object = object
	s.contentType = contentType
	s.data = data
	return s.err
}

type stubURLSigner struct {
	bucket string
	object string
	opts   storage.SignedURLOptions
	result storage.SignedURLResult
	err    error
}

func (s *stubURLSigner) SignedURL(ctx context.Context, bucket, object string, opts storage.SignedURLOptions) (storage.SignedURLResult, error) {
	s.bucket = bucket
	s.object = object
	s.opts = opts
	return s.result, s.err
}

type exportFixture struct {
	stats    *stubStatsService
	uploader *stubUploader
	signer   *stubURLSigner
	audit    *memAuditRecorder
	now      time.Time
}

type memAuditRecorder struct {
	records []AuditLogRecord
}

func (m *memAuditRecorder) Record(ctx context.Context, record AuditLogRecord) {
	m.records = append(m.records, record)
}

func (m *memAuditRecorder) List(ctx context.Context, filter AuditLogFilter) ([]AuditLogEntry, error) {
	return nil, nil
}

func newExportFixture() *exportFixture {
	now := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	return &exportFixture{
		stats: &stubStatsService{snapshot: StatsSnapshot{
			TodayRevenue: decimal.RequireFromString("1234.50"),
			TodayOrders:  12,
			TodayCups:    20,
			WeekRevenue:  decimal.RequireFromString("5600.00"),
			Revenue: map[string]decimal.Decimal{
				"2025-03-31": decimal.RequireFromString("900.00"),
				"2025-04-01": decimal.RequireFromString("1234.50"),
			},
			Orders:      map[string]int{"2025-03-31": 9, "2025-04-01": 12},
			Cups:        map[string]int{"2025-03-31": 15, "2025-04-01": 20},
			UniqueUsers: map[string]int{"2025-03-31": 7, "2025-04-01": 8},
			GeneratedAt: now,
		}},
		uploader: &stubUploader{},
		signer: &stubURLSigner{result: storage.SignedURLResult{
			URL:       "https://storage.example/exports/signed",
			ExpiresAt: now.Add(15 * time.Minute),
		}},
		audit: &memAuditRecorder{},
		now:   now,
	}
}

func (f *exportFixture) service(t *testing.T) ExportService {
	t.Helper()
	svc, err := NewExportService(ExportServiceDeps{
		Statistics:  f.stats,
		Uploader:    f.uploader,
		URLSigner:   f.signer,
		Bucket:      "campus-brew-exports",
		TokenSecret: "test-secret",
		Audit:       f.audit,
		Clock:       func() time.Time { return f.now },
	})
	if err != nil {
		t.Fatalf("NewExportService: %v", err)
	}
	return svc
}

func TestExportServiceIssueAndExportRoundTrip(t *testing.T) {
	f := newExportFixture()
	svc := f.service(t)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, IssueExportTokenCommand{
		ActorID:     "staff-1",
		Granularity: domain.StatsByDay,
		Limit:       60,
	})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if token.Token == "" {
		t.Fatal("expected a signed token")
	}
	if want := f.now.Add(15 * time.Minute); !token.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %s, got %s", want, token.ExpiresAt)
	}
	if len(f.audit.records) != 1 || f.audit.records[0].Action != "stats.export_token" {
		t.Fatalf("expected token issuance audit record, got %+v", f.audit.records)
	}

	artifact, err := svc.Export(ctx, token.Token)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if f.stats.query.Granularity != domain.StatsByDay || f.stats.query.Limit != 60 {
		t.Fatalf("snapshot queried with %+v", f.stats.query)
	}
	if f.uploader.bucket != "campus-brew-exports" {
		t.Fatalf("uploaded to bucket %q", f.uploader.bucket)
	}
	if f.uploader.contentType != exportContentType {
		t.Fatalf("uploaded with content type %q", f.uploader.contentType)
	}
	if artifact.ObjectName != f.uploader.object {
		t.Fatalf("artifact object %q does not match uploaded object %q", artifact.ObjectName, f.uploader.object)
	}
	if artifact.DownloadURL != "https://storage.example/exports/signed" {
		t.Fatalf("unexpected download url %q", artifact.DownloadURL)
	}
	if f.signer.opts.Download == nil || !f.signer.opts.Download.AllowAnonymous {
		t.Fatalf("expected anonymous download grant, got %+v", f.signer.opts)
	}

	workbook, err := excelize.OpenReader(bytes.NewReader(f.uploader.data))
	if err != nil {
		t.Fatalf("open rendered workbook: %v", err)
	}
	defer workbook.Close()

	revenue, err := workbook.GetCellValue(exportSummarySheet, "B3")
	if err != nil {
		t.Fatalf("read summary cell: %v", err)
	}
	if revenue != "1234.50" {
		t.Fatalf("expected today revenue 1234.50, got %q", revenue)
	}
	bucket, err := workbook.GetCellValue(exportBucketsSheet, "A2")
	if err != nil {
		t.Fatalf("read bucket cell: %v", err)
	}
	if bucket != "2025-03-31" {
		t.Fatalf("expected oldest bucket first, got %q", bucket)
	}
}

func TestExportServiceRejectsExpiredToken(t *testing.T) {
	f := newExportFixture()
	svc := f.service(t)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, IssueExportTokenCommand{ActorID: "staff-1"})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	f.now = f.now.Add(16 * time.Minute)
	if _, err := svc.Export(ctx, token.Token); !errors.Is(err, ErrExportTokenInvalid) {
		t.Fatalf("expected ErrExportTokenInvalid, got %v", err)
	}
	if f.stats.calls != 0 {
		t.Fatal("expired token must not trigger a snapshot")
	}
}

func TestExportServiceRejectsForgedToken(t *testing.T) {
	f := newExportFixture()
	svc := f.service(t)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, IssueExportTokenCommand{ActorID: "staff-1"})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	tampered := token.Token[:len(token.Token)-2] + "xx"
	if _, err := svc.Export(ctx, tampered); !errors.Is(err, ErrExportTokenInvalid) {
		t.Fatalf("expected ErrExportTokenInvalid, got %v", err)
	}
	if _, err := svc.Export(ctx, ""); !errors.Is(err, ErrExportTokenInvalid) {
		t.Fatalf("expected ErrExportTokenInvalid for empty token, got %v", err)
	}
}

func TestExportServiceValidatesIssueInput(t *testing.T) {
	f := newExportFixture()
	svc := f.service(t)
	ctx := context.Background()

	if _, err := svc.IssueToken(ctx, IssueExportTokenCommand{Granularity: "hourly"}); !errors.Is(err, ErrExportInvalidInput) {
		t.Fatalf("expected ErrExportInvalidInput, got %v", err)
	}
	if _, err := svc.IssueToken(ctx, IssueExportTokenCommand{Limit: -1}); !errors.Is(err, ErrExportInvalidInput) {
		t.Fatalf("expected ErrExportInvalidInput for negative limit, got %v", err)
	}

	token, err := svc.IssueToken(ctx, IssueExportTokenCommand{})
	if err != nil {
		t.Fatalf("IssueToken with defaults: %v", err)
	}
	if _, err := svc.Export(ctx, token.Token); err != nil {
		t.Fatalf("Export with defaults: %v", err)
	}
	if f.stats.query.Granularity != domain.StatsByDay || f.stats.query.Limit != defaultStatsLimit {
		t.Fatalf("expected day/%d defaults, got %+v", defaultStatsLimit, f.stats.query)
	}
}

func TestExportServiceWrapsUploadFailure(t *testing.T) {
	f := newExportFixture()
	f.uploader.err = errors.New("bucket gone")
	svc := f.service(t)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, IssueExportTokenCommand{ActorID: "staff-1"})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := svc.Export(ctx, token.Token); !errors.Is(err, ErrExportUnavailable) {
		t.Fatalf("expected ErrExportUnavailable, got %v", err)
	}
}
