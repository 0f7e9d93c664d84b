package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/HridoyExe/library-management/internal/metrics"
	"github.com/HridoyExe/library-management/internal/model"
	"github.com/HridoyExe/library-management/internal/repository"
)

// mockAuditRepo はAuditRepositoryのモック。
type mockAuditRepo struct {
	findMismatchesFn func(ctx context.Context) ([]repository.AvailabilityMismatch, error)
	findDuplicatesFn func(ctx context.Context) (map[string]int, error)
}

func (m *mockAuditRepo) FindAvailabilityMismatches(ctx context.Context) ([]repository.AvailabilityMismatch, error) {
	if m.findMismatchesFn != nil {
		return m.findMismatchesFn(ctx)
	}
	return nil, nil
}

func (m *mockAuditRepo) FindDuplicateOpenRecords(ctx context.Context) (map[string]int, error) {
	if m.findDuplicatesFn != nil {
		return m.findDuplicatesFn(ctx)
	}
	return map[string]int{}, nil
}

// gaugeRecorder はSetAuditInconsistenciesの呼び出しを記録する。
type gaugeRecorder struct {
	metrics.NopCollector
	mu     sync.Mutex
	gauges map[string]int
	calls  int
}

func (g *gaugeRecorder) SetAuditInconsistencies(kind string, count int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gauges == nil {
		g.gauges = make(map[string]int)
	}
	g.gauges[kind] = count
	g.calls++
}

func (g *gaugeRecorder) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func TestAuditJob_Run_Consistent(t *testing.T) {
	var buf bytes.Buffer
	gauges := &gaugeRecorder{}
	job := NewAuditJob(&mockAuditRepo{}, gauges, newTestLogger(&buf))

	report, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !report.Consistent() {
		t.Errorf("report should be consistent: %+v", report)
	}
	if gauges.gauges[metrics.AuditAvailabilityMismatch] != 0 || gauges.gauges[metrics.AuditDuplicateOpen] != 0 {
		t.Errorf("gauges = %v, want zeros", gauges.gauges)
	}
	if strings.Contains(buf.String(), `"level":"WARN"`) {
		t.Errorf("consistent audit should not warn: %s", buf.String())
	}
}

func TestAuditJob_Run_ReportsFindings(t *testing.T) {
	var buf bytes.Buffer
	gauges := &gaugeRecorder{}
	repo := &mockAuditRepo{
		findMismatchesFn: func(ctx context.Context) ([]repository.AvailabilityMismatch, error) {
			return []repository.AvailabilityMismatch{
				{BookID: "b1", AvailabilityStatus: true, OpenRecords: 1},
				{BookID: "b2", AvailabilityStatus: false, OpenRecords: 0},
			}, nil
		},
		findDuplicatesFn: func(ctx context.Context) (map[string]int, error) {
			return map[string]int{"b3": 2}, nil
		},
	}
	job := NewAuditJob(repo, gauges, newTestLogger(&buf))

	report, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if report.Consistent() {
		t.Error("report should not be consistent")
	}
	if gauges.gauges[metrics.AuditAvailabilityMismatch] != 2 {
		t.Errorf("mismatch gauge = %d, want 2", gauges.gauges[metrics.AuditAvailabilityMismatch])
	}
	if gauges.gauges[metrics.AuditDuplicateOpen] != 1 {
		t.Errorf("duplicate gauge = %d, want 1", gauges.gauges[metrics.AuditDuplicateOpen])
	}

	out := buf.String()
	for _, want := range []string{`"book_id":"b1"`, `"book_id":"b2"`, `"book_id":"b3"`, "availability mismatch", "duplicate open borrow records"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q", want)
		}
	}
}

func TestAuditJob_Run_RepositoryError(t *testing.T) {
	tests := []struct {
		name string
		repo *mockAuditRepo
	}{
		{
			name: "貸出可否の取得に失敗",
			repo: &mockAuditRepo{
				findMismatchesFn: func(ctx context.Context) ([]repository.AvailabilityMismatch, error) {
					return nil, errors.New("connection reset")
				},
			},
		},
		{
			name: "重複の取得に失敗",
			repo: &mockAuditRepo{
				findDuplicatesFn: func(ctx context.Context) (map[string]int, error) {
					return nil, errors.New("connection reset")
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			gauges := &gaugeRecorder{}
			job := NewAuditJob(tt.repo, gauges, newTestLogger(&buf))

			if _, err := job.Run(context.Background()); err == nil {
				t.Fatal("expected error, got nil")
			}
			if gauges.callCount() != 0 {
				t.Error("gauges should not be updated when the audit fails")
			}
			if !strings.Contains(buf.String(), "connection reset") {
				t.Errorf("error should be logged: %s", buf.String())
			}
		})
	}
}

// 書籍と履歴を実際に持つストアで、不整合のない状態と壊れた状態を判定できる。
func TestAuditJob_Run_WithMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	if err := store.Authors().Create(ctx, testAuthor()); err != nil {
		t.Fatalf("author create: %v", err)
	}
	book := testBook()
	if err := store.Books().Create(ctx, book); err != nil {
		t.Fatalf("book create: %v", err)
	}

	var buf bytes.Buffer
	job := NewAuditJob(store.Audit(), nil, newTestLogger(&buf))

	report, err := job.Run(ctx)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !report.Consistent() {
		t.Fatalf("fresh store should be consistent: %+v", report)
	}

	err = store.Lending().RunInTx(ctx, func(ctx context.Context, tx repository.LendingTx) error {
		return tx.SetBookAvailability(ctx, book.ID, false)
	})
	if err != nil {
		t.Fatalf("SetBookAvailability: %v", err)
	}

	report, err = job.Run(ctx)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(report.Mismatches) != 1 || report.Mismatches[0].BookID != book.ID {
		t.Errorf("mismatches = %+v, want %s", report.Mismatches, book.ID)
	}
}

func TestAuditJob_Start_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	gauges := &gaugeRecorder{}
	job := NewAuditJob(&mockAuditRepo{}, gauges, newTestLogger(&buf))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, 20*time.Millisecond)
		close(done)
	}()

	time.Sleep(70 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}

	// 1回の監査で2種類のゲージを設定する
	if runs := gauges.callCount() / 2; runs < 2 {
		t.Errorf("audit runs = %d, want at least 2", runs)
	}
}

func testAuthor() *model.Author {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &model.Author{ID: "6a1f4a0e-3d5b-4c1e-9f7a-2b8c9d0e1f2a", Name: "Octavia Butler", CreatedAt: now, UpdatedAt: now}
}

func testBook() *model.Book {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &model.Book{
		ID:                 "0c3e8f52-7b1d-4a6e-8c2f-5d9a0b1c2d3e",
		Title:              "Kindred",
		ISBN:               "9780807083697",
		AvailabilityStatus: true,
		AuthorID:           "6a1f4a0e-3d5b-4c1e-9f7a-2b8c9d0e1f2a",
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}
