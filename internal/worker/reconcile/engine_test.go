package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/listingsweep/internal/availability"
	"github.com/hitoshi/listingsweep/internal/model"
)

// --- テスト用モック ---

// mockJobs はJobSourceのテスト用モック。
type mockJobs struct {
	cfg       model.JobConfig
	nextErr   error
	commitErr error
	committed []model.JobConfig
	rewinds   int
}

func (m *mockJobs) Next(context.Context) (*model.JobConfig, error) {
	if m.nextErr != nil {
		return nil, m.nextErr
	}
	cfg := m.cfg
	return &cfg, nil
}

func (m *mockJobs) Commit(_ context.Context, cfg *model.JobConfig) error {
	if m.commitErr != nil {
		return m.commitErr
	}
	m.committed = append(m.committed, *cfg)
	return nil
}

func (m *mockJobs) Rewind(cfg *model.JobConfig) {
	m.rewinds++
	cfg.Index = 0
}

// mockCandidates はCandidateRepositoryのテスト用モック。
type mockCandidates struct {
	listPageFn func(ctx context.Context, q model.PageQuery) ([]model.CandidateItem, error)
	queries    []model.PageQuery
}

func (m *mockCandidates) ListPage(ctx context.Context, q model.PageQuery) ([]model.CandidateItem, error) {
	m.queries = append(m.queries, q)
	return m.listPageFn(ctx, q)
}

// mockResolver はURLごとに判定結果を返すモック。
type mockResolver struct {
	results  map[string]availability.Result
	fallback availability.Result
	onCall   func()
	calls    int
}

func (m *mockResolver) Resolve(_ context.Context, _ int64, itemURL string, _ bool) availability.Result {
	m.calls++
	if m.onCall != nil {
		m.onCall()
	}
	if r, ok := m.results[itemURL]; ok {
		return r
	}
	return m.fallback
}

// mockCoordinator はCoordinatorのテスト用モック。
type mockCoordinator struct {
	applyFn    func(itemIDs []string, vintedIDs []int64) (bool, []string)
	confirmOK  bool
	batches    [][]string
	mismatched bool
	confirmed  [][]string
}

func (m *mockCoordinator) Apply(_ context.Context, itemIDs []string, vintedIDs []int64) (bool, []string) {
	if len(itemIDs) != len(vintedIDs) {
		m.mismatched = true
	}
	m.batches = append(m.batches, itemIDs)
	if m.applyFn != nil {
		return m.applyFn(itemIDs, vintedIDs)
	}
	ids := make([]string, len(itemIDs))
	for i, id := range itemIDs {
		ids[i] = "point-" + id
	}
	return true, ids
}

func (m *mockCoordinator) ConfirmDeleted(_ context.Context, pointIDs []string) bool {
	m.confirmed = append(m.confirmed, pointIDs)
	return m.confirmOK
}

// mockRecorder はRecorderのテスト用モック。
type mockRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
	flushes  []bool
	deleted  int
	cursors  map[string]int
	runs     int
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{outcomes: map[string]int{}, cursors: map[string]int{}}
}

func (m *mockRecorder) RecordItem(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[outcome]++
}

func (m *mockRecorder) RecordFlush(success bool, _ int, deletedPoints int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes = append(m.flushes, success)
	m.deleted += deletedPoints
}

func (m *mockRecorder) SetCursor(jobID string, index int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[jobID] = index
}

func (m *mockRecorder) RecordRun(*model.RunStats, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs++
}

func (m *mockRecorder) runCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs
}

// --- ヘルパー ---

func makeItems(n int) []model.CandidateItem {
	items := make([]model.CandidateItem, n)
	for i := range items {
		id := string(rune('a' + i))
		items[i] = model.CandidateItem{
			ID:       "item-" + id,
			VintedID: int64(100 + i),
			URL:      "https://www.vinted.fr/items/" + id,
		}
	}
	return items
}

func pageOf(items []model.CandidateItem) *mockCandidates {
	return &mockCandidates{listPageFn: func(context.Context, model.PageQuery) ([]model.CandidateItem, error) {
		return items, nil
	}}
}

func testSettings(flushEvery int) Settings {
	return Settings{JobPrefix: "availability3", PageSize: 10, FlushEvery: flushEvery, TopBrands: []string{"Nike"}}
}

func newTestEngine(jobs JobSource, candidates *mockCandidates, resolver Resolver, coord Coordinator, rec Recorder, s Settings) *Engine {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewEngine(jobs, candidates, resolver, coord, rec, s, logger)
}

var (
	available   = availability.Resolved(model.ItemStatusAvailable)
	sold        = availability.Resolved(model.ItemStatusSold)
	notFound    = availability.Resolved(model.ItemStatusNotFound)
	unresolved  = availability.Unresolved()
	failedFetch = availability.Failed(errors.New("connection reset"))
)

// --- シナリオ ---

// TestRunOnce_AllAvailable は全件が出品中の場合に何も反映されないことを検証する。
func TestRunOnce_AllAvailable(t *testing.T) {
	jobs := &mockJobs{cfg: model.JobConfig{ID: "availability3_all", Index: 2}}
	candidates := pageOf(makeItems(3))
	coord := &mockCoordinator{}
	rec := newMockRecorder()
	e := newTestEngine(jobs, candidates, &mockResolver{fallback: available}, coord, rec, testSettings(500))

	stats, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}

	if stats.Processed != 3 || stats.Succeeded != 3 || stats.Available != 3 {
		t.Errorf("stats = %+v, want 3 processed/succeeded/available", stats)
	}
	if stats.Updated != 0 || len(coord.batches) != 0 {
		t.Errorf("nothing should be flushed, got updated=%d batches=%d", stats.Updated, len(coord.batches))
	}
	if len(jobs.committed) != 1 || jobs.committed[0].Index != 2 {
		t.Errorf("committed = %+v, want index 2", jobs.committed)
	}
	if rec.cursors["availability3_all"] != 2 || rec.runs != 1 {
		t.Errorf("recorder cursors=%v runs=%d", rec.cursors, rec.runs)
	}
	if candidates.queries[0].Offset != 20 || candidates.queries[0].Limit != 10 {
		t.Errorf("query = %+v, want offset 20 limit 10", candidates.queries[0])
	}
}

// TestRunOnce_PeriodicFlushes はフラッシュ間隔2で4件売却済みの場合に2件ずつ2回反映されることを検証する。
func TestRunOnce_PeriodicFlushes(t *testing.T) {
	jobs := &mockJobs{cfg: model.JobConfig{ID: "availability3_all", Index: 1}}
	coord := &mockCoordinator{confirmOK: true}
	rec := newMockRecorder()
	e := newTestEngine(jobs, pageOf(makeItems(4)), &mockResolver{fallback: sold}, coord, rec, testSettings(2))

	stats, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}

	if len(coord.batches) != 2 {
		t.Fatalf("flushes = %d, want 2", len(coord.batches))
	}
	for i, b := range coord.batches {
		if len(b) != 2 {
			t.Errorf("batch[%d] size = %d, want 2", i, len(b))
		}
	}
	if stats.Updated != 4 || stats.Unavailable != 4 || stats.DeletedPoints != 4 {
		t.Errorf("stats = %+v, want 4 updated/unavailable/deleted", stats)
	}
	if len(coord.confirmed) != 0 {
		t.Error("no drain flush expected, the batch should be empty at drain")
	}
	if rec.deleted != 4 {
		t.Errorf("recorded deleted = %d, want 4", rec.deleted)
	}
	if coord.mismatched {
		t.Error("batch sides must have equal length")
	}
}

// TestRunOnce_EmptyPageRewinds は候補が0件の場合にカーソルを0に戻して再取得することを検証する。
func TestRunOnce_EmptyPageRewinds(t *testing.T) {
	jobs := &mockJobs{cfg: model.JobConfig{ID: "availability3_likes", Index: 9, SortByLikes: true}}
	candidates := &mockCandidates{listPageFn: func(_ context.Context, q model.PageQuery) ([]model.CandidateItem, error) {
		if q.Offset > 0 {
			return nil, nil
		}
		return makeItems(2), nil
	}}
	e := newTestEngine(jobs, candidates, &mockResolver{fallback: available}, &mockCoordinator{}, nil, testSettings(500))

	stats, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}

	if jobs.rewinds != 1 {
		t.Errorf("rewinds = %d, want 1", jobs.rewinds)
	}
	if len(candidates.queries) != 2 || candidates.queries[0].Offset != 90 || candidates.queries[1].Offset != 0 {
		t.Errorf("queries = %+v, want offsets [90 0]", candidates.queries)
	}
	if !candidates.queries[1].SortByLikes {
		t.Error("retry query should keep the job filters")
	}
	if stats.Processed != 2 {
		t.Errorf("processed = %d, want 2", stats.Processed)
	}
	if len(jobs.committed) != 1 || jobs.committed[0].Index != 0 {
		t.Errorf("committed = %+v, want index 0", jobs.committed)
	}
}

// TestRunOnce_FailedRowContinues は判定失敗した行が成功に計上されず、次の行へ進むことを検証する。
func TestRunOnce_FailedRowContinues(t *testing.T) {
	items := makeItems(3)
	resolver := &mockResolver{
		results:  map[string]availability.Result{items[1].URL: failedFetch},
		fallback: available,
	}
	rec := newMockRecorder()
	e := newTestEngine(&mockJobs{cfg: model.JobConfig{ID: "j"}}, pageOf(items), resolver, &mockCoordinator{}, rec, testSettings(500))

	stats, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}

	if resolver.calls != 3 {
		t.Errorf("resolver calls = %d, want 3", resolver.calls)
	}
	if stats.Processed != 3 || stats.Succeeded != 2 {
		t.Errorf("stats = %+v, want processed 3 succeeded 2", stats)
	}
	if rec.outcomes["failed"] != 1 || rec.outcomes["available"] != 2 {
		t.Errorf("outcomes = %v", rec.outcomes)
	}
}

func TestRunOnce_UnresolvedCountsAsSuccessWithoutBatching(t *testing.T) {
	coord := &mockCoordinator{}
	e := newTestEngine(&mockJobs{cfg: model.JobConfig{ID: "j"}}, pageOf(makeItems(2)), &mockResolver{fallback: unresolved}, coord, nil, testSettings(1))

	stats, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}

	if stats.Succeeded != 2 || stats.Unresolved != 2 || stats.Unavailable != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if len(coord.batches) != 0 {
		t.Error("unresolved items must not be flushed")
	}
}

func TestRunOnce_FailedFlushIsNotCredited(t *testing.T) {
	calls := 0
	coord := &mockCoordinator{applyFn: func(itemIDs []string, _ []int64) (bool, []string) {
		calls++
		if calls == 1 {
			return false, nil
		}
		return true, []string{"p-" + itemIDs[0]}
	}}
	e := newTestEngine(&mockJobs{cfg: model.JobConfig{ID: "j"}}, pageOf(makeItems(4)), &mockResolver{fallback: notFound}, coord, nil, testSettings(2))

	stats, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}

	if stats.Updated != 2 {
		t.Errorf("updated = %d, want 2 (only the second flush)", stats.Updated)
	}
	if stats.FailedFlushes != 1 || stats.Flushes != 2 {
		t.Errorf("flushes = %d failed = %d, want 2/1", stats.Flushes, stats.FailedFlushes)
	}
	if len(coord.batches[1]) != 2 {
		t.Errorf("second batch should only contain new items, got %v", coord.batches[1])
	}
}

// TestRunOnce_DrainConfirmsDeletedPoints は最後のバッチのポイントが再削除で確認されてから計上されることを検証する。
func TestRunOnce_DrainConfirmsDeletedPoints(t *testing.T) {
	tests := []struct {
		name        string
		confirmOK   bool
		wantDeleted int
	}{
		{"確認成功", true, 3},
		{"確認失敗", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coord := &mockCoordinator{confirmOK: tt.confirmOK}
			rec := newMockRecorder()
			e := newTestEngine(&mockJobs{cfg: model.JobConfig{ID: "j"}}, pageOf(makeItems(3)), &mockResolver{fallback: sold}, coord, rec, testSettings(500))

			stats, err := e.RunOnce(context.Background())
			if err != nil {
				t.Fatalf("RunOnce error: %v", err)
			}

			if len(coord.batches) != 1 || len(coord.confirmed) != 1 {
				t.Fatalf("batches=%d confirmed=%d, want 1/1", len(coord.batches), len(coord.confirmed))
			}
			if stats.Updated != 3 {
				t.Errorf("updated = %d, want 3", stats.Updated)
			}
			if stats.DeletedPoints != tt.wantDeleted {
				t.Errorf("deleted = %d, want %d", stats.DeletedPoints, tt.wantDeleted)
			}
			// メトリクスとログの削除数は一致する
			if rec.deleted != stats.DeletedPoints {
				t.Errorf("recorded deleted = %d, stats deleted = %d", rec.deleted, stats.DeletedPoints)
			}
		})
	}
}

// TestRunOnce_ProgressLogUsesAttributes は進捗ログが固定メッセージと属性で出力されることを検証する。
func TestRunOnce_ProgressLogUsesAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	e := NewEngine(&mockJobs{cfg: model.JobConfig{ID: "j"}}, pageOf(makeItems(2)), &mockResolver{fallback: available}, &mockCoordinator{}, nil, testSettings(1), logger)

	if _, err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}

	var progress []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		if err := json.Unmarshal(line, &entry); err != nil {
			t.Fatalf("log line is not JSON: %v\n%s", err, line)
		}
		if entry["msg"] == "照合ランの進捗" {
			progress = append(progress, entry)
		}
	}

	// フラッシュ間隔1で2件処理すると途中経過2回と最終1回
	if len(progress) != 3 {
		t.Fatalf("progress lines = %d, want 3\n%s", len(progress), buf.String())
	}
	last := progress[len(progress)-1]
	if last["processed"] != float64(2) || last["available"] != float64(2) || last["success_rate"] != float64(1) {
		t.Errorf("progress attributes = %v", last)
	}
	if last["job_id"] != "j" {
		t.Errorf("job_id = %v, want j", last["job_id"])
	}
}

// TestRunOnce_BatchInvariant は混在した結果でも反映されるバッチの両側が同じ長さであることを検証する。
func TestRunOnce_BatchInvariant(t *testing.T) {
	items := makeItems(7)
	results := map[string]availability.Result{}
	for i, item := range items {
		switch i % 3 {
		case 0:
			results[item.URL] = sold
		case 1:
			results[item.URL] = available
		default:
			results[item.URL] = notFound
		}
	}
	coord := &mockCoordinator{confirmOK: true}
	e := newTestEngine(&mockJobs{cfg: model.JobConfig{ID: "j"}}, pageOf(items), &mockResolver{results: results}, coord, nil, testSettings(3))

	stats, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}

	if coord.mismatched {
		t.Error("item_ids and vinted_ids must always have equal length")
	}
	total := 0
	for _, b := range coord.batches {
		total += len(b)
	}
	if total != stats.Unavailable || stats.Unavailable != 5 {
		t.Errorf("flushed %d items, unavailable %d, want 5", total, stats.Unavailable)
	}
}

func TestRunOnce_CommitFailureDoesNotFailRun(t *testing.T) {
	jobs := &mockJobs{cfg: model.JobConfig{ID: "j", Index: 1}, commitErr: errors.New("db down")}
	rec := newMockRecorder()
	e := newTestEngine(jobs, pageOf(makeItems(1)), &mockResolver{fallback: available}, &mockCoordinator{}, rec, testSettings(500))

	if _, err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce should not fail on commit error: %v", err)
	}
	if _, ok := rec.cursors["j"]; ok {
		t.Error("cursor gauge should not be updated when the commit fails")
	}
}

func TestRunOnce_SetupFailures(t *testing.T) {
	t.Run("ジョブ設定", func(t *testing.T) {
		jobs := &mockJobs{nextErr: errors.New("db down")}
		e := newTestEngine(jobs, pageOf(nil), &mockResolver{}, &mockCoordinator{}, nil, testSettings(500))
		if _, err := e.RunOnce(context.Background()); err == nil {
			t.Fatal("RunOnce should fail")
		}
	})

	t.Run("候補ページ", func(t *testing.T) {
		jobs := &mockJobs{cfg: model.JobConfig{ID: "j"}}
		candidates := &mockCandidates{listPageFn: func(context.Context, model.PageQuery) ([]model.CandidateItem, error) {
			return nil, errors.New("query failed")
		}}
		e := newTestEngine(jobs, candidates, &mockResolver{}, &mockCoordinator{}, nil, testSettings(500))
		if _, err := e.RunOnce(context.Background()); err == nil {
			t.Fatal("RunOnce should fail")
		}
		if len(jobs.committed) != 0 {
			t.Error("cursor should not be committed")
		}
	})
}

// TestRunOnce_CancelledDropsBatchAndSkipsCommit はキャンセル時にバッチを破棄しカーソルを保存しないことを検証する。
func TestRunOnce_CancelledDropsBatchAndSkipsCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resolver := &mockResolver{fallback: sold}
	resolver.onCall = func() {
		if resolver.calls == 2 {
			cancel()
		}
	}
	jobs := &mockJobs{cfg: model.JobConfig{ID: "j", Index: 3}}
	coord := &mockCoordinator{}
	e := newTestEngine(jobs, pageOf(makeItems(5)), resolver, coord, nil, testSettings(500))

	stats, err := e.RunOnce(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if stats.Processed != 2 {
		t.Errorf("processed = %d, want 2", stats.Processed)
	}
	if len(coord.batches) != 0 {
		t.Error("pending batch should be dropped")
	}
	if len(jobs.committed) != 0 {
		t.Error("cursor should not be committed")
	}
}

func TestStart_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := newMockRecorder()
	e := newTestEngine(&mockJobs{cfg: model.JobConfig{ID: "j"}}, pageOf(makeItems(1)), &mockResolver{fallback: available}, &mockCoordinator{}, rec, testSettings(500))

	done := make(chan struct{})
	go func() {
		e.Start(ctx, time.Hour)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for rec.runCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("first run did not happen")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not stop after cancel")
	}
}
