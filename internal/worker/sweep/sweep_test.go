package sweep

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// --- モック定義 ---

type mockSweeper struct {
	mu      sync.Mutex
	calls   int
	deleted int64
	err     error
	lastNow time.Time
}

func (m *mockSweeper) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastNow = now
	return m.deleted, m.err
}

func (m *mockSweeper) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockRecorder struct {
	mu    sync.Mutex
	total int64
}

func (m *mockRecorder) RecordSweepDeleted(count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total += count
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// --- テスト ---

func TestSweepJob_Run_DeletesAndRecords(t *testing.T) {
	var buf bytes.Buffer
	sweeper := &mockSweeper{deleted: 7}
	recorder := &mockRecorder{}
	job := NewSweepJob(sweeper, recorder, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if sweeper.callCount() != 1 {
		t.Errorf("SweepExpired の呼び出し回数 = %d, want 1", sweeper.callCount())
	}
	if recorder.total != 7 {
		t.Errorf("記録された削除件数 = %d, want 7", recorder.total)
	}
	if !strings.Contains(buf.String(), "deleted_count") {
		t.Error("ログに削除件数が出力されていない")
	}
}

func TestSweepJob_Run_PassesCurrentTime(t *testing.T) {
	var buf bytes.Buffer
	sweeper := &mockSweeper{}
	job := NewSweepJob(sweeper, nil, newTestLogger(&buf))

	before := time.Now()
	_ = job.Run(context.Background())
	after := time.Now()

	if sweeper.lastNow.Before(before) || sweeper.lastNow.After(after) {
		t.Errorf("基準時刻 = %v, want between %v and %v", sweeper.lastNow, before, after)
	}
}

func TestSweepJob_Run_ZeroDeleted_Succeeds(t *testing.T) {
	var buf bytes.Buffer
	sweeper := &mockSweeper{deleted: 0}
	recorder := &mockRecorder{}
	job := NewSweepJob(sweeper, recorder, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("削除対象なしでもエラーにならないこと: %v", err)
	}
	if recorder.total != 0 {
		t.Errorf("記録された削除件数 = %d, want 0", recorder.total)
	}
}

func TestSweepJob_Run_PropagatesError(t *testing.T) {
	var buf bytes.Buffer
	sweeper := &mockSweeper{err: errors.New("connection refused")}
	recorder := &mockRecorder{}
	job := NewSweepJob(sweeper, recorder, newTestLogger(&buf))

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("エラーが伝播すること")
	}
	if recorder.total != 0 {
		t.Errorf("失敗時にメトリクスを記録してはならない: %d", recorder.total)
	}
}

func TestSweepJob_Run_NilMetrics(t *testing.T) {
	var buf bytes.Buffer
	sweeper := &mockSweeper{deleted: 3}
	job := NewSweepJob(sweeper, nil, newTestLogger(&buf))

	// metricsがnilでもパニックしないこと
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}
}

func TestSweepJob_Start_RunsImmediatelyAndPeriodically(t *testing.T) {
	var buf bytes.Buffer
	sweeper := &mockSweeper{}
	job := NewSweepJob(sweeper, nil, newTestLogger(&buf))

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
		t.Fatal("Start がキャンセル後に停止しなかった")
	}

	// 起動直後の1回 + 周期実行分
	if sweeper.callCount() < 2 {
		t.Errorf("呼び出し回数 = %d, want >= 2", sweeper.callCount())
	}
}
