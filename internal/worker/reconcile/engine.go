// Package reconcile は候補ページを走査し、売却済み出品を両ストアに反映する照合ランを提供する。
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/listingsweep/internal/availability"
	"github.com/hitoshi/listingsweep/internal/metrics"
	"github.com/hitoshi/listingsweep/internal/model"
	"github.com/hitoshi/listingsweep/internal/repository"
)

// JobSource はジョブ設定の取得とカーソル保存のインターフェース。
type JobSource interface {
	Next(ctx context.Context) (*model.JobConfig, error)
	Commit(ctx context.Context, cfg *model.JobConfig) error
	Rewind(cfg *model.JobConfig)
}

// Resolver は出品1件の販売状況判定のインターフェース。
type Resolver interface {
	Resolve(ctx context.Context, vintedID int64, itemURL string, useFastPath bool) availability.Result
}

// Coordinator は売却済みバッチの反映のインターフェース。
type Coordinator interface {
	Apply(ctx context.Context, itemIDs []string, vintedIDs []int64) (bool, []string)
	ConfirmDeleted(ctx context.Context, pointIDs []string) bool
}

// Recorder はランの計測値を受け取るインターフェース。
type Recorder interface {
	RecordItem(outcome string)
	RecordFlush(success bool, updated, deletedPoints int)
	SetCursor(jobID string, index int)
	RecordRun(stats *model.RunStats, d time.Duration)
}

// Settings はランの動作設定。
type Settings struct {
	JobPrefix   string
	PageSize    int
	FlushEvery  int
	TopBrands   []string
	UseFastPath bool
}

// Engine は照合ランを実行する。1回のラン内の処理はすべて逐次に行う。
type Engine struct {
	jobs        JobSource
	candidates  repository.CandidateRepository
	resolver    Resolver
	coordinator Coordinator
	recorder    Recorder
	settings    Settings
	logger      *slog.Logger
}

// NewEngine はEngineを生成する。recorderはnilでもよい。
func NewEngine(
	jobs JobSource,
	candidates repository.CandidateRepository,
	resolver Resolver,
	coordinator Coordinator,
	recorder Recorder,
	settings Settings,
	logger *slog.Logger,
) *Engine {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if settings.FlushEvery <= 0 {
		settings.FlushEvery = 500
	}
	return &Engine{
		jobs:        jobs,
		candidates:  candidates,
		resolver:    resolver,
		coordinator: coordinator,
		recorder:    recorder,
		settings:    settings,
		logger:      logger,
	}
}

// Start は起動直後に1回ランを実行し、その後はinterval間隔で繰り返す。
// コンテキストがキャンセルされるまで実行を継続する。
func (e *Engine) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("照合ワーカーを開始しました", slog.Duration("interval", interval))

	e.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("照合ワーカーを停止しました")
			return
		case <-ticker.C:
			e.runLogged(ctx)
		}
	}
}

func (e *Engine) runLogged(ctx context.Context) {
	if _, err := e.RunOnce(ctx); err != nil {
		e.logger.Error("照合ランの実行に失敗しました", slog.String("error", err.Error()))
	}
}

// RunOnce は1回の照合ランを実行する。
// ジョブ設定または候補ページを取得できない場合と、途中でキャンセルされた場合はエラーを返す。
// キャンセル時はカーソルを保存せず、未反映のバッチは破棄する。
func (e *Engine) RunOnce(ctx context.Context) (*model.RunStats, error) {
	start := time.Now()

	cfg, err := e.jobs.Next(ctx)
	if err != nil {
		return nil, fmt.Errorf("ジョブ設定の取得に失敗しました: %w", err)
	}
	logger := e.logger.With(
		slog.String("run_id", uuid.NewString()),
		slog.String("job_id", cfg.ID),
	)
	logger.Info("照合ランを開始します",
		slog.Int("index", cfg.Index),
		slog.Bool("only_top_brands", cfg.OnlyTopBrands),
		slog.Bool("sort_by_likes", cfg.SortByLikes),
		slog.Bool("sort_by_date", cfg.SortByDate),
	)

	items, err := e.fetchPage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		e.jobs.Rewind(cfg)
		if items, err = e.fetchPage(ctx, cfg); err != nil {
			return nil, err
		}
	}
	logger.Info("候補ページを取得しました", slog.Int("items", len(items)), slog.Int("offset", cfg.Offset(e.settings.PageSize)))

	stats := &model.RunStats{}
	var batch model.UnavailableBatch

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return e.abort(logger, stats, batch.Len(), err)
		}

		e.process(ctx, logger, item, stats, &batch)

		if stats.Processed%e.settings.FlushEvery == 0 {
			if batch.Len() > 0 {
				if err := ctx.Err(); err != nil {
					return e.abort(logger, stats, batch.Len(), err)
				}
				e.flush(ctx, logger, &batch, stats, false)
			}
			logProgress(logger, stats)
		}
	}

	if batch.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return e.abort(logger, stats, batch.Len(), err)
		}
		e.flush(ctx, logger, &batch, stats, true)
	}

	logProgress(logger, stats)
	logger.Info("ポイントを削除しました", slog.Int("deleted_points", stats.DeletedPoints))

	if err := e.jobs.Commit(ctx, cfg); err == nil {
		e.recorder.SetCursor(cfg.ID, cfg.Index)
	}

	e.recorder.RecordRun(stats, time.Since(start))
	logger.Info("照合ランが完了しました",
		slog.Int("processed", stats.Processed),
		slog.Int("succeeded", stats.Succeeded),
		slog.Int("available", stats.Available),
		slog.Int("unavailable", stats.Unavailable),
		slog.Int("unresolved", stats.Unresolved),
		slog.Int("updated", stats.Updated),
		slog.Int("deleted_points", stats.DeletedPoints),
		slog.Int("flushes", stats.Flushes),
		slog.Int("failed_flushes", stats.FailedFlushes),
		slog.Duration("duration", time.Since(start)),
	)

	return stats, nil
}

// fetchPage はジョブ設定のカーソル位置から候補ページを取得する。
func (e *Engine) fetchPage(ctx context.Context, cfg *model.JobConfig) ([]model.CandidateItem, error) {
	q := cfg.PageQuery(e.settings.JobPrefix, e.settings.PageSize, e.settings.TopBrands)

	items, err := e.candidates.ListPage(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("候補ページの取得に失敗しました (job_id=%s, offset=%d): %w", cfg.ID, q.Offset, err)
	}
	return items, nil
}

// process は出品1件を判定し、集計とバッチに反映する。
func (e *Engine) process(ctx context.Context, logger *slog.Logger, item model.CandidateItem, stats *model.RunStats, batch *model.UnavailableBatch) {
	stats.Processed++

	res := e.resolver.Resolve(ctx, item.VintedID, item.URL, e.settings.UseFastPath)

	switch {
	case res.Kind == availability.KindFailed:
		e.recorder.RecordItem(metrics.OutcomeFailed)
		logger.Debug("出品の判定に失敗しました",
			slog.String("item_id", item.ID),
			slog.Int64("vinted_id", item.VintedID),
			slog.Any("error", res.Err),
		)
	case res.Kind == availability.KindUnresolved:
		stats.Succeeded++
		stats.Unresolved++
		e.recorder.RecordItem(metrics.OutcomeUnresolved)
	case res.Unavailable():
		stats.Succeeded++
		stats.Unavailable++
		batch.Append(item.ID, item.VintedID)
		e.recorder.RecordItem(metrics.OutcomeUnavailable)
	default:
		stats.Succeeded++
		stats.Available++
		e.recorder.RecordItem(metrics.OutcomeAvailable)
	}
}

// flush はバッチを反映し、成否にかかわらずバッチを空にする。
// confirmがtrueの場合、返されたポイントは再削除で確認できたときだけ削除数に計上する。
func (e *Engine) flush(ctx context.Context, logger *slog.Logger, batch *model.UnavailableBatch, stats *model.RunStats, confirm bool) {
	size := batch.Len()
	ok, pointIDs := e.coordinator.Apply(ctx, batch.ItemIDs(), batch.VintedIDs())
	batch.Reset()

	stats.Flushes++
	if !ok {
		stats.FailedFlushes++
		logger.Warn("バッチの反映に失敗しました。次回の走査で再処理されます", slog.Int("batch_size", size))
		e.recorder.RecordFlush(false, size, 0)
		return
	}

	stats.Updated += size
	deleted := len(pointIDs)
	if confirm && deleted > 0 && !e.coordinator.ConfirmDeleted(ctx, pointIDs) {
		logger.Warn("ポイントの削除を確認できませんでした", slog.Int("points", deleted))
		deleted = 0
	}
	stats.DeletedPoints += deleted
	e.recorder.RecordFlush(true, size, deleted)
}

// logProgress はランの途中経過を記録する。
func logProgress(logger *slog.Logger, stats *model.RunStats) {
	logger.Info("照合ランの進捗",
		slog.Int("processed", stats.Processed),
		slog.Int("succeeded", stats.Succeeded),
		slog.Float64("success_rate", stats.SuccessRate()),
		slog.Int("available", stats.Available),
		slog.Int("unavailable", stats.Unavailable),
		slog.Int("updated", stats.Updated),
	)
}

// abort はキャンセルされたランを終了する。カーソルは保存しない。
func (e *Engine) abort(logger *slog.Logger, stats *model.RunStats, pending int, err error) (*model.RunStats, error) {
	logger.Warn("照合ランが中断されました。カーソルは更新しません",
		slog.Int("processed", stats.Processed),
		slog.Int("dropped_batch", pending),
	)
	return stats, fmt.Errorf("照合ランが中断されました: %w", err)
}

type nopRecorder struct{}

func (nopRecorder) RecordItem(string) {}
func (nopRecorder) RecordFlush(bool, int, int) {}
func (nopRecorder) SetCursor(string, int) {}
func (nopRecorder) RecordRun(*model.RunStats, time.Duration) {}
