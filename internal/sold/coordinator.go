// Package sold は売却済み出品をリレーショナルストアとベクトルインデックスの両方に反映する。
package sold

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/listingsweep/internal/model"
	"github.com/hitoshi/listingsweep/internal/repository"
)

// PointDeleter はベクトルインデックスからのポイント削除のインターフェース。
type PointDeleter interface {
	DeletePoints(ctx context.Context, ids []string) bool
}

// Coordinator はポイント削除と売却記録の書き込みを順に行う。
// 削除後に書き込みが失敗した場合、削除済みのポイントは復元せずそのままにする。
type Coordinator struct {
	points  repository.PointRepository
	index   PointDeleter
	soldRep repository.SoldRepository
	logger  *slog.Logger
	now     func() time.Time
}

// NewCoordinator はCoordinatorを生成する。
func NewCoordinator(points repository.PointRepository, index PointDeleter, soldRep repository.SoldRepository, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		points:  points,
		index:   index,
		soldRep: soldRep,
		logger:  logger,
		now:     time.Now,
	}
}

// Apply は1バッチ分の売却済み出品を反映する。
// 成功時はtrueと削除したポイントIDを返す。入力が空または長さ不一致の場合と、
// いずれかの段階で失敗した場合はfalseとnilを返す。
func (c *Coordinator) Apply(ctx context.Context, itemIDs []string, vintedIDs []int64) (bool, []string) {
	if len(itemIDs) == 0 {
		c.logger.Warn("空のバッチは反映しません", slog.String("error", model.ErrEmptyBatch.Error()))
		return false, nil
	}
	if len(itemIDs) != len(vintedIDs) {
		c.logger.Error("バッチの長さが一致しません",
			slog.Int("item_ids", len(itemIDs)),
			slog.Int("vinted_ids", len(vintedIDs)),
			slog.String("error", model.ErrBatchMismatch.Error()),
		)
		return false, nil
	}

	pointIDs, err := c.points.LookupPointIDs(ctx, itemIDs)
	if err != nil {
		c.logger.Error("ポイントIDの取得に失敗しました",
			slog.Int("batch_size", len(itemIDs)),
			slog.String("error", err.Error()),
		)
		return false, nil
	}

	if !c.index.DeletePoints(ctx, pointIDs) {
		c.logger.Error("ポイントの削除に失敗しました",
			slog.Int("batch_size", len(itemIDs)),
			slog.Int("points", len(pointIDs)),
		)
		return false, nil
	}

	updatedAt := c.now()
	records := make([]model.SoldRecord, 0, len(vintedIDs))
	for _, id := range vintedIDs {
		records = append(records, model.SoldRecord{VintedID: id, UpdatedAt: updatedAt})
	}

	if err := c.soldRep.InsertSoldRecords(ctx, records); err != nil {
		c.logger.Error("売却記録の書き込みに失敗しました。削除済みのポイントは戻しません",
			slog.Int("batch_size", len(records)),
			slog.Int("orphaned_points", len(pointIDs)),
			slog.String("error", err.Error()),
		)
		return false, nil
	}

	c.logger.Info("売却済み出品を反映しました",
		slog.Int("batch_size", len(records)),
		slog.Int("deleted_points", len(pointIDs)),
	)
	return true, pointIDs
}

// ConfirmDeleted はポイントの削除を再度発行して削除済みであることを確認する。
// 削除は冪等なため、既に削除済みのIDも成功として扱われる。
func (c *Coordinator) ConfirmDeleted(ctx context.Context, pointIDs []string) bool {
	if len(pointIDs) == 0 {
		return false
	}
	return c.index.DeletePoints(ctx, pointIDs)
}
