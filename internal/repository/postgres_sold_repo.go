package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/listingsweep/internal/model"
)

// PostgresSoldRepo はPostgreSQLを使用した売却記録リポジトリ。
type PostgresSoldRepo struct {
	db TxBeginner
}

// NewPostgresSoldRepo はPostgresSoldRepoを生成する。
func NewPostgresSoldRepo(db *sql.DB) *PostgresSoldRepo {
	return &PostgresSoldRepo{db: db}
}

// InsertSoldRecords は売却記録をCOPYで一括挿入する。
// 途中で失敗した場合はトランザクションごと破棄され、1件も書き込まれない。
func (r *PostgresSoldRepo) InsertSoldRecords(ctx context.Context, records []model.SoldRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("sold_items", "vinted_id", "updated_at"))
	if err != nil {
		return fmt.Errorf("COPY文の準備に失敗しました: %w", err)
	}

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, rec.VintedID, rec.UpdatedAt); err != nil {
			stmt.Close()
			return fmt.Errorf("売却記録の書き込みに失敗しました (vinted_id=%d): %w", rec.VintedID, err)
		}
	}

	// 引数なしのExecでバッファをフラッシュする
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("売却記録のフラッシュに失敗しました: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("COPY文のクローズに失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("売却記録のコミットに失敗しました: %w", err)
	}

	return nil
}
