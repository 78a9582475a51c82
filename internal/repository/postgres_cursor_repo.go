package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresCursorRepo はPostgreSQLを使用したジョブカーソルリポジトリ。
type PostgresCursorRepo struct {
	db *sql.DB
}

// NewPostgresCursorRepo はPostgresCursorRepoを生成する。
func NewPostgresCursorRepo(db *sql.DB) *PostgresCursorRepo {
	return &PostgresCursorRepo{db: db}
}

// UpsertAndRead はジョブIDを未登録なら値0で登録し、現在の値を返す。
// ON CONFLICT DO UPDATEで既存行もRETURNINGに含め、xmax = 0で新規挿入かどうかを判定する。
func (r *PostgresCursorRepo) UpsertAndRead(ctx context.Context, jobID string) (int, bool, error) {
	var value int
	var created bool

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO job_cursors (job_id, value) VALUES ($1, 0)
		 ON CONFLICT (job_id) DO UPDATE SET job_id = EXCLUDED.job_id
		 RETURNING value, (xmax = 0) AS created`,
		jobID,
	).Scan(&value, &created)
	if err != nil {
		return 0, false, fmt.Errorf("ジョブカーソルの登録・取得に失敗しました: %w", err)
	}

	return value, created, nil
}

// Write はカーソル値を保存する。
func (r *PostgresCursorRepo) Write(ctx context.Context, jobID string, value int) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE job_cursors SET value = $2, updated_at = now() WHERE job_id = $1`,
		jobID, value,
	)
	if err != nil {
		return fmt.Errorf("ジョブカーソルの更新に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrCursorNotFound, jobID)
	}

	return nil
}
