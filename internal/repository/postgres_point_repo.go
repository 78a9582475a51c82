package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresPointRepo はitem_pointsテーブルからポイントIDを引くリポジトリ。
type PostgresPointRepo struct {
	db *sql.DB
}

// NewPostgresPointRepo はPostgresPointRepoを生成する。
func NewPostgresPointRepo(db *sql.DB) *PostgresPointRepo {
	return &PostgresPointRepo{db: db}
}

// LookupPointIDs は内部IDに対応するポイントIDを返す。
func (r *PostgresPointRepo) LookupPointIDs(ctx context.Context, itemIDs []string) ([]string, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT point_id FROM item_points WHERE item_id = ANY($1) ORDER BY point_id`,
		pq.Array(itemIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("ポイントIDの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var pointIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ポイントIDのスキャンに失敗しました: %w", err)
		}
		pointIDs = append(pointIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ポイントIDの読み取りに失敗しました: %w", err)
	}

	return pointIDs, nil
}
