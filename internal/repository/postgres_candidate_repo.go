package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/hitoshi/listingsweep/internal/model"
)

// PostgresCandidateRepo はitems_activeビューから候補を読み取るリポジトリ。
type PostgresCandidateRepo struct {
	db *sql.DB
}

// NewPostgresCandidateRepo はPostgresCandidateRepoを生成する。
func NewPostgresCandidateRepo(db *sql.DB) *PostgresCandidateRepo {
	return &PostgresCandidateRepo{db: db}
}

// ListPage は条件に一致する候補を1ページ分取得する。
func (r *PostgresCandidateRepo) ListPage(ctx context.Context, q model.PageQuery) ([]model.CandidateItem, error) {
	query, args := buildCandidateQuery(q)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("候補ページの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var items []model.CandidateItem
	for rows.Next() {
		var item model.CandidateItem
		var brand sql.NullString
		if err := rows.Scan(&item.ID, &item.VintedID, &item.URL, &brand); err != nil {
			return nil, fmt.Errorf("候補行のスキャンに失敗しました: %w", err)
		}
		if brand.Valid {
			item.Brand = brand.String
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("候補行の読み取りに失敗しました: %w", err)
	}

	return items, nil
}

// buildCandidateQuery は候補ページ取得用のSQLと引数を組み立てる。
// 日付順といいね順が両方指定された場合はcreated_atを第1キー、num_likesを第2キーとする。
// ページングを安定させるため最後にidを加える。
func buildCandidateQuery(q model.PageQuery) (string, []any) {
	var sb strings.Builder
	args := []any{q.JobPrefix}

	sb.WriteString(`SELECT id, vinted_id, url, brand FROM items_active WHERE job_prefix = $1`)

	if q.TopBrandsOnly {
		args = append(args, pq.Array(q.TopBrands))
		fmt.Fprintf(&sb, ` AND brand = ANY($%d)`, len(args))
	}

	var orderBy []string
	if q.SortByDate {
		orderBy = append(orderBy, "created_at")
	}
	if q.SortByLikes {
		orderBy = append(orderBy, "num_likes DESC")
	}
	orderBy = append(orderBy, "id")
	sb.WriteString(" ORDER BY " + strings.Join(orderBy, ", "))

	args = append(args, q.Limit)
	fmt.Fprintf(&sb, ` LIMIT $%d`, len(args))
	args = append(args, q.Offset)
	fmt.Fprintf(&sb, ` OFFSET $%d`, len(args))

	return sb.String(), args
}
