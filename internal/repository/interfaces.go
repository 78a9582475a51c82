// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hitoshi/listingsweep/internal/model"
)

// ErrCursorNotFound はカーソル行が登録されていないことを表す。
var ErrCursorNotFound = errors.New("job cursor not found")

// CursorRepository はジョブカーソルの永続化インターフェース。
type CursorRepository interface {
	// UpsertAndRead はジョブIDを未登録なら値0で登録し、現在の値を返す。
	// 登録とread は単一文で原子的に行う。createdは今回新規登録された場合にtrue。
	UpsertAndRead(ctx context.Context, jobID string) (value int, created bool, err error)

	// Write はカーソル値を保存する。未登録の場合はErrCursorNotFoundを返す。
	Write(ctx context.Context, jobID string, value int) error
}

// CandidateRepository は再チェック対象の出品の読み取りインターフェース。
type CandidateRepository interface {
	// ListPage は条件に一致する候補を1ページ分取得する。
	ListPage(ctx context.Context, q model.PageQuery) ([]model.CandidateItem, error)
}

// PointRepository は出品とベクトルポイントの対応表の読み取りインターフェース。
type PointRepository interface {
	// LookupPointIDs は内部IDに対応するポイントIDを返す。対応がなければ空。
	LookupPointIDs(ctx context.Context, itemIDs []string) ([]string, error)
}

// SoldRepository は売却記録の永続化インターフェース。
type SoldRepository interface {
	// InsertSoldRecords は売却記録を1トランザクションで挿入する。
	InsertSoldRecords(ctx context.Context, records []model.SoldRecord) error
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
