// Package model はドメインモデルを定義する。
package model

import "time"

// ItemStatus はマーケットプレイス上の出品状態を表す。
type ItemStatus string

const (
	// ItemStatusAvailable は出品中（購入可能）の状態。
	ItemStatusAvailable ItemStatus = "available"
	// ItemStatusSold は売却済みの状態。
	ItemStatusSold ItemStatus = "sold"
	// ItemStatusNotFound は出品ページが存在しない（削除済み）状態。
	ItemStatusNotFound ItemStatus = "not_found"
	// ItemStatusUnknown は状態を判定できなかったことを表す。
	ItemStatusUnknown ItemStatus = "unknown"
)

// IsUnavailable は売却済みまたは削除済みであるかを返す。
func (s ItemStatus) IsUnavailable() bool {
	return s == ItemStatusSold || s == ItemStatusNotFound
}

// CandidateItem は再チェック対象の出品を表す。
// items_activeテーブルの1行に対応し、このシステムからは読み取り専用。
type CandidateItem struct {
	ID       string // 内部ID
	VintedID int64  // マーケットプレイス側の出品ID
	URL      string
	Brand    string
}

// SoldRecord はsold_itemsテーブルに書き込む売却記録。
type SoldRecord struct {
	VintedID  int64
	UpdatedAt time.Time
}

// PageQuery は候補ページ取得の条件を表す。
type PageQuery struct {
	JobPrefix     string
	Offset        int
	Limit         int
	TopBrandsOnly bool
	TopBrands     []string
	SortByDate    bool
	SortByLikes   bool
}
