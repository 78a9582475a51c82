// Package availability は出品1件の販売状況を判定する。
// 出品APIによる高速判定と、出品ページのHTML解析による判定を組み合わせる。
package availability

import "github.com/hitoshi/listingsweep/internal/model"

// Kind は判定結果の種別。
type Kind int

const (
	// KindResolved は状態が確定したことを表す。
	KindResolved Kind = iota
	// KindUnresolved は状態を判定できなかったことを表す（エラーではない）。
	KindUnresolved
	// KindFailed はページ取得に失敗したことを表す。
	KindFailed
)

// String はログ出力用の種別名を返す。
func (k Kind) String() string {
	switch k {
	case KindResolved:
		return "resolved"
	case KindUnresolved:
		return "unresolved"
	case KindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result は1件の判定結果。StatusはKindResolvedの場合のみ意味を持つ。
type Result struct {
	Kind   Kind
	Status model.ItemStatus
	Err    error
}

// Resolved は状態が確定した結果を生成する。
func Resolved(status model.ItemStatus) Result {
	return Result{Kind: KindResolved, Status: status}
}

// Unresolved は判定不能の結果を生成する。
func Unresolved() Result {
	return Result{Kind: KindUnresolved, Status: model.ItemStatusUnknown}
}

// Failed は取得失敗の結果を生成する。
func Failed(err error) Result {
	return Result{Kind: KindFailed, Status: model.ItemStatusUnknown, Err: err}
}

// Unavailable は売却済みまたは削除済みと確定したかを返す。
func (r Result) Unavailable() bool {
	return r.Kind == KindResolved && r.Status.IsUnavailable()
}

// Available は出品中と確定したかを返す。
func (r Result) Available() bool {
	return r.Kind == KindResolved && r.Status == model.ItemStatusAvailable
}
