// Package cursor はジョブバリアントの選択と、バリアントごとの候補ページカーソルを管理する。
package cursor

import "fmt"

// Random は[0.0, 1.0)の乱数源。*rand.Randが満たす。
type Random interface {
	Float64() float64
}

// Probabilities は各フラグがtrueになる確率。
type Probabilities struct {
	TopBrands float64
	Likes     float64
	Date      float64
}

// Variant は1回のランで使うフラグの組み合わせ。
type Variant struct {
	OnlyTopBrands bool
	SortByLikes   bool
	SortByDate    bool
}

// SelectVariant は3つの独立したベルヌーイ試行でバリアントを決める。
// 乱数はtop_brands、likes、dateの順に1回ずつ消費する。
func SelectVariant(r Random, p Probabilities) Variant {
	return Variant{
		OnlyTopBrands: r.Float64() < p.TopBrands,
		SortByLikes:   r.Float64() < p.Likes,
		SortByDate:    r.Float64() < p.Date,
	}
}

// JobID はバリアントからジョブIDを決める。
// 優先順位はtop_brands > likes > date > allで、他のフラグの値には影響されない。
func JobID(prefix string, v Variant) string {
	switch {
	case v.OnlyTopBrands:
		return fmt.Sprintf("%s_top_brands", prefix)
	case v.SortByLikes:
		return fmt.Sprintf("%s_likes", prefix)
	case v.SortByDate:
		return fmt.Sprintf("%s_date", prefix)
	default:
		return fmt.Sprintf("%s_all", prefix)
	}
}
