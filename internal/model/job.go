package model

// JobConfig は1回の照合ランのバリアントとカーソル位置を表す。
// IDはフラグから決定され、バリアントごとに独立したカーソルを持つ。
type JobConfig struct {
	ID            string
	Index         int
	OnlyTopBrands bool
	SortByLikes   bool
	SortByDate    bool
}

// Offset はカーソル位置に対応する候補ページのオフセットを返す。
func (c *JobConfig) Offset(pageSize int) int {
	return c.Index * pageSize
}

// PageQuery はジョブ設定から候補ページの取得条件を構築する。
func (c *JobConfig) PageQuery(jobPrefix string, pageSize int, topBrands []string) PageQuery {
	return PageQuery{
		JobPrefix:     jobPrefix,
		Offset:        c.Offset(pageSize),
		Limit:         pageSize,
		TopBrandsOnly: c.OnlyTopBrands,
		TopBrands:     topBrands,
		SortByDate:    c.SortByDate,
		SortByLikes:   c.SortByLikes,
	}
}
