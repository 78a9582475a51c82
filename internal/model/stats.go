package model

// RunStats は1回のランの集計値。ラン中は単調増加し、ランごとにリセットされる。
type RunStats struct {
	Processed     int
	Succeeded     int
	Available     int
	Unavailable   int
	Unresolved    int
	Updated       int
	DeletedPoints int
	Flushes       int
	FailedFlushes int
}

// SuccessRate は処理件数に対する成功率を返す。処理件数が0の場合は0。
func (s *RunStats) SuccessRate() float64 {
	if s.Processed == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Processed)
}
