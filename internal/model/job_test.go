package model

import "testing"

func TestJobConfig_Offset(t *testing.T) {
	tests := []struct {
		index    int
		pageSize int
		want     int
	}{
		{0, 10000, 0},
		{1, 10000, 10000},
		{3, 500, 1500},
	}

	for _, tt := range tests {
		cfg := &JobConfig{Index: tt.index}
		if got := cfg.Offset(tt.pageSize); got != tt.want {
			t.Errorf("Offset(index=%d, pageSize=%d) = %d, want %d", tt.index, tt.pageSize, got, tt.want)
		}
	}
}

func TestJobConfig_PageQuery(t *testing.T) {
	cfg := &JobConfig{
		ID:            "availability3_top_brands",
		Index:         2,
		OnlyTopBrands: true,
		SortByDate:    true,
	}
	brands := []string{"Nike"}

	q := cfg.PageQuery("availability3", 100, brands)

	if q.JobPrefix != "availability3" {
		t.Errorf("JobPrefix = %q, want %q", q.JobPrefix, "availability3")
	}
	if q.Offset != 200 || q.Limit != 100 {
		t.Errorf("Offset/Limit = %d/%d, want 200/100", q.Offset, q.Limit)
	}
	if !q.TopBrandsOnly || !q.SortByDate || q.SortByLikes {
		t.Errorf("flags = top:%v date:%v likes:%v, want true/true/false", q.TopBrandsOnly, q.SortByDate, q.SortByLikes)
	}
	if len(q.TopBrands) != 1 || q.TopBrands[0] != "Nike" {
		t.Errorf("TopBrands = %v, want [Nike]", q.TopBrands)
	}
}
