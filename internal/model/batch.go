package model

// UnavailableBatch は売却済み・削除済みと判定された出品の蓄積バッファ。
// ItemIDsとVintedIDsは位置で対応し、常に同じ長さを保つ。
type UnavailableBatch struct {
	itemIDs   []string
	vintedIDs []int64
}

// Append は内部IDと出品IDのペアを1単位として追加する。
func (b *UnavailableBatch) Append(itemID string, vintedID int64) {
	b.itemIDs = append(b.itemIDs, itemID)
	b.vintedIDs = append(b.vintedIDs, vintedID)
}

// Len は蓄積済みのペア数を返す。
func (b *UnavailableBatch) Len() int {
	return len(b.itemIDs)
}

// ItemIDs は内部IDのコピーを返す。
func (b *UnavailableBatch) ItemIDs() []string {
	return append([]string(nil), b.itemIDs...)
}

// VintedIDs は出品IDのコピーを返す。
func (b *UnavailableBatch) VintedIDs() []int64 {
	return append([]int64(nil), b.vintedIDs...)
}

// Reset はバッファを空にする。
func (b *UnavailableBatch) Reset() {
	b.itemIDs = nil
	b.vintedIDs = nil
}
