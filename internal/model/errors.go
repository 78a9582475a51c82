package model

import "errors"

var (
	// ErrEmptyBatch は空のバッチで更新が要求されたことを表す。
	ErrEmptyBatch = errors.New("empty batch")
	// ErrBatchMismatch はitem_idsとvinted_idsの長さが一致しないことを表す。
	ErrBatchMismatch = errors.New("item_ids and vinted_ids length mismatch")
	// ErrURLNotAllowed は出品URLが許可されたマーケットプレイスのものではないことを表す。
	ErrURLNotAllowed = errors.New("url not allowed")
)
