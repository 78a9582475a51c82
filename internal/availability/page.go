package availability

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/hitoshi/listingsweep/internal/model"
)

// maxTokenSize は1トークンあたりのバッファ上限。超えた場合は判定不能とする。
var maxTokenSize = 1 << 20

// SoldMarker は出品ページ上の販売状況表示を特定する条件。
// Attr=Valueの属性を持つdiv要素のテキストがTextと一致すれば売却済みとみなす。
type SoldMarker struct {
	Attr  string
	Value string
	Text  string
}

// parsePageStatus は出品ページのHTMLから販売状況を判定する。
// 表示要素がない、またはテキストが一致しない場合はAVAILABLE、
// HTMLの読み取りに失敗した場合はUNKNOWNを返す。
func parsePageStatus(body []byte, marker SoldMarker) model.ItemStatus {
	text, found, err := findContainerText(body, marker)
	if err != nil {
		return model.ItemStatusUnknown
	}
	if found && text == marker.Text {
		return model.ItemStatusSold
	}
	return model.ItemStatusAvailable
}

// findContainerText は最初に一致したdiv要素の子孫テキストを連結し、前後の空白を除いて返す。
func findContainerText(body []byte, marker SoldMarker) (string, bool, error) {
	tokenizer := html.NewTokenizer(bytes.NewReader(body))
	tokenizer.SetMaxBuf(maxTokenSize)

	var sb strings.Builder
	depth := 0 // 0: 表示要素の外、1以上: 表示要素内のdivのネスト数

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			err := tokenizer.Err()
			if errors.Is(err, io.EOF) {
				if depth > 0 {
					// 閉じタグなしで終わった場合もそこまでのテキストで判定する
					return strings.TrimSpace(sb.String()), true, nil
				}
				return "", false, nil
			}
			return "", false, err

		case html.StartTagToken:
			tn, hasAttr := tokenizer.TagName()
			if string(tn) != "div" {
				continue
			}
			if depth > 0 {
				depth++
				continue
			}
			if hasAttr && hasMarkerAttr(tokenizer, marker) {
				depth = 1
			}

		case html.EndTagToken:
			if depth == 0 {
				continue
			}
			tn, _ := tokenizer.TagName()
			if string(tn) == "div" {
				depth--
				if depth == 0 {
					return strings.TrimSpace(sb.String()), true, nil
				}
			}

		case html.TextToken:
			if depth > 0 {
				sb.Write(tokenizer.Text())
			}
		}
	}
}

// hasMarkerAttr は現在のタグが表示要素の属性を持つかを判定する。
func hasMarkerAttr(tokenizer *html.Tokenizer, marker SoldMarker) bool {
	for {
		key, val, more := tokenizer.TagAttr()
		if string(key) == marker.Attr && string(val) == marker.Value {
			return true
		}
		if !more {
			return false
		}
	}
}
