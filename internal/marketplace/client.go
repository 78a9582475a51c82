// Package marketplace はマーケットプレイス（Vinted）へのHTTPアクセスを提供する。
// 出品APIによる状態照会と出品ページの取得を行う。判定ロジックは持たない。
package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/time/rate"
)

const (
	// itemAPIPath は出品APIのパス。%dに出品IDが入る。
	itemAPIPath = "/api/v2/items/%d"
	// userAgent はマーケットプレイスへのリクエストに付与するUser-Agent。
	userAgent = "Mozilla/5.0 (compatible; listingsweep/1.0)"
	// defaultMaxBodySize はレスポンスボディの読み取り上限の既定値（5MB）。
	defaultMaxBodySize = 5 * 1024 * 1024
)

// ItemPayload は出品APIレスポンスのitemオブジェクト。
// フィールドの有無を区別するためポインタで保持する。
type ItemPayload struct {
	CanBeSold *bool `json:"can_be_sold"`
	IsClosed  *bool `json:"is_closed"`
}

// APIResponse は出品APIの応答。ステータスが200以外の場合Itemは常にnil。
// Emptyはボディがnullまたは空オブジェクトだったことを表し、itemの欠落とは区別する。
type APIResponse struct {
	StatusCode int
	Empty      bool
	Item       *ItemPayload
}

// PageResponse は出品ページの取得結果。
// FinalURLはリダイレクト追従後の最終URL。
type PageResponse struct {
	StatusCode int
	FinalURL   string
	Body       []byte
}

// Client はマーケットプレイスのHTTPクライアント。
// 全リクエストは共有のレートリミッターを通過する。
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	baseURL     string // テスト用に差し替え可能
	limiter     *rate.Limiter
	maxBodySize int64
}

// NewClient はClientを生成する。
// requestsPerSecondが0以下の場合はレート制限を行わない。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL string, requestsPerSecond float64, maxBodySize int64) *Client {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxBodySize
	}

	return &Client{
		httpClient:  httpClient,
		logger:      logger,
		baseURL:     strings.TrimRight(baseURL, "/"),
		limiter:     rate.NewLimiter(limit, 1),
		maxBodySize: maxBodySize,
	}
}

// ItemStatus は出品APIで出品の状態を照会する。
// 200以外のステータスはエラーではなくAPIResponse.StatusCodeとして返す。
// 通信エラーとレスポンスのデコード失敗はエラーを返す。
func (c *Client) ItemStatus(ctx context.Context, vintedID int64) (*APIResponse, error) {
	reqURL := c.baseURL + fmt.Sprintf(itemAPIPath, vintedID)

	resp, body, err := c.get(ctx, reqURL, "application/json")
	if err != nil {
		return nil, err
	}

	result := &APIResponse{StatusCode: resp.StatusCode}
	if resp.StatusCode != http.StatusOK {
		return result, nil
	}

	item, empty, err := decodeItemPayload(body)
	if err != nil {
		c.logger.Debug("出品APIのレスポンスのパースに失敗しました",
			slog.Int64("vinted_id", vintedID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	result.Item = item
	result.Empty = empty

	return result, nil
}

// decodeItemPayload はAPIレスポンスのボディからitemを取り出す。
// ボディがnullまたはキーを持たないオブジェクトの場合はemptyをtrueで返す。
func decodeItemPayload(body []byte) (item *ItemPayload, empty bool, err error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, false, err
	}
	if len(fields) == 0 {
		return nil, true, nil
	}

	raw, ok := fields["item"]
	if !ok {
		return nil, false, nil
	}
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, false, err
	}
	return item, false, nil
}

// FetchPage は出品ページを取得する。
// 200以外のステータスもエラーにせずそのまま返す。
func (c *Client) FetchPage(ctx context.Context, pageURL string) (*PageResponse, error) {
	resp, body, err := c.get(ctx, pageURL, "text/html,application/xhtml+xml")
	if err != nil {
		return nil, err
	}

	finalURL := pageURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &PageResponse{
		StatusCode: resp.StatusCode,
		FinalURL:   finalURL,
		Body:       body,
	}, nil
}

// get はレート制限を待ってからGETリクエストを送信し、ボディを上限付きで読み取る。
func (c *Client) get(ctx context.Context, reqURL, accept string) (*http.Response, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("レート制限の待機に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("HTTPリクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize))
	if err != nil {
		return nil, nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	return resp, body, nil
}
