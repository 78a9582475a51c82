package availability

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/listingsweep/internal/marketplace"
	"github.com/hitoshi/listingsweep/internal/model"
)

// 判定経路のラベル。メトリクスとログで使用する。
const (
	SourceAPI  = "api"
	SourcePage = "page"
)

// MarketplaceClient はマーケットプレイスへのアクセスのインターフェース。
type MarketplaceClient interface {
	ItemStatus(ctx context.Context, vintedID int64) (*marketplace.APIResponse, error)
	FetchPage(ctx context.Context, pageURL string) (*marketplace.PageResponse, error)
}

// URLValidator は出品URLの事前検証のインターフェース。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// Recorder は判定処理の計測値を受け取るインターフェース。
type Recorder interface {
	ObserveResolve(source string, d time.Duration)
	ObserveHTTPStatus(source string, code int)
}

// Resolver は出品1件の販売状況を判定する。
// 1回の呼び出しでAPIリクエストとページリクエストをそれぞれ最大1回行い、リトライはしない。
type Resolver struct {
	client   MarketplaceClient
	guard    URLValidator // nilの場合はURL検証を行わない
	marker   SoldMarker
	recorder Recorder
	logger   *slog.Logger
}

// NewResolver はResolverを生成する。guardとrecorderはnilでもよい。
func NewResolver(client MarketplaceClient, guard URLValidator, marker SoldMarker, recorder Recorder, logger *slog.Logger) *Resolver {
	return &Resolver{
		client:   client,
		guard:    guard,
		marker:   marker,
		recorder: recorder,
		logger:   logger,
	}
}

// Resolve は出品の販売状況を判定する。
// useFastPathがtrueの場合はまず出品APIを使い、判定できなければ出品ページにフォールバックする。
// API側のエラーは呼び出し元に伝播せず、ページ取得の失敗のみFailedとして返す。
func (r *Resolver) Resolve(ctx context.Context, vintedID int64, itemURL string, useFastPath bool) Result {
	status := model.ItemStatusUnknown

	if useFastPath {
		status = r.resolveAPI(ctx, vintedID)
	}

	if status == model.ItemStatusUnknown {
		var err error
		status, err = r.resolvePage(ctx, itemURL)
		if err != nil {
			r.logger.Warn("出品ページの取得に失敗しました",
				slog.Int64("vinted_id", vintedID),
				slog.String("url", itemURL),
				slog.String("error", err.Error()),
			)
			return Failed(err)
		}
	}

	if status == model.ItemStatusUnknown {
		return Unresolved()
	}
	return Resolved(status)
}

// resolveAPI は出品APIの応答から販売状況を判定する。
// 判定できない場合や通信に失敗した場合はUNKNOWNを返す。
func (r *Resolver) resolveAPI(ctx context.Context, vintedID int64) model.ItemStatus {
	start := time.Now()
	resp, err := r.client.ItemStatus(ctx, vintedID)
	r.observe(SourceAPI, start)
	if err != nil {
		r.logger.Debug("出品APIでの判定に失敗しました",
			slog.Int64("vinted_id", vintedID),
			slog.String("error", err.Error()),
		)
		return model.ItemStatusUnknown
	}
	r.observeStatus(SourceAPI, resp.StatusCode)

	return statusFromAPI(resp)
}

// statusFromAPI は出品APIの応答を販売状況に変換する。
// can_be_soldがあればそれを優先し、なければis_closedで判定する。
// 空でないボディにitemがない場合のみ売却済みとみなす。
func statusFromAPI(resp *marketplace.APIResponse) model.ItemStatus {
	switch resp.StatusCode {
	case http.StatusNotFound:
		return model.ItemStatusSold
	case http.StatusOK:
	default:
		return model.ItemStatusUnknown
	}

	// 空のボディは判定材料がないため、itemの欠落とは扱わない
	if resp.Empty {
		return model.ItemStatusUnknown
	}
	if resp.Item == nil {
		return model.ItemStatusSold
	}
	if resp.Item.CanBeSold != nil {
		if *resp.Item.CanBeSold {
			return model.ItemStatusAvailable
		}
		return model.ItemStatusSold
	}
	if resp.Item.IsClosed != nil {
		if *resp.Item.IsClosed {
			return model.ItemStatusSold
		}
		return model.ItemStatusAvailable
	}
	return model.ItemStatusUnknown
}

// resolvePage は出品ページを取得して販売状況を判定する。
// 取得自体に失敗した場合のみエラーを返す。
func (r *Resolver) resolvePage(ctx context.Context, itemURL string) (model.ItemStatus, error) {
	if r.guard != nil {
		if err := r.guard.ValidateURL(itemURL); err != nil {
			return model.ItemStatusUnknown, err
		}
	}

	start := time.Now()
	page, err := r.client.FetchPage(ctx, itemURL)
	r.observe(SourcePage, start)
	if err != nil {
		return model.ItemStatusUnknown, err
	}
	r.observeStatus(SourcePage, page.StatusCode)

	if page.StatusCode == http.StatusNotFound {
		return model.ItemStatusNotFound, nil
	}
	// 削除済みの出品はカタログなど別ページへリダイレクトされる
	if redirected(itemURL, page.FinalURL) {
		return model.ItemStatusNotFound, nil
	}

	return parsePageStatus(page.Body, r.marker), nil
}

// redirected は最終URLが要求URLと異なるかを判定する。
// 表記揺れを避けるため要求URLはnet/urlで正規化してから比較する。
func redirected(requested, final string) bool {
	if final == "" {
		return false
	}
	if u, err := url.Parse(requested); err == nil {
		requested = u.String()
	}
	return requested != final
}

func (r *Resolver) observe(source string, start time.Time) {
	if r.recorder != nil {
		r.recorder.ObserveResolve(source, time.Since(start))
	}
}

func (r *Resolver) observeStatus(source string, code int) {
	if r.recorder != nil {
		r.recorder.ObserveHTTPStatus(source, code)
	}
}
