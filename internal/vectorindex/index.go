// Package vectorindex はベクトル類似検索インデックス（OpenSearch）上のポイント削除を提供する。
package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/opensearch-project/opensearch-go"
)

// maxIDsPerRequest は1回のBulkリクエストに含める削除件数の上限。
const maxIDsPerRequest = 1000

// Config はOpenSearch接続設定。
type Config struct {
	URL      string
	Index    string
	Username string
	Password string
}

// Index はポイントを保持するOpenSearchインデックスへのクライアント。
type Index struct {
	client    *opensearch.Client
	index     string
	logger    *slog.Logger
	batchSize int
}

// New はIndexを生成する。接続の確認は行わない。
// 呼び出し元でリトライしない前提のため、クライアントのリトライは無効化する。
func New(cfg Config, logger *slog.Logger) (*Index, error) {
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 10,
		},
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("OpenSearchクライアントの生成に失敗しました: %w", err)
	}

	return &Index{
		client:    client,
		index:     cfg.Index,
		logger:    logger,
		batchSize: maxIDsPerRequest,
	}, nil
}

// Ping はOpenSearchへの疎通を確認する。
func (x *Index) Ping(ctx context.Context) error {
	res, err := x.client.Ping(x.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("OpenSearchへのpingに失敗しました: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("OpenSearchへのpingがステータス %s を返しました", res.Status())
	}
	return nil
}

// DeletePoints は指定IDのポイントを削除する。
// 最大1000件ずつBulkリクエストに分割し、存在しないIDの削除は成功として扱う。
// IDが空の場合、またはいずれかのリクエストが失敗した場合はfalseを返す。
// 途中のバッチで失敗した場合、それ以前のバッチの削除は取り消されない。
func (x *Index) DeletePoints(ctx context.Context, ids []string) bool {
	if len(ids) == 0 {
		x.logger.Warn("削除対象のポイントIDがありません")
		return false
	}

	for start := 0; start < len(ids); start += x.batchSize {
		end := min(start+x.batchSize, len(ids))

		if err := x.deleteBatch(ctx, ids[start:end]); err != nil {
			x.logger.Error("ポイントの削除に失敗しました",
				slog.Int("batch_start", start),
				slog.Int("batch_size", end-start),
				slog.Int("total", len(ids)),
				slog.String("error", err.Error()),
			)
			return false
		}

		x.logger.Debug("ポイントのバッチを削除しました",
			slog.Int("batch_start", start),
			slog.Int("batch_size", end-start),
		)
	}

	return true
}

// deleteBatch は1回のBulkリクエストでポイントを削除する。
func (x *Index) deleteBatch(ctx context.Context, ids []string) error {
	body, err := buildDeleteBody(x.index, ids)
	if err != nil {
		return fmt.Errorf("Bulkボディの構築に失敗しました: %w", err)
	}

	res, err := x.client.Bulk(
		bytes.NewReader(body),
		x.client.Bulk.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("Bulkリクエストに失敗しました: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("Bulkリクエストがステータス %s を返しました", res.Status())
	}

	return checkDeleteResponse(res.Body)
}

// buildDeleteBody はdeleteアクションのみからなるNDJSONボディを構築する。
func buildDeleteBody(index string, ids []string) ([]byte, error) {
	var buf bytes.Buffer

	for _, id := range ids {
		action := map[string]any{
			"delete": map[string]any{
				"_index": index,
				"_id":    id,
			},
		}
		line, err := json.Marshal(action)
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	return buf.Bytes(), nil
}

// bulkResponse はBulk APIレスポンスのうち削除結果の判定に必要な部分。
type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []struct {
		Delete struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Result string `json:"result"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error,omitempty"`
		} `json:"delete"`
	} `json:"items"`
}

// checkDeleteResponse はBulkレスポンスの各削除結果を検証する。
// not_found（404）は削除済みとみなす。
func checkDeleteResponse(body io.Reader) error {
	var response bulkResponse
	if err := json.NewDecoder(body).Decode(&response); err != nil {
		return fmt.Errorf("Bulkレスポンスのデコードに失敗しました: %w", err)
	}

	if !response.Errors {
		return nil
	}

	for _, item := range response.Items {
		d := item.Delete
		if d.Status == http.StatusNotFound || (d.Status >= 200 && d.Status < 300) {
			continue
		}
		if d.Error != nil {
			return fmt.Errorf("ポイント %s の削除に失敗しました: %s - %s", d.ID, d.Error.Type, d.Error.Reason)
		}
		return fmt.Errorf("ポイント %s の削除がステータス %d を返しました", d.ID, d.Status)
	}

	return nil
}
