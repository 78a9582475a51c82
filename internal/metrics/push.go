package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Push は収集済みのメトリクスをPushgatewayへ送信する。
// 単発実行ではスクレイプされる前にプロセスが終了するため、終了前にこれを呼ぶ。
func Push(ctx context.Context, url, job, instance string, gatherer prometheus.Gatherer) error {
	pusher := push.New(url, job).Gatherer(gatherer)
	if instance != "" {
		pusher = pusher.Grouping("instance", instance)
	}

	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("Pushgatewayへの送信に失敗しました: %w", err)
	}
	return nil
}
