package cursor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/listingsweep/internal/model"
	"github.com/hitoshi/listingsweep/internal/repository"
)

// Manager はジョブ設定の生成とカーソルの読み書きを行う。
type Manager struct {
	repo   repository.CursorRepository
	random Random
	probs  Probabilities
	prefix string
	logger *slog.Logger
}

// NewManager はManagerを生成する。
func NewManager(repo repository.CursorRepository, random Random, probs Probabilities, prefix string, logger *slog.Logger) *Manager {
	return &Manager{
		repo:   repo,
		random: random,
		probs:  probs,
		prefix: prefix,
		logger: logger,
	}
}

// Next はバリアントを抽選し、そのジョブの次に取得すべきページ位置を含むジョブ設定を返す。
func (m *Manager) Next(ctx context.Context) (*model.JobConfig, error) {
	v := SelectVariant(m.random, m.probs)
	jobID := JobID(m.prefix, v)

	index, err := m.Index(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &model.JobConfig{
		ID:            jobID,
		Index:         index,
		OnlyTopBrands: v.OnlyTopBrands,
		SortByLikes:   v.SortByLikes,
		SortByDate:    v.SortByDate,
	}, nil
}

// Index は次に取得すべきページ位置を返す。
// 初回は値0で登録して0を返し、登録済みの場合は保存値+1を返す。
// 初回も+1にすると新しいジョブの先頭ページが一度も走査されない。
func (m *Manager) Index(ctx context.Context, jobID string) (int, error) {
	value, created, err := m.repo.UpsertAndRead(ctx, jobID)
	if err != nil {
		return 0, fmt.Errorf("カーソルの取得に失敗しました (job_id=%s): %w", jobID, err)
	}

	if created {
		m.logger.Info("ジョブカーソルを新規登録しました", slog.String("job_id", jobID))
		return 0, nil
	}
	return value + 1, nil
}

// Commit はジョブ設定のカーソル位置を保存する。
// 失敗はログに記録してエラーを返すが、それまでの更新は取り消さない。
func (m *Manager) Commit(ctx context.Context, cfg *model.JobConfig) error {
	if err := m.repo.Write(ctx, cfg.ID, cfg.Index); err != nil {
		m.logger.Error("ジョブカーソルの保存に失敗しました",
			slog.String("job_id", cfg.ID),
			slog.Int("index", cfg.Index),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("カーソルの保存に失敗しました (job_id=%s): %w", cfg.ID, err)
	}

	m.logger.Info("ジョブカーソルを更新しました",
		slog.String("job_id", cfg.ID),
		slog.Int("index", cfg.Index),
	)
	return nil
}

// Rewind は候補が尽きたジョブのカーソルを先頭に戻す。
// 値はラン終了時のCommitで保存される。
func (m *Manager) Rewind(cfg *model.JobConfig) {
	m.logger.Info("候補が尽きたためカーソルを先頭に戻します",
		slog.String("job_id", cfg.ID),
		slog.Int("previous_index", cfg.Index),
	)
	cfg.Index = 0
}
