// Package logger はJSON構造化ログの初期化を提供する。
// アプリケーションからはlog/slogのAPIで利用し、出力はzapのJSONエンコーダーが担う。
package logger

import (
	"io"
	"log/slog"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// levelが空または不正な場合はinfoとして扱う。
func Setup(w io.Writer, level ...string) *slog.Logger {
	lvl := zapcore.InfoLevel
	if len(level) > 0 && level[0] != "" {
		if err := lvl.UnmarshalText([]byte(level[0])); err != nil {
			lvl = zapcore.InfoLevel
		}
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.LevelKey = "level"
	encoderConfig.MessageKey = "msg"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(w),
		zap.NewAtomicLevelAt(lvl),
	)

	return slog.New(zapslog.NewHandler(core))
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// writerが指定された場合はそのwriterに出力する。
// 本番ではos.Stdoutを渡すことを想定している。
func SetupDefault(w io.Writer, level ...string) {
	if w == nil {
		w = os.Stdout
	}
	logger := Setup(w, level...)
	slog.SetDefault(logger)
}
