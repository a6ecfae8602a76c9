package logger

import (
	"io"
	"log/slog"
	"os"
)

// Setup は指定writerへJSON形式で出力するslog.Loggerを返す。
func Setup(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// SetupDefault はJSON構造化ログをプロセス全体のデフォルトロガーに据える。
// wがnilの場合はos.Stdoutに出力する。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(Setup(w))
}
