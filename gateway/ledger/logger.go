package ledger

import (
	"fmt"
	"log/slog"
	"strings"
)

// badgerLogger は badger の内部ログを slog に流す
type badgerLogger struct {
	logger *slog.Logger
}

func newBadgerLogger(logger *slog.Logger) *badgerLogger {
	return &badgerLogger{logger: logger}
}

func (b *badgerLogger) msg(format string, args ...any) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Errorf(format string, args ...any) {
	b.logger.Error(b.msg(format, args...), "component", "ledger")
}

func (b *badgerLogger) Warningf(format string, args ...any) {
	b.logger.Warn(b.msg(format, args...), "component", "ledger")
}

func (b *badgerLogger) Infof(format string, args ...any) {
	b.logger.Info(b.msg(format, args...), "component", "ledger")
}

func (b *badgerLogger) Debugf(format string, args ...any) {
	b.logger.Debug(b.msg(format, args...), "component", "ledger")
}
