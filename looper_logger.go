package looper

import "go.uber.org/zap"

var _ Logger = (*zap.SugaredLogger)(nil)

// defaultLogger discards everything; pass WithLogger to see the loop's output.
func defaultLogger() Logger {
	return zap.NewNop().Sugar()
}

// NewDevelopmentLogger returns a human readable zap logger, falling back to a
// no-op logger when zap cannot be built.
func NewDevelopmentLogger() *zap.SugaredLogger {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return logger.Sugar()
}
