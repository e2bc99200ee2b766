package monitoring

import (
	"log"

	"go.uber.org/zap"
)

// Logf is the package-level diagnostic logger used by the checker and its
// collaborators. It defaults to log.Printf but may be replaced by SetLogger
// or UseZap. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// UseZap routes Logf through the given zap logger at info level.
// Passing nil mutes logging, matching SetLogger(nil).
func UseZap(l *zap.Logger) {
	if l == nil {
		SetLogger(nil)
		return
	}
	sugar := l.WithOptions(zap.AddCallerSkip(1)).Sugar()
	Logf = sugar.Infof
}
