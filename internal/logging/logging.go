// Package logging builds the daemon's zap logger: a console encoder whose
// verbosity steps with repeated -v flags and whose coloring honors NO_COLOR
// and tty detection, mirroring the source's debug_handler_cb (domain-name
// padding, red/blue severity coloring) and the teacher's buildLogger in
// cmd/octoreflex/main.go.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sys/unix"
)

// Level is the daemon's two operationally-distinct log levels. The source
// steps message -> info -> debug on repeated -v; this port collapses that
// to info/debug since zap draws no behavioral distinction finer than that
// here.
type Level int

const (
	LevelInfo Level = iota
	LevelDebug
)

// LevelFromVerbosity maps the number of -v occurrences to a Level.
func LevelFromVerbosity(count int) Level {
	if count > 0 {
		return LevelDebug
	}
	return LevelInfo
}

// ColorEnabled reports whether ANSI color should be used: disabled
// unconditionally by NO_COLOR, otherwise enabled only when stdout is a
// terminal.
func ColorEnabled() bool {
	if _, set := os.LookupEnv("NO_COLOR"); set {
		return false
	}
	return isTerminal(os.Stdout.Fd())
}

// New builds the daemon's logger. color is normally the result of
// ColorEnabled(); callers pass it explicitly so tests can force either
// mode.
func New(level Level, color bool) *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if color {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	encCfg.EncodeName = paddedNameEncoder

	zapLevel := zapcore.InfoLevel
	if level == LevelDebug {
		zapLevel = zapcore.DebugLevel
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		zapLevel,
	)
	return zap.New(core)
}

// paddedNameEncoder pads the logger name to a fixed width, the way the
// source pads its log domain to 15 characters.
func paddedNameEncoder(name string, enc zapcore.PrimitiveArrayEncoder) {
	const width = 15
	if len(name) < width {
		name += strings.Repeat(" ", width-len(name))
	}
	enc.AppendString(name)
}

// isTerminal reports whether fd refers to a terminal, via the same
// ioctl(TCGETS) probe golang.org/x/term uses on Linux.
func isTerminal(fd uintptr) bool {
	_, err := unix.IoctlGetTermios(int(fd), unix.TCGETS)
	return err == nil
}
