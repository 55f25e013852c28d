// Package util provides shared logging and reporting helpers.
package util

import (
	"fmt"
	"io"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// logf formats a message for one of the pterm logger's level methods.
// The method value must be taken at call time so SetLogWriter applies.
func logf(level func(string, ...[]pterm.LoggerArgument), format string, args []any) {
	level(fmt.Sprintf(format, args...))
}

// LogDebug is silent until EnableDebug; the connector uses it for dial
// and reconnect traces.
func LogDebug(format string, args ...any) {
	logf(pterm.DefaultLogger.Debug, format, args)
}

func LogInfo(format string, args ...any) {
	logf(pterm.DefaultLogger.Info, format, args)
}

// LogWarning reports recoverable link problems: refused connects, dropped
// sends, timeouts.
func LogWarning(format string, args ...any) {
	logf(pterm.DefaultLogger.Warn, format, args)
}

func LogError(format string, args ...any) {
	logf(pterm.DefaultLogger.Error, format, args)
}

// LogFields logs msg at info level with fields as pterm key/value pairs.
func LogFields(msg string, fields map[string]any) {
	pterm.DefaultLogger.Info(msg, pterm.DefaultLogger.ArgsFromMap(fields))
}

// EnableDebug turns on LogDebug output (the --debug flag).
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// SetLogWriter sends all log output to w. Output goes to stderr otherwise.
func SetLogWriter(w io.Writer) {
	pterm.DefaultLogger.Writer = w
}
