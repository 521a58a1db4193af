package util

import (
	"fmt"
	"io"

	"github.com/pterm/pterm"
)

// successPrinter marks milestones (socket bound, packets sent) apart from
// routine info lines.
var successPrinter = pterm.Success

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by pterm.

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

// LogSuccess prints through pterm's Success prefix rather than the leveled
// logger, so it shows at every log level.
func LogSuccess(format string, args ...interface{}) {
	successPrinter.Println(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// SetOutput redirects every Log* helper to w.
func SetOutput(w io.Writer) {
	pterm.DefaultLogger.Writer = w
	successPrinter = *pterm.Success.WithWriter(w)
}
