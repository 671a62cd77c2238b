// Package log provides the application-wide logger used by every core
// component: a package-level Logger that components write to through
// this package's functions.
package log

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the default logger with predefined settings.
var Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

// SetLevel sets the global logging level.
func SetLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// With returns a logger extended with a single string field, for
// tagging log lines from a particular component (e.g. "component=driver").
func With(name, value string) zerolog.Logger {
	return Logger.With().Str(name, value).Logger()
}

// Debug prints message with DEBUG severity.
func Debug(msg string) { Logger.Debug().Msg(msg) }

// Debugf prints formatted message with DEBUG severity.
func Debugf(format string, v ...interface{}) { Logger.Debug().Msgf(format, v...) }

// Info prints message with INFO severity.
func Info(msg string) { Logger.Info().Msg(msg) }

// Infof prints formatted message with INFO severity.
func Infof(format string, v ...interface{}) { Logger.Info().Msgf(format, v...) }

// Warn prints message with WARNING severity.
func Warn(msg string) { Logger.Warn().Msg(msg) }

// Warnf prints formatted message with WARNING severity.
func Warnf(format string, v ...interface{}) { Logger.Warn().Msgf(format, v...) }

// Warnln concatenates its arguments and prints them with WARNING severity.
func Warnln(v ...interface{}) { Logger.Warn().Msg(fmt.Sprint(v...)) }

// Error prints message with ERROR severity.
func Error(msg string) { Logger.Error().Msg(msg) }

// Errorf prints formatted message with ERROR severity.
func Errorf(format string, v ...interface{}) { Logger.Error().Msgf(format, v...) }
