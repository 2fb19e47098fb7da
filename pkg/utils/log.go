package utils

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var log zerolog.Logger

// SetLevel accepts zerolog level names ("debug", "info", ...). Unknown names fall back to info.
func SetLevel(level string) {
	l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || l == zerolog.NoLevel {
		l = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(l)
}

func InfoF(format string, v ...interface{}) {
	log.Info().Msgf(format, v...)
}

func DebugF(format string, v ...interface{}) {
	log.Debug().Msgf(format, v...)
}

func ErrorF(format string, v ...interface{}) {
	log.Error().Msgf(format, v...)
}

func WarnF(format string, v ...interface{}) {
	log.Warn().Msgf(format, v...)
}

func init() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	log = zerolog.New(output).With().Timestamp().Logger()
}
