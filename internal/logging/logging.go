// Package logging configures the global zerolog logger for memomirror.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup initializes the global logger.
//
// format is one of "auto", "json", "human". "auto" picks the human console
// writer when stderr is a terminal and JSON otherwise, so piped output
// stays machine-readable.
func Setup(level string, format string) error {
	var writer io.Writer

	useConsole := false
	switch format {
	case "auto":
		useConsole = isatty.IsTerminal(os.Stderr.Fd())
	case "human":
		useConsole = true
	case "json":
		useConsole = false
	default:
		return fmt.Errorf("invalid log format: %s, expected: [auto, json, human]", format)
	}

	if useConsole {
		writer = zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.Out = os.Stderr
			w.TimeFormat = time.Kitchen
			if !isatty.IsTerminal(os.Stderr.Fd()) {
				w.NoColor = true
			}
		})
	} else {
		writer = os.Stderr
	}

	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(parsed)
	log.Logger = zerolog.New(writer).With().Timestamp().Logger()
	return nil
}
