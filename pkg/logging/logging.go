// Package logging configures the global logrus logger.
package logging

import (
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	FormatJSON = "json"
	FormatText = "text"
)

var formatters = map[string]func() log.Formatter{
	FormatJSON: func() log.Formatter {
		return &log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: log.FieldMap{
				log.FieldKeyMsg: "message",
			},
		}
	},
	FormatText: func() log.Formatter {
		return &log.TextFormatter{
			FullTimestamp:    true,
			QuoteEmptyFields: true,
		}
	},
}

// Setup selects the output format and minimum level of the standard logger.
// Log lines are written to stdout; sync script output ends up there too.
func Setup(level, format string) error {
	formatter, ok := formatters[format]
	if !ok {
		return fmt.Errorf("log format '%s' is not recognized; use '%s' or '%s'", format, FormatJSON, FormatText)
	}

	logLevel, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("set log level: %w", err)
	}

	log.SetFormatter(formatter())
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)

	return nil
}
