package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/shiena/ansicolor"
	"github.com/sirupsen/logrus"

	"slippymap/internal/config"
)

// New builds the application logger: nested formatter, output to the
// terminal and/or a dated file under cfg.Dir.
func New(cfg config.Log) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetFormatter(&nested.Formatter{
		HideKeys:        false,
		ShowFullLevel:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
		FieldsOrder:     []string{"component", "tile", "fetch", "attempt"},
	})

	outputs := make([]io.Writer, 0, 2)
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		filename := filepath.Join(cfg.Dir, time.Now().Format("2006-01-02.log"))
		file, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		outputs = append(outputs, file)
	}
	if cfg.Terminal {
		outputs = append(outputs, os.Stdout)
	}
	if len(outputs) == 0 {
		outputs = append(outputs, io.Discard)
	}
	log.SetOutput(ansicolor.NewAnsiColorWriter(io.MultiWriter(outputs...)))

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		log.SetLevel(logrus.InfoLevel)
		log.WithField("level", cfg.Level).Warn("unknown log level, using info")
	} else {
		log.SetLevel(level)
	}
	return log, nil
}

// Discard returns a logger that drops everything, for tests and tools.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
