package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Setup configures the process-wide logger.
func Setup(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
}

// RunLog is a log sink scoped to a single crawl run. Everything the run
// emits, including the failure trace, ends up in one file whose name is
// stored on the run row.
type RunLog struct {
	Logger *logrus.Logger
	Name   string

	file *os.File
}

// NewRunLog opens a per-run log file under dir. The returned Name is relative
// to dir and is what gets persisted as the run's log pointer.
func NewRunLog(dir string, runID int64, level logrus.Level) (*RunLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	name := fmt.Sprintf("run_%d_%s.log", runID, uuid.NewString()[:8])
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(f)
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	return &RunLog{Logger: logger, Name: name, file: f}, nil
}

func (r *RunLog) Close() error {
	return r.file.Close()
}
