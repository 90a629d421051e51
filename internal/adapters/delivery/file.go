package delivery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/okian/fleetreport/internal/domain/model"
	"github.com/okian/fleetreport/pkg/logger"
)

// FileSink writes each report into a directory, one folder per period.
type FileSink struct {
	dir string
	log logger.Logger
}

// NewFileSink creates a sink rooted at dir.
func NewFileSink(dir string, l logger.Logger) *FileSink {
	if l == nil {
		l = logger.Get().Named("file-sink")
	}
	return &FileSink{dir: dir, log: l}
}

// Deliver writes d to <dir>/<yyyy-mm>/<subject>-<yyyy>-<mm>.<ext>, replacing
// any earlier copy.
func (s *FileSink) Deliver(ctx context.Context, d model.Delivery) error { //nolint:gocritic // hugeParam
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Join(s.dir, d.Period.String())
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	path := filepath.Join(dir, filepath.Base(d.FileName()))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, d.Bytes, 0o640); err != nil {
		return fmt.Errorf("write report %s: %w", d.SubjectID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write report %s: %w", d.SubjectID, err)
	}

	s.log.Info(ctx, "report written",
		logger.String("subject_id", d.SubjectID),
		logger.String("path", path),
	)
	return nil
}
