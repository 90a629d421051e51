package report

import (
	"github.com/okian/fleetreport/internal/domain/model"
	"github.com/okian/fleetreport/internal/domain/scoring"
	"github.com/okian/fleetreport/pkg/logger"
)

// Option configures a Builder.
type Option func(*Builder)

// WithTargets sets the highlight thresholds.
func WithTargets(t scoring.Targets) Option {
	return func(b *Builder) {
		b.targets = t
	}
}

// WithFormat sets the document format of built jobs.
func WithFormat(f model.Format) Option {
	return func(b *Builder) {
		if f != "" {
			b.format = f
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.log = l
		}
	}
}
