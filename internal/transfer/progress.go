package transfer

import (
	"log/slog"
)

// progressWriter counts bytes passing through it and logs every time the
// count crosses another 10% of the expected total. With an unknown total it
// only counts.
type progressWriter struct {
	logger *slog.Logger
	total  int64

	written  int64
	reported int // last decile logged
}

func newProgressWriter(logger *slog.Logger, total int64) *progressWriter {
	return &progressWriter{logger: logger, total: total}
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.total <= 0 {
		return len(b), nil
	}

	decile := int(p.written * 10 / p.total)
	if decile > 10 {
		decile = 10
	}
	if decile > p.reported {
		p.reported = decile
		p.logger.Info("download progress",
			"percent", decile*10,
			"bytes", p.written,
			"total", p.total,
		)
	}
	return len(b), nil
}
