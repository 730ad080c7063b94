package transfer

import (
	"net/http"
	"time"

	"github.com/JonMunkholm/bulkdata/internal/logging"
)

// loggingTransport logs every outbound request at debug level with the run
// ID from the request context.
//
// Log fields:
//   - method: HEAD or GET
//   - url: object URL
//   - status: response status code (absent on transport error)
//   - content_length: advertised size, -1 when unknown
//   - duration_ms: time until response headers arrived
type loggingTransport struct {
	next http.RoundTripper
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	duration := time.Since(start)

	logger := logging.FromContext(req.Context())
	if err != nil {
		logger.Debug("request failed",
			"method", req.Method,
			"url", req.URL.String(),
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
		return nil, err
	}

	logger.Debug("request",
		"method", req.Method,
		"url", req.URL.String(),
		"status", resp.StatusCode,
		"content_length", resp.ContentLength,
		"duration_ms", duration.Milliseconds(),
	)
	return resp, nil
}
