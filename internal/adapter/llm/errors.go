package llm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"ragingest/internal/domain"
)

// ClassifyError sorts a provider error into the transient or permanent
// external failure class. Timeouts are transient unless ctx itself is done,
// in which case err is returned unclassified. Errors that give no hint are
// treated as transient.
func ClassifyError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	if errors.Is(err, domain.ErrTransientExternal) || errors.Is(err, domain.ErrPermanentExternal) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Transient(err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.Transient(err)
	}

	msg := strings.ToLower(err.Error())
	for _, hint := range permanentHints {
		if strings.Contains(msg, hint) {
			return domain.Permanent(err)
		}
	}
	return domain.Transient(err)
}

var permanentHints = []string{
	"400", "401", "403", "404", "422",
	"bad request", "unauthorized", "forbidden", "invalid api key",
	"model not found", "invalid_request_error", "context length",
}

// ClassifyStatus classifies an HTTP status returned by a provider.
func ClassifyStatus(status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return domain.Transient(err)
	case status >= 400:
		return domain.Permanent(err)
	default:
		return domain.Transient(err)
	}
}
