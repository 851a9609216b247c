package services

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var downstreamFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "layer_downstream_failures",
	Help: "Best-effort downstream calls that failed and were swallowed.",
}, []string{"service"})

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedError(err error, code int) error {
	return &codedError{err: err, code: code}
}

func GetResponseCode(err error) int {
	var cerr *codedError
	if errors.As(err, &cerr) {
		return cerr.code
	}
	slog.Error("non coded error passed to GetResponseCode", "error", err)
	return http.StatusInternalServerError
}

// validationError carries per-field messages, rendered `field: message`.
type validationError struct {
	messages []string
}

func (e *validationError) Error() string {
	return strings.Join(e.messages, ", ")
}

func (e *validationError) add(field, message string) {
	e.messages = append(e.messages, field+": "+message)
}

func (e *validationError) ok() bool {
	return len(e.messages) == 0
}

// bestEffort runs a downstream call whose failure must never block the
// operation: the error is logged, counted, and dropped.
func bestEffort(service string, call func() error) {
	if err := call(); err != nil {
		downstreamFailures.WithLabelValues(service).Inc()
		slog.Error("best-effort downstream call failed", "service", service, "error", err)
	}
}
