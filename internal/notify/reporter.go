package notify

import (
	"errors"
	"sync"
	"time"

	"github.com/Dijker/com.netatmo/internal/auth"
	"github.com/Dijker/com.netatmo/internal/infrastructure/mqtt"
	"github.com/Dijker/com.netatmo/internal/netatmo"
	cloudsync "github.com/Dijker/com.netatmo/internal/sync"
)

// ErrorPayload is published on the operator error channel.
type ErrorPayload struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Reporter is the operator error channel: every error is logged at error
// level and, when a publisher is set, published on netatmo/system/error.
// It satisfies the ErrorReporter interfaces of auth and cloudsync.
type Reporter struct {
	mu        sync.RWMutex
	publisher Publisher
	logger    Logger
	now       func() time.Time
}

// NewReporter creates a reporter publishing through p, which may be nil.
func NewReporter(p Publisher) *Reporter {
	return &Reporter{publisher: p, logger: noopLogger{}, now: time.Now}
}

// SetLogger sets the logger for the reporter.
func (r *Reporter) SetLogger(logger Logger) {
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// SetPublisher attaches the MQTT publisher once it is connected.
func (r *Reporter) SetPublisher(p Publisher) {
	r.mu.Lock()
	r.publisher = p
	r.mu.Unlock()
}

// Report logs err and publishes it.
func (r *Reporter) Report(err error) {
	if err == nil {
		return
	}

	r.mu.RLock()
	publisher, logger := r.publisher, r.logger
	r.mu.RUnlock()

	kind := Kind(err)
	logger.Error("background failure", "kind", kind, "error", err)

	if publisher == nil {
		return
	}
	payload := ErrorPayload{Kind: kind, Message: err.Error(), At: r.now()}
	if perr := publisher.PublishJSON(mqtt.Topics{}.SystemError(), payload, false); perr != nil {
		logger.Warn("publishing error report failed", "error", perr)
	}
}

// Kind classifies err for the error channel.
func Kind(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenRefreshFailed), errors.Is(err, netatmo.ErrTokenRefresh):
		return "token_refresh"
	case errors.Is(err, auth.ErrAuthenticationFailed), errors.Is(err, cloudsync.ErrNotAuthenticated):
		return "authentication"
	case errors.Is(err, cloudsync.ErrRetriesExhausted):
		return "retries_exhausted"
	case errors.Is(err, netatmo.ErrTransient):
		return "transient"
	case errors.Is(err, netatmo.ErrUnauthorized):
		return "unauthorized"
	default:
		return "internal"
	}
}
