package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"github.com/nais/pullhookd/pkg/pullhookd/middleware"
	"github.com/nais/pullhookd/pkg/pullhookd/webhook"
)

const InternalErrorMsg = "500 Internal Server Error"

var StatusCodes = []int{
	http.StatusOK,
	http.StatusBadRequest,
	http.StatusRequestEntityTooLarge,
	http.StatusInternalServerError,
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req webhook.Request, logger log.FieldLogger) webhook.Outcome
}

type HookHandler struct {
	Dispatcher  Dispatcher
	MaxBodySize int64
}

func render(w http.ResponseWriter, outcome webhook.Outcome) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(outcome.Status)
	json.NewEncoder(w).Encode(outcome)
}

func (h *HookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := log.WithFields(middleware.RequestLogFields(r))

	defer func() {
		if err := recover(); err != nil {
			logger.Errorf("Unhandled error: %v\n%s", err, debug.Stack())
			render(w, webhook.Failed(InternalErrorMsg))
		}
	}()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.MaxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			outcome := webhook.Outcome{
				Status:  http.StatusRequestEntityTooLarge,
				Message: fmt.Sprintf("request body is larger than %d bytes", tooLarge.Limit),
			}
			logger.Warnf("Invalid request: %s", outcome.Message)
			render(w, outcome)
			return
		}
		outcome := webhook.Rejected("unable to read request body")
		logger.Warnf("%s: %s", outcome.Message, err)
		render(w, outcome)
		return
	}

	logger.Tracef("Incoming request")

	outcome := h.Dispatcher.Dispatch(r.Context(), webhook.Request{
		Body:   body,
		Header: r.Header,
		Query:  r.URL.Query(),
	}, logger)

	render(w, outcome)
}
