// Package webhook holds the values passed between the HTTP layer and the dispatcher.
package webhook

import (
	"net/http"
	"net/url"
)

// Request is an inbound webhook as received from the hosting provider.
// Body is kept as raw bytes; signatures are computed over exactly these bytes.
type Request struct {
	Body   []byte
	Header http.Header
	Query  url.Values
}

// Outcome is the terminal result of handling one request.
type Outcome struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// Rejected returns a client error outcome.
func Rejected(message string) Outcome {
	return Outcome{
		Status:  http.StatusBadRequest,
		Message: message,
	}
}

// OK returns a success outcome.
func OK(message string) Outcome {
	return Outcome{
		Status:  http.StatusOK,
		Message: message,
	}
}

// Failed returns a server error outcome.
func Failed(message string) Outcome {
	return Outcome{
		Status:  http.StatusInternalServerError,
		Message: message,
	}
}

func (o Outcome) IsRejected() bool {
	return o.Status >= 400 && o.Status < 500
}

func (o Outcome) IsFailed() bool {
	return o.Status >= 500
}
