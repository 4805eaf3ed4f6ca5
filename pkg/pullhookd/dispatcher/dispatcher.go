// Package dispatcher authenticates webhook requests and triggers a sync of the
// repository they refer to.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v41/github"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nais/pullhookd/pkg/pullhookd/config"
	"github.com/nais/pullhookd/pkg/pullhookd/metrics"
	"github.com/nais/pullhookd/pkg/pullhookd/provider"
	"github.com/nais/pullhookd/pkg/pullhookd/repository"
	"github.com/nais/pullhookd/pkg/pullhookd/webhook"
	"github.com/nais/pullhookd/pkg/telemetry"
)

const (
	InvalidBodyMsg      = "invalid request body (it is not a json)"
	InvalidSignatureMsg = "invalid signature"
	IgnoredEventMsg     = "ok! (but ignored this event)"

	LogFieldRepository = "repository"
	LogFieldProvider   = "provider"
	LogFieldEvent      = "event"
	LogFieldDeliveryID = "delivery_id"
)

// Syncer runs the pull of a repository and reports its outcome.
type Syncer interface {
	Pull(ctx context.Context, name string, repo config.Repository, logger log.FieldLogger) webhook.Outcome
}

// Dumper records incoming requests for troubleshooting.
type Dumper interface {
	Dump(query url.Values, header http.Header, payload interface{}) string
}

type Dispatcher struct {
	Repositories config.Repositories
	Syncer       Syncer

	// Dumper is optional.
	Dumper Dumper
}

// Dispatch handles one webhook request. Every anticipated failure is returned as an
// outcome; nothing is returned as an error.
func (d *Dispatcher) Dispatch(ctx context.Context, req webhook.Request, logger log.FieldLogger) webhook.Outcome {
	ctx, span := telemetry.Tracer().Start(ctx, "dispatch")
	defer span.End()

	var payload map[string]interface{}
	err := json.Unmarshal(req.Body, &payload)
	if err != nil {
		logger.Warnf("unable to parse request body: %s", err)
		payload = nil
	}

	if d.Dumper != nil {
		d.Dumper.Dump(req.Query, req.Header, payload)
	}

	if payload == nil {
		return reject(logger, "", InvalidBodyMsg)
	}

	name, err := repository.Resolve(payload, d.Repositories)
	if err != nil {
		return reject(logger, "", err.Error())
	}

	repo, _ := d.Repositories.Get(name)
	logger = logger.WithFields(log.Fields{
		LogFieldRepository: name,
		LogFieldProvider:   repo.Type,
	})
	span.SetAttributes(
		attribute.String("repository", name),
		attribute.String("provider", string(repo.Type)),
	)

	strategy, err := provider.Lookup(repo.Type)
	if err != nil {
		// Types are validated when configuration is loaded.
		logger.Errorf("no provider strategy: %s", err)
		metrics.WebhookRequest(string(repo.Type), metrics.ResultFailed)
		return webhook.Failed(err.Error())
	}

	credential := strategy.Credential(req.Header, req.Query, payload)
	if len(credential) == 0 {
		return reject(logger, repo.Type, fmt.Sprintf("%s is empty", strategy.CredentialName()))
	}

	event := strategy.Event(req.Header)
	if len(event) == 0 {
		return reject(logger, repo.Type, fmt.Sprintf("header %s is empty", strategy.EventHeader))
	}

	delivery := strategy.DeliveryID(req.Header)
	if len(delivery) == 0 {
		return reject(logger, repo.Type, fmt.Sprintf("header %s is empty", strategy.DeliveryHeader))
	}

	logger = logger.WithFields(log.Fields{
		LogFieldEvent:      event,
		LogFieldDeliveryID: delivery,
	})

	if !strategy.Verify(credential, req.Body, repo.Secret) {
		return reject(logger, repo.Type, InvalidSignatureMsg)
	}

	logger.Infof("received verified hook request: %s %s (%s)", event, name, headCommit(req.Body))
	logger.Infof("webhook delivery id: %s", delivery)

	if !strategy.MatchEvent(repo.Events, event) {
		logger.Warnf("ignore this event, because it is not included in %s", formatEvents(repo.Events))
		metrics.WebhookRequest(string(repo.Type), metrics.ResultIgnored)
		return webhook.OK(IgnoredEventMsg)
	}

	outcome := d.Syncer.Pull(ctx, name, repo, logger)
	metrics.WebhookRequest(string(repo.Type), result(outcome))

	return outcome
}

// result maps the outcome of a sync to its metrics label.
func result(outcome webhook.Outcome) string {
	switch {
	case outcome.IsFailed():
		return metrics.ResultFailed
	case outcome.IsRejected():
		return metrics.ResultRejected
	default:
		return metrics.ResultDispatched
	}
}

func reject(logger log.FieldLogger, t provider.Type, message string) webhook.Outcome {
	logger.Warnf("Invalid request: %s", message)
	metrics.WebhookRequest(string(t), metrics.ResultRejected)
	return webhook.Rejected(message)
}

// headCommit summarizes the pushed head commit as `<short id> "<subject>"`.
func headCommit(body []byte) string {
	// Only head_commit is decoded; the rest of the payload differs between providers.
	push := struct {
		HeadCommit *gh.HeadCommit `json:"head_commit"`
	}{}
	err := json.Unmarshal(body, &push)
	if err != nil || push.HeadCommit.GetID() == "" {
		return "Unknown head commit"
	}

	head := push.HeadCommit
	id := head.GetID()
	if len(id) > 7 {
		id = id[:7]
	}
	subject := strings.SplitN(head.GetMessage(), "\n", 2)[0]

	return fmt.Sprintf("%s %q", id, subject)
}

func formatEvents(events []string) string {
	data, err := json.Marshal(events)
	if err != nil {
		return fmt.Sprint(events)
	}
	return string(data)
}
