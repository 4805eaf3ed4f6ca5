package dispatcher_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nais/pullhookd/pkg/pullhookd/config"
	"github.com/nais/pullhookd/pkg/pullhookd/dispatcher"
	"github.com/nais/pullhookd/pkg/pullhookd/provider"
	"github.com/nais/pullhookd/pkg/pullhookd/syncer"
	"github.com/nais/pullhookd/pkg/pullhookd/webhook"
)

const (
	secret     = "s3cret"
	githubBody = `{"repository":{"full_name":"org/repo"},"head_commit":{"id":"0123456789abcdef","message":"Fix things\n\nLonger description"}}`
)

type fakeSyncer struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeSyncer) Pull(_ context.Context, name string, _ config.Repository, _ log.FieldLogger) webhook.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return webhook.OK("ok! (local HEAD: abc1234)")
}

type fakeDumper struct {
	dumped []interface{}
}

func (f *fakeDumper) Dump(_ url.Values, _ http.Header, payload interface{}) string {
	f.dumped = append(f.dumped, payload)
	return "dump.json"
}

func sha1Signature(body, key string) string {
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(body))
	return "sha1=" + hex.EncodeToString(mac.Sum(nil))
}

func sha256Signature(body, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func repositories(t *testing.T) config.Repositories {
	local := t.TempDir()
	repo := func(typ provider.Type, events ...string) config.Repository {
		return config.Repository{
			Local:  local,
			Secret: secret,
			Branch: config.DefaultBranch,
			Remote: config.DefaultRemote,
			Type:   typ,
			Events: events,
		}
	}
	return config.Repositories{
		"org/repo":       repo(provider.GitHub, "push"),
		"gogs/repo":      repo(provider.Gogs, "push"),
		"coding/repo":    repo(provider.CodingNet, "push"),
		"group/project":  repo(provider.GitLab, "push"),
		"team/bitbucket": repo(provider.Bitbucket, "push"),
		"gitea/repo":     repo(provider.Gitea, "push"),
		"gitee/repo":     repo(provider.GiteeCom, "push"),
		"any/events":     repo(provider.GitHub, "*"),
		"no/events":      repo(provider.GitHub),
	}
}

func header(kv ...string) http.Header {
	h := http.Header{}
	for i := 0; i < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

func githubHeader(body, key, event string) http.Header {
	return header(
		"x-hub-signature", sha1Signature(body, key),
		"x-github-event", event,
		"x-github-delivery", "d1",
	)
}

func TestDispatch(t *testing.T) {
	repos := repositories(t)

	tests := []struct {
		name    string
		request webhook.Request
		status  int
		message string
		synced  bool
	}{
		{
			name:    "github push is dispatched",
			request: webhook.Request{Body: []byte(githubBody), Header: githubHeader(githubBody, secret, "push")},
			status:  http.StatusOK,
			message: "ok! (local HEAD: abc1234)",
			synced:  true,
		},
		{
			name:    "github event not in allow-list is ignored",
			request: webhook.Request{Body: []byte(githubBody), Header: githubHeader(githubBody, secret, "pull_request")},
			status:  http.StatusOK,
			message: dispatcher.IgnoredEventMsg,
		},
		{
			name:    "github signature with wrong secret",
			request: webhook.Request{Body: []byte(githubBody), Header: githubHeader(githubBody, "wrong", "push")},
			status:  http.StatusBadRequest,
			message: dispatcher.InvalidSignatureMsg,
		},
		{
			name: "github body tampered after signing",
			request: webhook.Request{
				Body:   []byte(strings.Replace(githubBody, "Fix", "Fax", 1)),
				Header: githubHeader(githubBody, secret, "push"),
			},
			status:  http.StatusBadRequest,
			message: dispatcher.InvalidSignatureMsg,
		},
		{
			name:    "github any event",
			request: webhook.Request{Body: []byte(`{"repository":{"full_name":"any/events"}}`), Header: githubHeader(`{"repository":{"full_name":"any/events"}}`, secret, "release")},
			status:  http.StatusOK,
			message: "ok! (local HEAD: abc1234)",
			synced:  true,
		},
		{
			name:    "empty allow-list never matches",
			request: webhook.Request{Body: []byte(`{"repository":{"full_name":"no/events"}}`), Header: githubHeader(`{"repository":{"full_name":"no/events"}}`, secret, "push")},
			status:  http.StatusOK,
			message: dispatcher.IgnoredEventMsg,
		},
		{
			name:    "body is not json",
			request: webhook.Request{Body: []byte(`payload=%7B%7D`), Header: http.Header{}},
			status:  http.StatusBadRequest,
			message: dispatcher.InvalidBodyMsg,
		},
		{
			name:    "body is json null",
			request: webhook.Request{Body: []byte(`null`), Header: http.Header{}},
			status:  http.StatusBadRequest,
			message: dispatcher.InvalidBodyMsg,
		},
		{
			name:    "no repository object",
			request: webhook.Request{Body: []byte(`{"zen":"Keep it logically awesome."}`), Header: http.Header{}},
			status:  http.StatusBadRequest,
			message: "invalid request body (empty `repository`)",
		},
		{
			name:    "repository name is not a string",
			request: webhook.Request{Body: []byte(`{"repository":{"full_name":1}}`), Header: http.Header{}},
			status:  http.StatusBadRequest,
			message: "invalid request body (no repository name is a string)",
		},
		{
			name:    "unknown repository",
			request: webhook.Request{Body: []byte(`{"repository":{"full_name":"other/repo"}}`), Header: http.Header{}},
			status:  http.StatusBadRequest,
			message: `"other/repo" is not defined in config`,
		},
		{
			name:    "missing signature header",
			request: webhook.Request{Body: []byte(githubBody), Header: header("x-github-event", "push", "x-github-delivery", "d1")},
			status:  http.StatusBadRequest,
			message: "header x-hub-signature is empty",
		},
		{
			name:    "missing event header",
			request: webhook.Request{Body: []byte(githubBody), Header: header("x-hub-signature", sha1Signature(githubBody, secret), "x-github-delivery", "d1")},
			status:  http.StatusBadRequest,
			message: "header x-github-event is empty",
		},
		{
			name:    "missing delivery header",
			request: webhook.Request{Body: []byte(githubBody), Header: header("x-hub-signature", sha1Signature(githubBody, secret), "x-github-event", "push")},
			status:  http.StatusBadRequest,
			message: "header x-github-delivery is empty",
		},
		{
			name: "gogs",
			request: webhook.Request{
				Body: []byte(`{"repository":{"full_name":"gogs/repo"}}`),
				Header: header(
					"x-gogs-signature", sha256Signature(`{"repository":{"full_name":"gogs/repo"}}`, secret),
					"x-gogs-event", "push",
					"x-gogs-delivery", "d2",
				),
			},
			status: http.StatusOK,
			synced: true,
		},
		{
			name: "gogs with sha1 signature",
			request: webhook.Request{
				Body: []byte(`{"repository":{"full_name":"gogs/repo"}}`),
				Header: header(
					"x-gogs-signature", sha1Signature(`{"repository":{"full_name":"gogs/repo"}}`, secret),
					"x-gogs-event", "push",
					"x-gogs-delivery", "d2",
				),
			},
			status:  http.StatusBadRequest,
			message: dispatcher.InvalidSignatureMsg,
		},
		{
			name: "coding.net",
			request: webhook.Request{
				Body: []byte(`{"repository":{"full_name":"coding/repo"}}`),
				Header: header(
					"x-coding-signature", sha1Signature(`{"repository":{"full_name":"coding/repo"}}`, secret),
					"x-coding-event", "push",
					"x-coding-delivery", "d3",
				),
			},
			status: http.StatusOK,
			synced: true,
		},
		{
			name: "gitlab push hook",
			request: webhook.Request{
				Body:   []byte(`{"repository":{"name":"project"},"project":{"path_with_namespace":"group/project"}}`),
				Header: header("x-gitlab-token", secret, "x-gitlab-event", "Push Hook"),
			},
			status: http.StatusOK,
			synced: true,
		},
		{
			name: "gitlab wrong token",
			request: webhook.Request{
				Body:   []byte(`{"repository":{"name":"project"},"project":{"path_with_namespace":"group/project"}}`),
				Header: header("x-gitlab-token", "nope", "x-gitlab-event", "Push Hook"),
			},
			status:  http.StatusBadRequest,
			message: dispatcher.InvalidSignatureMsg,
		},
		{
			name: "gitlab merge request is ignored",
			request: webhook.Request{
				Body:   []byte(`{"repository":{"name":"project"},"project":{"path_with_namespace":"group/project"}}`),
				Header: header("x-gitlab-token", secret, "x-gitlab-event", "Merge Request Hook"),
			},
			status:  http.StatusOK,
			message: dispatcher.IgnoredEventMsg,
		},
		{
			name: "bitbucket secret in query string",
			request: webhook.Request{
				Body:   []byte(`{"repository":{"full_name":"team/bitbucket"}}`),
				Header: header("x-event-key", "repo:push", "x-request-uuid", "u1"),
				Query:  url.Values{"secret": {secret}},
			},
			status: http.StatusOK,
			synced: true,
		},
		{
			name: "bitbucket token in query string",
			request: webhook.Request{
				Body:   []byte(`{"repository":{"full_name":"team/bitbucket"}}`),
				Header: header("x-event-key", "repo:push", "x-request-uuid", "u1"),
				Query:  url.Values{"token": {secret}},
			},
			status: http.StatusOK,
			synced: true,
		},
		{
			name: "bitbucket empty secret shadows token",
			request: webhook.Request{
				Body:   []byte(`{"repository":{"full_name":"team/bitbucket"}}`),
				Header: header("x-event-key", "repo:push", "x-request-uuid", "u1"),
				Query:  url.Values{"secret": {""}, "token": {secret}},
			},
			status:  http.StatusBadRequest,
			message: "query string `secret` or `token` is empty",
		},
		{
			name: "bitbucket without query string",
			request: webhook.Request{
				Body:   []byte(`{"repository":{"full_name":"team/bitbucket"}}`),
				Header: header("x-event-key", "repo:push", "x-request-uuid", "u1"),
			},
			status:  http.StatusBadRequest,
			message: "query string `secret` or `token` is empty",
		},
		{
			name: "gitea secret in body",
			request: webhook.Request{
				Body:   []byte(`{"secret":"s3cret","repository":{"full_name":"gitea/repo"}}`),
				Header: header("x-gitea-event", "push", "x-gitea-delivery", "g1"),
			},
			status: http.StatusOK,
			synced: true,
		},
		{
			name: "gitea without secret",
			request: webhook.Request{
				Body:   []byte(`{"repository":{"full_name":"gitea/repo"}}`),
				Header: header("x-gitea-event", "push", "x-gitea-delivery", "g1"),
			},
			status:  http.StatusBadRequest,
			message: "body field `secret` is empty",
		},
		{
			name: "gitee token",
			request: webhook.Request{
				Body:   []byte(`{"repository":{"full_name":"gitee/repo","path_with_namespace":"gitee/repo"}}`),
				Header: header("x-gitee-token", secret, "x-gitee-event", "push"),
			},
			status: http.StatusOK,
			synced: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			logger, _ := logtest.NewNullLogger()
			fake := &fakeSyncer{}
			d := &dispatcher.Dispatcher{
				Repositories: repos,
				Syncer:       fake,
			}

			outcome := d.Dispatch(context.Background(), test.request, logger)

			assert.Equal(t, test.status, outcome.Status)
			if len(test.message) > 0 {
				assert.Equal(t, test.message, outcome.Message)
			}
			if test.synced {
				assert.Len(t, fake.calls, 1)
			} else {
				assert.Empty(t, fake.calls)
			}
		})
	}
}

func TestDispatchDoesNotLogSecrets(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(log.TraceLevel)
	d := &dispatcher.Dispatcher{
		Repositories: repositories(t),
		Syncer:       &fakeSyncer{},
	}

	body := `{"repository":{"name":"project"},"project":{"path_with_namespace":"group/project"}}`
	d.Dispatch(context.Background(), webhook.Request{Body: []byte(body), Header: header("x-gitlab-token", "guessed-token", "x-gitlab-event", "Push Hook")}, logger)
	d.Dispatch(context.Background(), webhook.Request{Body: []byte(body), Header: header("x-gitlab-token", secret, "x-gitlab-event", "Push Hook")}, logger)

	require.NotEmpty(t, hook.AllEntries())
	for _, entry := range hook.AllEntries() {
		line, err := entry.String()
		require.NoError(t, err)
		assert.NotContains(t, line, "guessed-token")
		assert.NotContains(t, line, secret)
	}
}

func TestDispatchLogsHeadCommit(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	d := &dispatcher.Dispatcher{
		Repositories: repositories(t),
		Syncer:       &fakeSyncer{},
	}

	d.Dispatch(context.Background(), webhook.Request{Body: []byte(githubBody), Header: githubHeader(githubBody, secret, "push")}, logger)

	messages := make([]string, 0)
	for _, entry := range hook.AllEntries() {
		messages = append(messages, entry.Message)
	}
	assert.Contains(t, messages, `received verified hook request: push org/repo (0123456 "Fix things")`)
	assert.Contains(t, messages, "webhook delivery id: d1")
}

func TestDispatchDumps(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	dumper := &fakeDumper{}
	d := &dispatcher.Dispatcher{
		Repositories: repositories(t),
		Syncer:       &fakeSyncer{},
		Dumper:       dumper,
	}

	d.Dispatch(context.Background(), webhook.Request{Body: []byte(`not json`), Header: http.Header{}}, logger)
	d.Dispatch(context.Background(), webhook.Request{Body: []byte(githubBody), Header: githubHeader(githubBody, secret, "push")}, logger)

	require.Len(t, dumper.dumped, 2)
	assert.Nil(t, dumper.dumped[0])
	assert.NotNil(t, dumper.dumped[1])
}

// An asynchronous repository answers before the sync script has finished.
func TestDispatchAsync(t *testing.T) {
	logger, hook := logtest.NewNullLogger()

	dir := t.TempDir()
	script := filepath.Join(dir, "git.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nsleep 1\necho HEAD_COMMIT=beef\n"), 0o700))

	repos := repositories(t)
	repo := repos["org/repo"]
	repo.Async = true
	repos["org/repo"] = repo

	d := &dispatcher.Dispatcher{
		Repositories: repos,
		Syncer: syncer.New(syncer.Options{
			Script:  script,
			Shell:   "sh",
			Timeout: 10 * time.Second,
		}),
	}

	finished := func() bool {
		for _, entry := range hook.AllEntries() {
			if strings.HasPrefix(entry.Message, "sync done!") {
				return true
			}
		}
		return false
	}

	outcome := d.Dispatch(context.Background(), webhook.Request{Body: []byte(githubBody), Header: githubHeader(githubBody, secret, "push")}, logger)

	assert.Equal(t, http.StatusOK, outcome.Status)
	assert.Equal(t, syncer.AcceptedMessage, outcome.Message)
	assert.False(t, finished(), "response must be produced before the sync completes")
	assert.Eventually(t, finished, 10*time.Second, 50*time.Millisecond)
}
