// Package provider holds the static table of supported hosting providers: where each one
// puts its credential, event name and delivery id, and how its credential is verified.
package provider

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/nais/pullhookd/pkg/pullhookd/events"
)

type Type string

const (
	GitHub    Type = "github"
	GitLab    Type = "gitlab"
	Gogs      Type = "gogs"
	Bitbucket Type = "bitbucket"
	Gitea     Type = "gitea"
	CodingNet Type = "coding.net"
	GiteeCom  Type = "gitee.com"

	Default = GitHub
)

// Source tells where a provider puts its credential.
type Source int

const (
	SourceHeader Source = iota
	SourceQuery
	SourceBody
)

var ErrUnknownType = errors.New("unknown provider type")

// Strategy describes how to authenticate and interpret requests from one provider.
type Strategy struct {
	Type Type

	// Source and CredentialKeys locate the credential. The keys are tried in order
	// and the first one present wins.
	Source         Source
	CredentialKeys []string

	EventHeader    string
	DeliveryHeader string

	// Delivery is used as delivery id when the provider sends none.
	Delivery string

	Verify    VerifyFunc
	EventRule events.Rule
}

var strategies = map[Type]Strategy{
	GitHub: {
		Source:         SourceHeader,
		CredentialKeys: []string{"x-hub-signature"},
		EventHeader:    "x-github-event",
		DeliveryHeader: "x-github-delivery",
		Verify:         VerifySHA1Prefixed,
	},
	Gogs: {
		Source:         SourceHeader,
		CredentialKeys: []string{"x-gogs-signature"},
		EventHeader:    "x-gogs-event",
		DeliveryHeader: "x-gogs-delivery",
		Verify:         VerifySHA256,
	},
	Bitbucket: {
		Source:         SourceQuery,
		CredentialKeys: []string{"secret", "token"},
		EventHeader:    "x-event-key",
		DeliveryHeader: "x-request-uuid",
		Verify:         VerifySecret,
		EventRule:      events.RepoPrefix,
	},
	Gitea: {
		Source:         SourceBody,
		CredentialKeys: []string{"secret"},
		EventHeader:    "x-gitea-event",
		DeliveryHeader: "x-gitea-delivery",
		Verify:         VerifySecret,
	},
	CodingNet: {
		Source:         SourceHeader,
		CredentialKeys: []string{"x-coding-signature"},
		EventHeader:    "x-coding-event",
		DeliveryHeader: "x-coding-delivery",
		Verify:         VerifySHA1Prefixed,
	},
	GiteeCom: {
		Source:         SourceHeader,
		CredentialKeys: []string{"x-gitee-token"},
		EventHeader:    "x-gitee-event",
		DeliveryHeader: "x-gitee-event",
		Verify:         VerifySecret,
	},
	GitLab: {
		Source:         SourceHeader,
		CredentialKeys: []string{"x-gitlab-token"},
		EventHeader:    "x-gitlab-event",
		Delivery:       "gitlab",
		Verify:         VerifySecret,
		EventRule:      events.HookSuffix,
	},
}

func init() {
	for t, s := range strategies {
		s.Type = t
		strategies[t] = s
	}
}

// Lookup returns the strategy for t.
func Lookup(t Type) (Strategy, error) {
	s, ok := strategies[t]
	if !ok {
		return Strategy{}, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	return s, nil
}

func IsValid(t Type) bool {
	_, ok := strategies[t]
	return ok
}

// Types returns all supported provider types, sorted.
func Types() []Type {
	types := make([]Type, 0, len(strategies))
	for t := range strategies {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		return types[i] < types[j]
	})
	return types
}

// MatchEvent reports whether event is allowed by allowList for a repository of type t.
func MatchEvent(allowList []string, event string, t Type) bool {
	s, err := Lookup(t)
	if err != nil {
		return events.Match(allowList, event, events.Exact)
	}
	return s.MatchEvent(allowList, event)
}

func (s Strategy) MatchEvent(allowList []string, event string) bool {
	return events.Match(allowList, event, s.EventRule)
}

// Credential extracts the credential from the declared source. The first key present
// in the source is used, even when its value is empty. An empty string means the
// credential is missing.
func (s Strategy) Credential(header http.Header, query url.Values, payload map[string]interface{}) string {
	for _, key := range s.CredentialKeys {
		switch s.Source {
		case SourceHeader:
			if values := header.Values(key); len(values) > 0 {
				return values[0]
			}
		case SourceQuery:
			if query.Has(key) {
				return query.Get(key)
			}
		case SourceBody:
			if value, ok := payload[key]; ok {
				str, _ := value.(string)
				return str
			}
		}
	}
	return ""
}

// CredentialName describes where the credential is expected, for error messages.
func (s Strategy) CredentialName() string {
	keys := make([]string, len(s.CredentialKeys))
	for i := range s.CredentialKeys {
		keys[i] = fmt.Sprintf("`%s`", s.CredentialKeys[i])
	}
	joined := strings.Join(keys, " or ")

	switch s.Source {
	case SourceQuery:
		return "query string " + joined
	case SourceBody:
		return "body field " + joined
	default:
		return "header " + strings.Join(s.CredentialKeys, " or ")
	}
}

func (s Strategy) Event(header http.Header) string {
	return header.Get(s.EventHeader)
}

func (s Strategy) DeliveryID(header http.Header) string {
	if len(s.DeliveryHeader) == 0 {
		return s.Delivery
	}
	return header.Get(s.DeliveryHeader)
}

// CredentialKeys returns every key any provider reads its credential from in source.
func CredentialKeys(source Source) []string {
	seen := make(map[string]bool)
	keys := make([]string, 0)
	for _, t := range Types() {
		s := strategies[t]
		if s.Source != source {
			continue
		}
		for _, key := range s.CredentialKeys {
			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}
	return keys
}
