// Package events decides whether a webhook event is on a repository's allow-list.
package events

import (
	"strings"
)

// Wildcard in an allow-list matches every event.
const Wildcard = "*"

const (
	bitbucketRepoPrefix = "repo:"
	gitlabHookSuffix    = " hook"
)

// Rule selects how event names sent by a provider are folded before comparison.
type Rule int

const (
	// Exact compares event names case-sensitively.
	Exact Rule = iota
	// RepoPrefix also tries the event with a leading "repo:" removed (Bitbucket sends "repo:push").
	RepoPrefix
	// HookSuffix also tries the lower-cased event, then the lower-cased event without a
	// trailing " hook" (GitLab sends "Push Hook").
	HookSuffix
)

func (r Rule) String() string {
	switch r {
	case Exact:
		return "exact"
	case RepoPrefix:
		return "repo-prefix"
	case HookSuffix:
		return "hook-suffix"
	default:
		return "unknown"
	}
}

// Match reports whether actual is allowed by allowList under the given rule.
func Match(allowList []string, actual string, rule Rule) bool {
	if contains(allowList, Wildcard) {
		return true
	}

	if contains(allowList, actual) {
		return true
	}

	switch rule {
	case RepoPrefix:
		if strings.HasPrefix(actual, bitbucketRepoPrefix) {
			return contains(allowList, strings.TrimPrefix(actual, bitbucketRepoPrefix))
		}

	case HookSuffix:
		lower := strings.ToLower(actual)
		if contains(allowList, lower) {
			return true
		}
		if strings.HasSuffix(lower, gitlabHookSuffix) {
			return contains(allowList, strings.TrimSuffix(lower, gitlabHookSuffix))
		}
	}

	return false
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
