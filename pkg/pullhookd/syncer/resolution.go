package syncer

import (
	"sync"

	"github.com/nais/pullhookd/pkg/pullhookd/webhook"
)

// resolution is a single-assignment outcome cell. The first resolve wins;
// later calls are no-ops.
type resolution struct {
	once    sync.Once
	done    chan struct{}
	outcome webhook.Outcome
}

func newResolution() *resolution {
	return &resolution{
		done: make(chan struct{}),
	}
}

// resolve stores outcome if the cell is still empty, and reports whether it did.
func (r *resolution) resolve(outcome webhook.Outcome) bool {
	resolved := false
	r.once.Do(func() {
		r.outcome = outcome
		resolved = true
		close(r.done)
	})
	return resolved
}

func (r *resolution) wait() webhook.Outcome {
	<-r.done
	return r.outcome
}
