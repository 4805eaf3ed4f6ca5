// Package dump writes incoming requests to disk for troubleshooting provider integrations.
package dump

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/nais/pullhookd/pkg/pullhookd/metrics"
	"github.com/nais/pullhookd/pkg/pullhookd/provider"
)

const redacted = "***REDACTED***"

// Dumper writes one JSON file per request. Only one dump is written at a time; a dump
// requested while another is in progress is skipped.
type Dumper struct {
	Dir string
	Now func() time.Time

	busy atomic.Bool
}

type document struct {
	QueryStrings map[string]string `json:"queryStrings"`
	Headers      map[string]string `json:"headers"`
	Body         interface{}       `json:"body"`
}

func New(dir string) *Dumper {
	return &Dumper{
		Dir: dir,
		Now: time.Now,
	}
}

// Dump writes the request and returns the file name. Failures are logged, never returned.
func (d *Dumper) Dump(query url.Values, header http.Header, payload interface{}) string {
	if !d.busy.CompareAndSwap(false, true) {
		metrics.Dump(metrics.DumpSkipped)
		return ""
	}
	defer d.busy.Store(false)

	target, err := d.write(query, header, payload)
	if err != nil {
		log.Warnf("dump request to log file failed: %s", err)
		metrics.Dump(metrics.DumpFailed)
		return ""
	}

	log.Infof("dump request to log file: %s", target)
	metrics.Dump(metrics.DumpWritten)
	return target
}

func (d *Dumper) write(query url.Values, header http.Header, payload interface{}) (string, error) {
	err := os.MkdirAll(d.Dir, 0o750)
	if err != nil {
		return "", err
	}

	doc := document{
		QueryStrings: flatten(query, provider.CredentialKeys(provider.SourceQuery), false),
		Headers:      flatten(header, provider.CredentialKeys(provider.SourceHeader), true),
		Body:         redactBody(payload),
	}

	data, err := json.MarshalIndent(doc, "", "\t")
	if err != nil {
		return "", fmt.Errorf("encode dump: %w", err)
	}

	name := fmt.Sprintf("%s-%s.json", d.Now().UTC().Format("2006-01-02T15-04-05.000Z"), uuid.NewString())
	target := filepath.Join(d.Dir, name)

	err = os.WriteFile(target, data, 0o640)
	if err != nil {
		return "", err
	}

	return target, nil
}

// flatten joins repeated values and hides credentials. Header names are lower-cased.
func flatten(values map[string][]string, secretKeys []string, lowerKeys bool) map[string]string {
	secret := make(map[string]bool, len(secretKeys))
	for _, key := range secretKeys {
		secret[key] = true
	}

	flat := make(map[string]string, len(values))
	for key, v := range values {
		if lowerKeys {
			key = strings.ToLower(key)
		}
		if secret[key] {
			flat[key] = redacted
			continue
		}
		flat[key] = strings.Join(v, ", ")
	}
	return flat
}

func redactBody(payload interface{}) interface{} {
	m, ok := payload.(map[string]interface{})
	if !ok {
		return payload
	}

	copied := make(map[string]interface{}, len(m))
	for key, value := range m {
		copied[key] = value
	}
	for _, key := range provider.CredentialKeys(provider.SourceBody) {
		if _, ok := copied[key]; ok {
			copied[key] = redacted
		}
	}
	return copied
}
