package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ghodss/yaml"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/jsonc"
	"gopkg.in/go-playground/validator.v9"

	"github.com/nais/pullhookd/pkg/pullhookd/provider"
)

const (
	DefaultBranch = "master"
	DefaultRemote = "origin"

	// Repository entries whose name starts with this prefix are treated as commented out.
	commentPrefix = "// "
)

// Repository is the configuration of one working copy kept in sync by webhooks.
type Repository struct {
	Local     string        `json:"local" validate:"required"`
	Secret    string        `json:"secret" validate:"required"`
	Branch    string        `json:"branch"`
	Remote    string        `json:"remote"`
	Type      provider.Type `json:"type"`
	Events    []string      `json:"events" validate:"dive,required"`
	Async     bool          `json:"async"`
	AfterPull string        `json:"afterPull"`
}

// Repositories maps repository name, as reported by the provider, to its configuration.
// It is built once at startup and never modified.
type Repositories map[string]Repository

type repositoryFile struct {
	Repositories map[string]Repository `json:"repositories"`
}

func (r Repositories) Get(name string) (Repository, bool) {
	repo, ok := r[name]
	return repo, ok
}

func (r Repositories) Has(name string) bool {
	_, ok := r[name]
	return ok
}

// Names returns the configured repository names, sorted.
func (r Repositories) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadRepositories reads and validates a repository file. Files ending in .yaml or .yml
// are parsed as YAML; anything else as JSON, where comments and trailing commas are allowed.
func LoadRepositories(path string) (Repositories, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading repositories file: %w", err)
	}

	repos, err := ParseRepositories(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return repos, nil
}

func ParseRepositories(data []byte, ext string) (Repositories, error) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
	default:
		data = jsonc.ToJSON(data)
	}

	file := &repositoryFile{}
	err := yaml.Unmarshal(data, file)
	if err != nil {
		return nil, fmt.Errorf("invalid repositories file: %w", err)
	}

	if len(file.Repositories) == 0 {
		return nil, fmt.Errorf("invalid config: repositories is empty")
	}

	validate := validator.New()
	repos := make(Repositories, len(file.Repositories))

	for name, repo := range file.Repositories {
		if strings.HasPrefix(name, commentPrefix) {
			log.Infof("Ignore config: %q (commented out by %q)", name, commentPrefix)
			continue
		}

		repo = repo.withDefaults()
		err = validate.Struct(repo)
		if err != nil {
			return nil, fmt.Errorf("invalid config: repositories[%q]: %w", name, err)
		}

		err = repo.validate()
		if err != nil {
			return nil, fmt.Errorf("invalid config: repositories[%q]: %w", name, err)
		}

		repos[name] = repo
	}

	if len(repos) == 0 {
		return nil, fmt.Errorf("invalid config: every repository is commented out")
	}

	return repos, nil
}

func (r Repository) withDefaults() Repository {
	if len(r.Branch) == 0 {
		r.Branch = DefaultBranch
	}
	if len(r.Remote) == 0 {
		r.Remote = DefaultRemote
	}
	if len(r.Type) == 0 {
		r.Type = provider.Default
	}
	if r.Events == nil {
		r.Events = []string{"push"}
	}
	return r
}

func (r Repository) validate() error {
	if !provider.IsValid(r.Type) {
		return fmt.Errorf("type (%q) is not a valid type; valid types are %v", r.Type, provider.Types())
	}

	info, err := os.Stat(r.Local)
	if err != nil {
		return fmt.Errorf("get stat of %s failed: %w", r.Local, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%q is not a directory", r.Local)
	}

	return nil
}
