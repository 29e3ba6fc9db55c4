// Package docgraph implements the doc graph: YAML-backed overview/PRD/design
// documents, their version lineage, invariant registry, and drift detection
// (spec.md §4.F).
package docgraph

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/jamesaphoenix/tx-sub011/internal/ids"
)

// InvariantBody is an invariant as declared inside a doc's YAML body.
type InvariantBody struct {
	ID          string  `yaml:"id"`
	Rule        string  `yaml:"rule"`
	Enforcement string  `yaml:"enforcement"`
	Subsystem   *string `yaml:"subsystem,omitempty"`
	TestRef     *string `yaml:"test_ref,omitempty"`
	LintRule    *string `yaml:"lint_rule,omitempty"`
	PromptRef   *string `yaml:"prompt_ref,omitempty"`
}

// Body is the on-disk YAML shape of a doc (spec.md §4.F). Metadata fields
// tracked by the index row (version, status, hash) are not duplicated here;
// the file holds only the author-facing content.
type Body struct {
	Kind        string          `yaml:"kind"`
	Name        string          `yaml:"name"`
	Title       string          `yaml:"title"`
	Description string          `yaml:"description,omitempty"`
	Invariants  []InvariantBody `yaml:"invariants,omitempty"`
}

// canonicalBytes re-marshals body so hashing is stable across callers that
// may have constructed it with different field orders (yaml.v3 marshals
// struct fields in declaration order, not map order).
func canonicalBytes(body Body) ([]byte, error) {
	return yaml.Marshal(body)
}

// hashBody returns the sha256 hex digest of body's canonical YAML encoding.
func hashBody(body Body) (string, []byte, error) {
	data, err := canonicalBytes(body)
	if err != nil {
		return "", nil, err
	}
	return ids.ContentHash(data), data, nil
}

// writeBodyFile atomically writes data to path, creating parent directories
// as needed, matching the teacher's config.Save pattern
// (internal/config/config.go).
func writeBodyFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".docgraph-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func readBodyFile(path string) (Body, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Body{}, err
	}
	var body Body
	if err := yaml.Unmarshal(data, &body); err != nil {
		return Body{}, err
	}
	return body, nil
}
