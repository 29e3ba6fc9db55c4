package docgraph

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jamesaphoenix/tx-sub011/internal/store"
)

// Render emits a Markdown view of name (or every doc, when name is empty)
// into ${docsDir}/rendered/. This is the thinnest possible projection — the
// real rendering collaborator lives outside this system (spec.md §4.F).
func (s *Service) Render(ctx context.Context, name string) ([]string, error) {
	if name != "" {
		doc, err := s.db.GetDocByName(ctx, name)
		if err != nil {
			return nil, err
		}
		path, err := s.renderOne(doc)
		if err != nil {
			return nil, err
		}
		return []string{path}, nil
	}

	names, err := s.db.AllDocNames(ctx)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, n := range names {
		doc, err := s.db.GetDocByName(ctx, n)
		if err != nil {
			return nil, err
		}
		path, err := s.renderOne(doc)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (s *Service) renderOne(doc *store.Doc) (string, error) {
	body, err := readBodyFile(doc.FilePath)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", body.Title)
	fmt.Fprintf(&b, "_kind: %s · version %d · status %s_\n\n", doc.Kind, doc.Version, doc.Status)
	if body.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", body.Description)
	}
	if len(body.Invariants) > 0 {
		b.WriteString("## Invariants\n\n")
		for _, inv := range body.Invariants {
			fmt.Fprintf(&b, "- **%s** (%s): %s\n", inv.ID, inv.Enforcement, inv.Rule)
		}
		b.WriteString("\n")
	}

	renderDir := filepath.Join(s.docsDir, "rendered")
	if err := os.MkdirAll(renderDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(renderDir, doc.Name+".md")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
