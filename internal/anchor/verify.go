// Package anchor implements anchor CRUD, per-type file verification, a TTL
// cache, and a bounded-concurrency batch verifier ("swarm") over the anchor
// graph (spec.md §4.D).
package anchor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/jamesaphoenix/tx-sub011/internal/store"
)

// VerifyResult is the outcome of checking a single anchor against the
// filesystem.
type VerifyResult struct {
	NewStatus store.AnchorStatus
	Reason    string
}

// VerifyAnchor dispatches to the per-type verifier named by a's AnchorType
// (spec.md §4.D table).
func VerifyAnchor(a *store.Anchor, baseDir string) VerifyResult {
	switch a.AnchorType {
	case store.AnchorGlob:
		return verifyGlobAnchor(a, baseDir)
	case store.AnchorLineRange:
		return verifyLineRangeAnchor(a, baseDir)
	case store.AnchorHash:
		return verifyHashAnchor(a, baseDir)
	case store.AnchorSymbol:
		return verifySymbolAnchor(a, baseDir)
	default:
		return VerifyResult{NewStatus: store.AnchorInvalid, Reason: "unknown anchor type"}
	}
}

func resolvePath(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func verifyGlobAnchor(a *store.Anchor, baseDir string) VerifyResult {
	matches, err := filepath.Glob(resolvePath(baseDir, a.AnchorValue))
	if err != nil || len(matches) == 0 {
		return VerifyResult{NewStatus: store.AnchorInvalid, Reason: "no file matches glob " + a.AnchorValue}
	}
	return VerifyResult{NewStatus: store.AnchorValid}
}

func verifyLineRangeAnchor(a *store.Anchor, baseDir string) VerifyResult {
	path := resolvePath(baseDir, a.FilePath)
	data, err := os.ReadFile(path)
	if err != nil {
		return VerifyResult{NewStatus: store.AnchorInvalid, Reason: "file missing: " + a.FilePath}
	}
	lineEnd := 0
	if a.LineEnd != nil {
		lineEnd = *a.LineEnd
	}
	lineCount := countLines(data)
	if lineCount >= lineEnd {
		return VerifyResult{NewStatus: store.AnchorValid}
	}
	return VerifyResult{NewStatus: store.AnchorDrifted, Reason: "file shortened below recorded line range"}
}

func countLines(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	if data[len(data)-1] != '\n' {
		n++
	}
	return n
}

func verifyHashAnchor(a *store.Anchor, baseDir string) VerifyResult {
	path := resolvePath(baseDir, a.FilePath)
	data, err := os.ReadFile(path)
	if err != nil {
		return VerifyResult{NewStatus: store.AnchorInvalid, Reason: "file missing: " + a.FilePath}
	}
	sum := sha256.Sum256(data)
	current := hex.EncodeToString(sum[:])
	if a.ContentHash != nil && current == *a.ContentHash {
		return VerifyResult{NewStatus: store.AnchorValid}
	}
	return VerifyResult{NewStatus: store.AnchorDrifted, Reason: "content hash changed"}
}

func verifySymbolAnchor(a *store.Anchor, baseDir string) VerifyResult {
	path := resolvePath(baseDir, a.FilePath)
	data, err := os.ReadFile(path)
	if err != nil {
		return VerifyResult{NewStatus: store.AnchorInvalid, Reason: "file missing: " + a.FilePath}
	}
	fqname := ""
	if a.SymbolFqname != nil {
		fqname = *a.SymbolFqname
	}
	if fqname == "" {
		return VerifyResult{NewStatus: store.AnchorDrifted, Reason: "anchor has no symbol name recorded"}
	}

	if languageFor(path) != nil {
		if symbolPresentViaTreeSitter(path, data, fqname) {
			return VerifyResult{NewStatus: store.AnchorValid}
		}
	} else if symbolPresentViaRegex(data, fqname) {
		return VerifyResult{NewStatus: store.AnchorValid}
	}
	return VerifyResult{NewStatus: store.AnchorDrifted, Reason: "symbol " + fqname + " not found"}
}

// symbolPresentViaTreeSitter parses path with the grammar matching its
// extension and walks the root node for a function/method/class/type
// definition whose name matches the last dotted segment of fqname.
// Unsupported extensions return false so the regex fallback takes over
// (SPEC_FULL.md §4.D).
func symbolPresentViaTreeSitter(path string, content []byte, fqname string) bool {
	lang := languageFor(path)
	if lang == nil {
		return false
	}
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil || tree == nil {
		return false
	}
	defer tree.Close()

	name := fqname
	if i := strings.LastIndexAny(fqname, ".:"); i >= 0 {
		name = fqname[i+1:]
	}

	found := false
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if found || n == nil {
			return
		}
		switch n.Type() {
		case "function_declaration", "method_declaration", "function_definition",
			"class_declaration", "class_definition", "type_declaration", "type_spec", "type_alias",
			"function", "method_definition":
			if nameNode := n.ChildByFieldName("name"); nameNode != nil {
				if nameNode.Content(content) == name {
					found = true
					return
				}
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
			if found {
				return
			}
		}
	}
	walk(tree.RootNode())
	return found
}

func languageFor(path string) *sitter.Language {
	switch filepath.Ext(path) {
	case ".go":
		return golang.GetLanguage()
	case ".py":
		return python.GetLanguage()
	case ".js", ".jsx":
		return javascript.GetLanguage()
	case ".ts", ".tsx":
		return typescript.GetLanguage()
	default:
		return nil
	}
}

// symbolPresentViaRegex is the line-scan fallback for languages without a
// tree-sitter grammar wired in: a whole-word match of the symbol's last
// segment anywhere in the file.
func symbolPresentViaRegex(content []byte, fqname string) bool {
	name := fqname
	if i := strings.LastIndexAny(fqname, ".:"); i >= 0 {
		name = fqname[i+1:]
	}
	pattern := regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\b`)
	return pattern.Match(content)
}
