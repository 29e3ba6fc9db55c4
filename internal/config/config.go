// Package config loads and writes the workbench's .tx/config.toml file and
// holds the per-subsystem settings used across the core (spec.md §6).
//
// The on-disk format is a small TOML subset: "[section]" headers and
// "key = value" lines. Values are either double-quoted strings or bare
// integers. The file layout mirrors the teacher's internal/config package
// (one logical concern per section) even though the teacher itself reads
// YAML — see DESIGN.md for why this port keeps TOML as the literal format.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jamesaphoenix/tx-sub011/internal/logging"
)

// Config holds the recognized keys from spec.md §6's table.
type Config struct {
	Docs      DocsConfig
	Cycles    CyclesConfig
	Dashboard DashboardConfig
}

// DocsConfig configures the on-disk location of doc YAML bodies.
type DocsConfig struct {
	Path string // docs.path
}

// CyclesConfig configures defaults for external run-orchestration
// collaborators (out of core scope, but the config keys are owned here).
type CyclesConfig struct {
	ScanPrompt string // cycles.scan_prompt
	Agents     int    // cycles.agents
	Model      string // cycles.model
}

// DashboardConfig configures dashboard-facing defaults.
type DashboardConfig struct {
	DefaultTaskAssignmentType string // dashboard.default_task_assigment_type
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		Docs:      DocsConfig{Path: ".tx/docs"},
		Cycles:    CyclesConfig{Agents: 1},
		Dashboard: DashboardConfig{DefaultTaskAssignmentType: "human"},
	}
}

// knownKey identifies a recognized "section.key" pair and its line index in
// the raw file, so Save can rewrite just that line and leave everything
// else — unknown keys, comments, blank lines, section ordering — untouched.
type knownKey struct {
	section string
	key     string
	line    int // index into File.lines, -1 if not present in the source file
}

// File is a loaded config file: the recognized Config plus enough of the
// raw source to write it back out with unknown regions preserved verbatim.
type File struct {
	Config Config
	Path   string

	lines        []string
	sectionOf    map[int]string // line index -> section name, for insertion point lookup
	known        []knownKey
	lastLineOfSection map[string]int
}

// Load reads path, applying Default() for anything the file does not set.
// A missing file is not an error: Load returns defaults with no source
// lines, and the first Save creates the file.
func Load(path string) (*File, error) {
	f := &File{Config: Default(), Path: path, sectionOf: map[int]string{}, lastLineOfSection: map[string]int{}}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	section := ""
	idx := 0
	for scanner.Scan() {
		line := scanner.Text()
		f.lines = append(f.lines, line)
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, "#") || trimmed == "":
			// comment or blank line: preserved, not associated with a section change
		case strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]"):
			section = strings.TrimSpace(trimmed[1 : len(trimmed)-1])
		default:
			if key, value, ok := parseKV(trimmed); ok {
				f.applyKnown(section, key, value, idx)
			}
		}
		f.sectionOf[idx] = section
		f.lastLineOfSection[section] = idx
		idx++
	}
	return f, nil
}

func parseKV(line string) (key, value string, ok bool) {
	eq := strings.Index(line, "=")
	if eq < 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:eq])
	value = strings.TrimSpace(line[eq+1:])
	if strings.HasPrefix(value, "\"") && strings.HasSuffix(value, "\"") && len(value) >= 2 {
		value = value[1 : len(value)-1]
	}
	return key, value, true
}

func (f *File) applyKnown(section, key, value string, line int) {
	switch section + "." + key {
	case "docs.path":
		f.Config.Docs.Path = value
		f.known = append(f.known, knownKey{section, key, line})
	case "cycles.scan_prompt":
		f.Config.Cycles.ScanPrompt = value
		f.known = append(f.known, knownKey{section, key, line})
	case "cycles.agents":
		if n, err := strconv.Atoi(value); err == nil {
			f.Config.Cycles.Agents = n
		}
		f.known = append(f.known, knownKey{section, key, line})
	case "cycles.model":
		f.Config.Cycles.Model = value
		f.known = append(f.known, knownKey{section, key, line})
	case "dashboard.default_task_assigment_type":
		if value == "human" || value == "agent" {
			f.Config.Dashboard.DefaultTaskAssignmentType = value
		} else {
			logging.Get(logging.CategoryAPI).Warn("invalid dashboard.default_task_assigment_type %q, using default", value)
			f.Config.Dashboard.DefaultTaskAssignmentType = "human"
		}
		f.known = append(f.known, knownKey{section, key, line})
	}
}

// Save writes the config back to Path. Lines corresponding to recognized
// keys are rewritten in place; everything else (unknown keys, comments,
// section ordering) is copied verbatim. Sections/keys present in Config but
// absent from the source are appended.
func (f *File) Save() error {
	lines := append([]string(nil), f.lines...)

	set := func(section, key, value string) {
		rendered := fmt.Sprintf("%s = %q", key, value)
		for _, k := range f.known {
			if k.section == section && k.key == key {
				lines[k.line] = rendered
				return
			}
		}
		lines = appendToSection(lines, f.lastLineOfSection, section, rendered)
	}
	setInt := func(section, key string, value int) {
		rendered := fmt.Sprintf("%s = %d", key, value)
		for _, k := range f.known {
			if k.section == section && k.key == key {
				lines[k.line] = rendered
				return
			}
		}
		lines = appendToSection(lines, f.lastLineOfSection, section, rendered)
	}

	set("docs", "path", f.Config.Docs.Path)
	if f.Config.Cycles.ScanPrompt != "" {
		set("cycles", "scan_prompt", f.Config.Cycles.ScanPrompt)
	}
	setInt("cycles", "agents", f.Config.Cycles.Agents)
	if f.Config.Cycles.Model != "" {
		set("cycles", "model", f.Config.Cycles.Model)
	}
	set("dashboard", "default_task_assigment_type", f.Config.Dashboard.DefaultTaskAssignmentType)

	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	out := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(f.Path, []byte(out), 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", f.Path, err)
	}
	f.lines = lines
	return nil
}

// appendToSection adds a new "[section]" header (if missing) and the key
// line right after the section's last known line, or at the end of file.
func appendToSection(lines []string, lastLineOfSection map[string]int, section, rendered string) []string {
	if last, ok := lastLineOfSection[section]; ok {
		out := append([]string{}, lines[:last+1]...)
		out = append(out, rendered)
		out = append(out, lines[last+1:]...)
		for k := range lastLineOfSection {
			if lastLineOfSection[k] > last {
				lastLineOfSection[k]++
			}
		}
		lastLineOfSection[section] = last + 1
		return out
	}
	lines = append(lines, "", "["+section+"]", rendered)
	lastLineOfSection[section] = len(lines) - 1
	return lines
}
