// Package privacy rewrites events so that no sensitive content ever
// leaves the monitor. The guarantee: no output field contains source
// code, file contents, prompts, model responses, shell command text,
// or search patterns. Full paths are reduced to basenames, and
// basenames with extensions outside the configured allowlist are
// replaced with a redaction marker.
package privacy

import (
	"path/filepath"
	"strings"

	"github.com/pulsewatch/pulsewatch/internal/event"
)

// shellTools run arbitrary command text. Only the human description of
// the invocation may survive filtering.
var shellTools = map[string]bool{
	"Bash":       true,
	"BashOutput": true,
}

// searchTools carry user search patterns. Filtering drops the pattern
// and any path context, keeping only the tool name and status.
var searchTools = map[string]bool{
	"Grep":      true,
	"Glob":      true,
	"WebSearch": true,
}

// Filter is a pure event transform. The zero value allows every file
// extension; a configured allowlist redacts basenames outside it.
type Filter struct {
	allowed map[string]bool
}

// New builds a filter. Extensions are compared case-insensitively and
// without a leading dot; an empty list allows all extensions.
func New(allowedExts []string) *Filter {
	f := &Filter{}
	if len(allowedExts) > 0 {
		f.allowed = make(map[string]bool, len(allowedExts))
		for _, ext := range allowedExts {
			ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
			if ext != "" {
				f.allowed[ext] = true
			}
		}
	}
	return f
}

// Apply returns the metadata-only form of ev. It never fails: a
// payload it cannot improve passes through with its project field
// reduced to a basename.
func (f *Filter) Apply(ev event.Event) event.Event {
	switch p := ev.Payload.(type) {
	case event.SessionPayload:
		p.Project = baseOnly(p.Project)
		ev.Payload = p
	case event.ActivityPayload:
		p.Project = baseOnly(p.Project)
		ev.Payload = p
	case event.ToolPayload:
		ev.Payload = f.filterTool(p)
	case event.AgentPayload:
		p.Project = baseOnly(p.Project)
		ev.Payload = p
	case event.SummaryPayload:
		p.Project = baseOnly(p.Project)
		ev.Payload = p
	case event.ErrorPayload:
		p.Project = baseOnly(p.Project)
		ev.Payload = p
	}
	return ev
}

func (f *Filter) filterTool(p event.ToolPayload) event.ToolPayload {
	p.Project = baseOnly(p.Project)

	// Command text and search patterns never survive, regardless of
	// which tool produced them.
	p.Command = ""

	switch {
	case searchTools[p.Tool]:
		p.Pattern = ""
		p.File = ""
		p.Detail = ""
	case shellTools[p.Tool]:
		p.Pattern = ""
		p.File = ""
		// Detail is the optional human description; it stays.
	default:
		p.Pattern = ""
		p.Detail = ""
		p.File = f.basename(p.File)
	}
	return p
}

// basename reduces a path to its final element and applies the
// extension allowlist.
func (f *Filter) basename(path string) string {
	if path == "" {
		return ""
	}
	base := filepath.Base(path)
	if f.allowed == nil {
		return base
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(base), "."))
	if !f.allowed[ext] {
		return event.RedactionMarker
	}
	return base
}

// baseOnly strips any directory component without applying the
// allowlist; project names are directory basenames, not files.
func baseOnly(s string) string {
	if s == "" {
		return ""
	}
	return filepath.Base(s)
}
