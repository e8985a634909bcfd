// Package parse classifies session-log lines into domain events. Each
// line is a JSON record written by the coding assistant; the parser
// extracts only the fields the event payload for that type allows and
// infers session boundaries from the stream.
package parse

import (
	"encoding/json"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/pulsewatch/pulsewatch/internal/event"
)

// toolTask is the sub-agent dispatch tool; its invocations become
// agent events rather than tool events.
const toolTask = "Task"

// record is the raw shape of one session-log line. Unknown fields are
// ignored; absent fields stay zero.
type record struct {
	Type      string   `json:"type"`
	SessionID string   `json:"sessionId"`
	Timestamp string   `json:"timestamp"`
	Cwd       string   `json:"cwd"`
	Level     string   `json:"level"`
	Subtype   string   `json:"subtype"`
	Summary   string   `json:"summary"`
	Message   *message `json:"message"`
}

type message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"` // string or []block
}

type block struct {
	Type  string    `json:"type"`
	Name  string    `json:"name"`
	Input toolInput `json:"input"`
}

// toolInput holds the tool parameters the parser is allowed to look
// at. Everything else in the input object is ignored.
type toolInput struct {
	FilePath     string `json:"file_path"`
	NotebookPath string `json:"notebook_path"`
	Path         string `json:"path"`
	Pattern      string `json:"pattern"`
	Command      string `json:"command"`
	Description  string `json:"description"`
	SubagentType string `json:"subagent_type"`
}

// fileState tracks session inference per source file.
type fileState struct {
	sessionID string
	project   string
	ended     bool
}

// Parser turns raw log lines into events for a single monitor source.
// Not safe for concurrent use; the monitor feeds it from one goroutine.
type Parser struct {
	source string
	log    *zap.Logger
	seen   map[string]bool       // session ids already announced
	files  map[string]*fileState // per-file session context
}

// New creates a parser emitting events attributed to the given source.
func New(source string, log *zap.Logger) *Parser {
	return &Parser{
		source: source,
		log:    log,
		seen:   make(map[string]bool),
		files:  make(map[string]*fileState),
	}
}

// Line parses one log line from the given file and returns the events
// it yields, possibly none. Malformed or unrecognized lines are
// skipped with a warning; a line is never fatal.
func (p *Parser) Line(file string, raw []byte) []event.Event {
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		p.log.Warn("skipping malformed log line",
			zap.String("file", filepath.Base(file)),
			zap.Error(err))
		return nil
	}

	st := p.files[file]
	if st == nil {
		st = &fileState{}
		p.files[file] = st
	}
	if rec.SessionID != "" {
		st.sessionID = rec.SessionID
	}
	if rec.Cwd != "" {
		st.project = filepath.Base(rec.Cwd)
	}

	ts := p.timestamp(rec.Timestamp)

	var events []event.Event
	switch rec.Type {
	case "user":
		events = p.userEvents(st, ts)
	case "assistant":
		events = p.assistantEvents(st, ts, rec.Message)
	case "system":
		events = p.systemEvents(st, ts, rec)
	case "summary":
		events = p.summaryEvents(st, ts)
	default:
		p.log.Warn("skipping unrecognized log line",
			zap.String("file", filepath.Base(file)),
			zap.String("type", rec.Type))
		return nil
	}

	if len(events) == 0 {
		return nil
	}
	return p.withSessionStart(st, ts, events)
}

// Ended reports whether the session in the given file has seen its
// terminal summary; the caller may stop watching the file.
func (p *Parser) Ended(file string) bool {
	st := p.files[file]
	return st != nil && st.ended
}

// Forget drops per-file state, called when a file disappears.
func (p *Parser) Forget(file string) {
	delete(p.files, file)
}

// withSessionStart prepends a synthetic session-started event the
// first time a session id appears.
func (p *Parser) withSessionStart(st *fileState, ts time.Time, events []event.Event) []event.Event {
	if st.sessionID == "" || p.seen[st.sessionID] {
		return events
	}
	p.seen[st.sessionID] = true
	started := event.New(p.source, event.TypeSession, ts, event.SessionPayload{
		SessionID: st.sessionID,
		Project:   st.project,
		Status:    "started",
	})
	return append([]event.Event{started}, events...)
}

func (p *Parser) userEvents(st *fileState, ts time.Time) []event.Event {
	if st.sessionID == "" {
		return nil
	}
	return []event.Event{event.New(p.source, event.TypeActivity, ts, event.ActivityPayload{
		SessionID: st.sessionID,
		Project:   st.project,
		Category:  "prompt",
	})}
}

func (p *Parser) assistantEvents(st *fileState, ts time.Time, msg *message) []event.Event {
	if st.sessionID == "" || msg == nil {
		return nil
	}

	blocks, isText := contentBlocks(msg.Content)
	var events []event.Event
	if isText {
		events = append(events, event.New(p.source, event.TypeActivity, ts, event.ActivityPayload{
			SessionID: st.sessionID,
			Project:   st.project,
			Category:  "response",
		}))
		return events
	}

	for _, b := range blocks {
		switch b.Type {
		case "text":
			events = append(events, event.New(p.source, event.TypeActivity, ts, event.ActivityPayload{
				SessionID: st.sessionID,
				Project:   st.project,
				Category:  "response",
			}))
		case "tool_use":
			if b.Name == toolTask {
				events = append(events, event.New(p.source, event.TypeAgent, ts, event.AgentPayload{
					SessionID: st.sessionID,
					Project:   st.project,
					AgentType: b.Input.SubagentType,
					Status:    "dispatched",
				}))
				continue
			}
			events = append(events, event.New(p.source, event.TypeTool, ts, event.ToolPayload{
				SessionID: st.sessionID,
				Project:   st.project,
				Tool:      b.Name,
				Status:    "ok",
				File:      firstNonEmpty(b.Input.FilePath, b.Input.NotebookPath, b.Input.Path),
				Detail:    b.Input.Description,
				Command:   b.Input.Command,
				Pattern:   b.Input.Pattern,
			}))
		}
	}
	return events
}

func (p *Parser) systemEvents(st *fileState, ts time.Time, rec record) []event.Event {
	if st.sessionID == "" || rec.Level != "error" {
		return nil
	}
	category := rec.Subtype
	if category == "" {
		category = "system"
	}
	return []event.Event{event.New(p.source, event.TypeError, ts, event.ErrorPayload{
		SessionID: st.sessionID,
		Project:   st.project,
		Category:  category,
	})}
}

func (p *Parser) summaryEvents(st *fileState, ts time.Time) []event.Event {
	if st.sessionID == "" {
		// Summary lines carry no session id of their own; without
		// preceding context there is nothing to attribute them to.
		return nil
	}
	st.ended = true
	return []event.Event{
		event.New(p.source, event.TypeSummary, ts, event.SummaryPayload{
			SessionID: st.sessionID,
			Project:   st.project,
		}),
		event.New(p.source, event.TypeSession, ts, event.SessionPayload{
			SessionID: st.sessionID,
			Project:   st.project,
			Status:    "ended",
		}),
	}
}

func (p *Parser) timestamp(raw string) time.Time {
	if raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			return ts.UTC()
		}
	}
	return time.Now().UTC()
}

// contentBlocks decodes a message content field, which is either a
// plain string or an array of typed blocks.
func contentBlocks(raw json.RawMessage) (blocks []block, isText bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return nil, true
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, false
	}
	return blocks, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
