// Package directive extracts embedded structured directives from model reply
// text. A reply may carry at most one of each marker, followed by a one-line
// JSON object:
//
//	BOARD_UPDATE: {"fen": "...", "highlightSquares": ["e4", "g6"]}
//	PROGRESS_UPDATE: {"completed": true, "score": 0.85}
//	LESSON_ACTION: {"action": "next"}
//
// Absence and malformation are data, not failure: a missing marker leaves
// its slot empty, and a malformed payload stays visible in the display text
// with a logged warning so the side channel never aborts a coaching reply.
package directive

import (
	"encoding/json"
	"strings"

	"chesscoach/internal/logging"
	"chesscoach/internal/types"
)

// Directive markers recognized in reply text.
const (
	MarkerBoard    = "BOARD_UPDATE:"
	MarkerProgress = "PROGRESS_UPDATE:"
	MarkerAction   = "LESSON_ACTION:"
)

// Result is the outcome of parsing one assistant reply.
type Result struct {
	// DisplayText is the reply with successfully parsed directives removed.
	DisplayText string                `json:"display_text"`
	Board       *types.BoardUpdate    `json:"board_update,omitempty"`
	Progress    *types.ProgressUpdate `json:"progress_update,omitempty"`
	Lesson      *types.LessonAction   `json:"lesson_action,omitempty"`
}

// HasDirectives reports whether any directive slot is populated.
func (r *Result) HasDirectives() bool {
	return r.Board != nil || r.Progress != nil || r.Lesson != nil
}

// Parse scans raw reply text for directives. conversationID is used only for
// warning context, never echoed into the result.
func Parse(raw, conversationID string) *Result {
	result := &Result{DisplayText: raw}

	// Scan order: board, then progress, then action. Only the first
	// occurrence of each marker is considered. A directive is removed from
	// the display text only when its payload decodes and validates; a
	// malformed payload stays in place so the failure is visible.
	if fragment, start, end, ok := locate(result.DisplayText, MarkerBoard, conversationID); ok {
		if b, valid := parseBoard(fragment); valid {
			result.Board = b
			result.DisplayText = remove(result.DisplayText, start, end)
		} else {
			logging.DirectiveWarn("Malformed %s payload in conversation %s", MarkerBoard, conversationID)
		}
	}

	if fragment, start, end, ok := locate(result.DisplayText, MarkerProgress, conversationID); ok {
		if p, valid := parseProgress(fragment); valid {
			result.Progress = p
			result.DisplayText = remove(result.DisplayText, start, end)
		} else {
			logging.DirectiveWarn("Malformed %s payload in conversation %s", MarkerProgress, conversationID)
		}
	}

	if fragment, start, end, ok := locate(result.DisplayText, MarkerAction, conversationID); ok {
		if a, valid := parseAction(fragment); valid {
			result.Lesson = a
			result.DisplayText = remove(result.DisplayText, start, end)
		} else {
			logging.DirectiveWarn("Malformed %s payload in conversation %s", MarkerAction, conversationID)
		}
	}

	result.DisplayText = strings.TrimSpace(result.DisplayText)
	if result.HasDirectives() {
		logging.Directive("Parsed directives for conversation %s (board=%v progress=%v lesson=%v)",
			conversationID, result.Board != nil, result.Progress != nil, result.Lesson != nil)
	}
	return result
}

// locate finds the first occurrence of marker and the complete JSON fragment
// following it. A marker with no complete fragment on the same line is
// reported and skipped.
func locate(text, marker, conversationID string) (fragment string, start, end int, ok bool) {
	idx := strings.Index(text, marker)
	if idx < 0 {
		return "", 0, 0, false
	}

	fragment, end = extractJSONFragment(text, idx+len(marker))
	if fragment == "" {
		logging.DirectiveWarn("No JSON payload after %s marker in conversation %s", marker, conversationID)
		return "", 0, 0, false
	}
	return fragment, idx, end, true
}

// remove cuts [start, end) from text, collapsing the join so display text
// does not end up with doubled spaces where a directive sat mid-sentence.
func remove(text string, start, end int) string {
	before := strings.TrimRight(text[:start], " \t")
	after := strings.TrimLeft(text[end:], " \t")
	if before != "" && after != "" {
		return before + " " + after
	}
	return before + after
}

// parseBoard decodes a BOARD_UPDATE payload. A board update without a FEN is
// invalid.
func parseBoard(fragment string) (*types.BoardUpdate, bool) {
	var b types.BoardUpdate
	if err := json.Unmarshal([]byte(fragment), &b); err != nil || b.FEN == "" {
		return nil, false
	}
	return &b, true
}

// parseProgress decodes a PROGRESS_UPDATE payload.
func parseProgress(fragment string) (*types.ProgressUpdate, bool) {
	var p types.ProgressUpdate
	if err := json.Unmarshal([]byte(fragment), &p); err != nil {
		return nil, false
	}
	return &p, true
}

// parseAction decodes a LESSON_ACTION payload and checks the action verb
// against the closed set.
func parseAction(fragment string) (*types.LessonAction, bool) {
	var a types.LessonAction
	if err := json.Unmarshal([]byte(fragment), &a); err != nil || !types.ValidLessonAction(a.Action) {
		return nil, false
	}
	return &a, true
}
