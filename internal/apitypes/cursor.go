package apitypes

import (
	"fmt"
	"strconv"
	"strings"
)

// TaskCursor is the opaque pagination cursor for GET /api/tasks:
// "{score}:{taskId}", sorted score DESC, id ASC.
type TaskCursor struct {
	Score int
	ID    string
}

// EncodeTaskCursor renders a TaskCursor to its wire form.
func EncodeTaskCursor(c TaskCursor) string {
	return fmt.Sprintf("%d:%s", c.Score, c.ID)
}

// DecodeTaskCursor parses a TaskCursor wire form.
func DecodeTaskCursor(s string) (TaskCursor, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return TaskCursor{}, Validation("malformed task cursor")
	}
	score, err := strconv.Atoi(parts[0])
	if err != nil {
		return TaskCursor{}, Validation("malformed task cursor score")
	}
	return TaskCursor{Score: score, ID: parts[1]}, nil
}

// AfterTask reports whether a (score, id) pair sorts strictly after the
// cursor under the page-boundary rule from spec.md §6:
// score < cursorScore OR (score = cursorScore AND id > cursorId).
func (c TaskCursor) AfterTask(score int, id string) bool {
	if score < c.Score {
		return true
	}
	return score == c.Score && id > c.ID
}

// RunCursor is the opaque pagination cursor for GET /api/runs:
// "{startedAtISO}:{runId}".
type RunCursor struct {
	StartedAtISO string
	RunID        string
}

// EncodeRunCursor renders a RunCursor to its wire form.
func EncodeRunCursor(c RunCursor) string {
	return fmt.Sprintf("%s:%s", c.StartedAtISO, c.RunID)
}

// DecodeRunCursor parses a RunCursor wire form. The timestamp itself
// contains colons (RFC 3339 times do), so the id is recovered by splitting
// on the last colon rather than the first.
func DecodeRunCursor(s string) (RunCursor, error) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 || idx == len(s)-1 {
		return RunCursor{}, Validation("malformed run cursor")
	}
	return RunCursor{StartedAtISO: s[:idx], RunID: s[idx+1:]}, nil
}
