package engine

import "time"

// ledgerEntry records one executed tool call for completion verification.
type ledgerEntry struct {
	Tool      string
	Args      map[string]any
	Success   bool
	Timestamp time.Time
}

// toolLedger is the per-run record of executed tool calls. It exists only to
// back the completion verifier and is never exposed to the UI. Reset wipes
// it whole at the start of each run; it is never partially truncated.
type toolLedger struct {
	entries []ledgerEntry
}

func (l *toolLedger) Record(tool string, args map[string]any, success bool) {
	l.entries = append(l.entries, ledgerEntry{
		Tool:      tool,
		Args:      args,
		Success:   success,
		Timestamp: time.Now(),
	})
}

func (l *toolLedger) Reset() { l.entries = nil }

func (l *toolLedger) Len() int { return len(l.entries) }

// HasSuccessfulWork reports whether any successful call to a work-producing
// tool has been recorded this run.
func (l *toolLedger) HasSuccessfulWork() bool {
	for _, e := range l.entries {
		if e.Success && IsWorkProducing(e.Tool) {
			return true
		}
	}
	return false
}
