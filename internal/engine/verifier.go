package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// CompletionMarker is the explicit textual signal the model must emit to
// claim the task is finished.
const CompletionMarker = "TASK_COMPLETE"

// completionPhrases are tolerated phrasings of the same claim.
var completionPhrases = []string{
	"task is complete",
	"task is now complete",
	"the task has been completed",
	"i have completed the task",
}

// filePathRe matches concrete file references: a path segment with an
// extension, optionally directory-qualified.
var filePathRe = regexp.MustCompile(`(?:[\w.-]+/)*[\w.-]+\.[A-Za-z]{1,8}\b`)

// Verdict is the verifier's decision for one tool-free turn.
type Verdict struct {
	Complete   bool     `json:"complete"`
	NotClaimed bool     `json:"notClaimed,omitempty"` // no marker: not a failure, just not done yet
	Stage      string   `json:"stage"`                // "marker", "file_evidence", "ledger", "diff", "build", "complete"
	Reason     string   `json:"reason,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
	Inject     string   `json:"-"` // corrective detail fed back as the next turn's input
}

// CompletionVerifier gates the model's self-reported "done" signal. Every
// stage works over already-available data plus two optional external checks;
// none of them calls the model. External checks degrade gracefully: an error
// running a check is reported, never blocks.
type CompletionVerifier struct {
	VCS   ChangeInspector // optional; nil disables the diff stage
	Build BuildChecker    // optional; nil disables the build stage
}

// Verify runs the gate in strict order, short-circuiting on first failure.
func (v *CompletionVerifier) Verify(ctx context.Context, finalText, workdir string, ledger *toolLedger) Verdict {
	// Stage 1: textual signal. Without an explicit claim there is nothing
	// to verify.
	if !hasCompletionMarker(finalText) {
		return Verdict{Complete: false, NotClaimed: true, Stage: "marker"}
	}

	// Stage 2: the claim must reference at least one concrete file path.
	paths := extractFilePaths(finalText)
	if len(paths) == 0 {
		return Verdict{
			Complete: false,
			Stage:    "file_evidence",
			Reason:   "completion claimed without referencing any file",
			Inject: "Your completion claim did not reference any concrete file paths. " +
				"List the files you created or modified, or continue working if the task is not actually done.",
		}
	}

	// Stage 3: the ledger must show at least one successful work-producing
	// call. A claim backed only by read-only calls is hallucinated progress.
	if ledger == nil || !ledger.HasSuccessfulWork() {
		return Verdict{
			Complete: false,
			Stage:    "ledger",
			Reason:   "no successful work-producing tool call this run",
			Inject: "You claimed completion, but no file-writing or command-executing tool succeeded in this run. " +
				"Actually perform the work using the available tools before declaring the task complete.",
		}
	}

	var warnings []string

	// Stage 4: cross-check claimed paths against observed changes. Warn-only.
	if workdir != "" && v.VCS != nil {
		report, err := v.VCS.VerifyChanges(ctx, workdir, paths)
		switch {
		case err != nil:
			warnings = append(warnings, fmt.Sprintf("change verification unavailable: %v", err))
		case report.Skipped:
			// no evidence source covers this directory
		case !report.Verified:
			warnings = append(warnings, fmt.Sprintf(
				"claimed files not found in working tree changes: %s",
				strings.Join(report.MissingChanges, ", ")))
		}
	}

	// Stage 5: build/type check. A failing check blocks completion and its
	// errors become the next turn's input; a check that itself errors does
	// not block.
	if workdir != "" && v.Build != nil {
		report, err := v.Build.Verify(ctx, workdir)
		switch {
		case err != nil:
			warnings = append(warnings, fmt.Sprintf("build check could not run: %v", err))
		case report.Skipped:
			// nothing to check for this project type
		case !report.Success:
			detail := strings.Join(report.Errors, "\n")
			return Verdict{
				Complete: false,
				Stage:    "build",
				Reason:   fmt.Sprintf("build check failed with %d errors", report.ErrorCount),
				Warnings: warnings,
				Inject: "The task is not complete: the project build/type check fails. Fix these errors:\n" +
					detail,
			}
		}
	}

	return Verdict{Complete: true, Stage: "complete", Warnings: warnings}
}

func hasCompletionMarker(text string) bool {
	if strings.Contains(text, CompletionMarker) {
		return true
	}
	lower := strings.ToLower(text)
	for _, phrase := range completionPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// extractFilePaths pulls concrete file references out of the completion
// message, dropping obvious non-files like domain names and version strings.
func extractFilePaths(text string) []string {
	matches := filePathRe.FindAllString(text, -1)
	seen := map[string]bool{}
	var paths []string
	for _, m := range matches {
		if seen[m] {
			continue
		}
		if looksLikeNonFile(m) {
			continue
		}
		seen[m] = true
		paths = append(paths, m)
	}
	return paths
}

var nonFileSuffixes = []string{".com", ".org", ".net", ".io", ".dev"}

func looksLikeNonFile(s string) bool {
	if !strings.Contains(s, "/") {
		for _, suf := range nonFileSuffixes {
			if strings.HasSuffix(strings.ToLower(s), suf) {
				return true
			}
		}
	}
	return false
}
