package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeInspector struct {
	report ChangeReport
	err    error
}

func (f fakeInspector) VerifyChanges(ctx context.Context, dir string, expected []string) (ChangeReport, error) {
	return f.report, f.err
}

type fakeBuilder struct {
	report BuildReport
	err    error
}

func (f fakeBuilder) Verify(ctx context.Context, dir string) (BuildReport, error) {
	return f.report, f.err
}

func workLedger() *toolLedger {
	var l toolLedger
	l.Record("write_file", map[string]any{"path": "main.go"}, true)
	return &l
}

func readOnlyLedger() *toolLedger {
	var l toolLedger
	l.Record("read_file", map[string]any{"path": "main.go"}, true)
	l.Record("search_files", nil, true)
	return &l
}

func TestVerifyStages(t *testing.T) {
	claim := "I created main.go with the entry point. TASK_COMPLETE"

	tests := []struct {
		name           string
		text           string
		ledger         *toolLedger
		vcs            ChangeInspector
		build          BuildChecker
		wantComplete   bool
		wantNotClaimed bool
		wantStage      string
		wantInject     string // substring; empty means no injection expected
		wantWarning    string // substring expected in warnings
	}{
		{
			name:           "no marker is not a failure",
			text:           "I looked at the code and here is what I found.",
			ledger:         workLedger(),
			wantComplete:   false,
			wantNotClaimed: true,
			wantStage:      "marker",
		},
		{
			name:         "marker without file evidence",
			text:         "Everything is done now. TASK_COMPLETE",
			ledger:       workLedger(),
			wantComplete: false,
			wantStage:    "file_evidence",
			wantInject:   "did not reference any concrete file paths",
		},
		{
			name:         "marker without work-producing calls",
			text:         claim,
			ledger:       readOnlyLedger(),
			wantComplete: false,
			wantStage:    "ledger",
			wantInject:   "no file-writing or command-executing tool succeeded",
		},
		{
			name:         "nil ledger treated as no work",
			text:         claim,
			ledger:       nil,
			wantComplete: false,
			wantStage:    "ledger",
		},
		{
			name:         "all stages pass with no external checks",
			text:         claim,
			ledger:       workLedger(),
			wantComplete: true,
			wantStage:    "complete",
		},
		{
			name:         "diff mismatch only warns",
			text:         claim,
			ledger:       workLedger(),
			vcs:          fakeInspector{report: ChangeReport{Verified: false, MissingChanges: []string{"main.go"}}},
			wantComplete: true,
			wantStage:    "complete",
			wantWarning:  "claimed files not found",
		},
		{
			name:         "diff check error only warns",
			text:         claim,
			ledger:       workLedger(),
			vcs:          fakeInspector{err: errors.New("git: not found")},
			wantComplete: true,
			wantStage:    "complete",
			wantWarning:  "change verification unavailable",
		},
		{
			name:         "skipped diff report adds no warning",
			text:         claim,
			ledger:       workLedger(),
			vcs:          fakeInspector{report: ChangeReport{Skipped: true}},
			wantComplete: true,
			wantStage:    "complete",
		},
		{
			name:         "build failure blocks completion",
			text:         claim,
			ledger:       workLedger(),
			build:        fakeBuilder{report: BuildReport{Success: false, ErrorCount: 2, Errors: []string{"main.go:3: undefined: foo", "main.go:9: syntax error"}}},
			wantComplete: false,
			wantStage:    "build",
			wantInject:   "undefined: foo",
		},
		{
			name:         "build check error only warns",
			text:         claim,
			ledger:       workLedger(),
			build:        fakeBuilder{err: errors.New("toolchain missing")},
			wantComplete: true,
			wantStage:    "complete",
			wantWarning:  "build check could not run",
		},
		{
			name:         "skipped build passes",
			text:         claim,
			ledger:       workLedger(),
			build:        fakeBuilder{report: BuildReport{Skipped: true}},
			wantComplete: true,
			wantStage:    "complete",
		},
		{
			name:         "tolerated completion phrasing",
			text:         "The task has been completed; see main.go for details.",
			ledger:       workLedger(),
			wantComplete: true,
			wantStage:    "complete",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &CompletionVerifier{VCS: tt.vcs, Build: tt.build}
			got := v.Verify(context.Background(), tt.text, "/work/project", tt.ledger)

			if got.Complete != tt.wantComplete {
				t.Errorf("Complete = %v, want %v (reason: %s)", got.Complete, tt.wantComplete, got.Reason)
			}
			if got.NotClaimed != tt.wantNotClaimed {
				t.Errorf("NotClaimed = %v, want %v", got.NotClaimed, tt.wantNotClaimed)
			}
			if got.Stage != tt.wantStage {
				t.Errorf("Stage = %q, want %q", got.Stage, tt.wantStage)
			}
			if tt.wantInject != "" && !strings.Contains(got.Inject, tt.wantInject) {
				t.Errorf("Inject = %q, want substring %q", got.Inject, tt.wantInject)
			}
			if tt.wantInject == "" && got.Complete && got.Inject != "" {
				t.Errorf("unexpected injection on success: %q", got.Inject)
			}
			if tt.wantWarning != "" {
				found := false
				for _, w := range got.Warnings {
					if strings.Contains(w, tt.wantWarning) {
						found = true
						break
					}
				}
				if !found {
					t.Errorf("warnings %v missing substring %q", got.Warnings, tt.wantWarning)
				}
			} else if len(got.Warnings) != 0 {
				t.Errorf("unexpected warnings: %v", got.Warnings)
			}
		})
	}
}

func TestVerifySkipsExternalChecksWithoutWorkdir(t *testing.T) {
	v := &CompletionVerifier{
		VCS:   fakeInspector{err: errors.New("must not run")},
		Build: fakeBuilder{err: errors.New("must not run")},
	}
	got := v.Verify(context.Background(), "Done, see main.go. TASK_COMPLETE", "", workLedger())
	if !got.Complete {
		t.Fatalf("Complete = false, want true (stage %s: %s)", got.Stage, got.Reason)
	}
	if len(got.Warnings) != 0 {
		t.Errorf("warnings = %v, want none when workdir is empty", got.Warnings)
	}
}

func TestHasCompletionMarker(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"TASK_COMPLETE", true},
		{"done. TASK_COMPLETE.", true},
		{"The task is complete.", true},
		{"I have completed the task successfully.", true},
		{"Working on the task now.", false},
		{"task completion requires more steps", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := hasCompletionMarker(tt.text); got != tt.want {
			t.Errorf("hasCompletionMarker(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestExtractFilePaths(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "plain and qualified paths",
			text: "Updated main.go and internal/engine/run.go accordingly.",
			want: []string{"main.go", "internal/engine/run.go"},
		},
		{
			name: "duplicates collapse",
			text: "main.go was edited; main.go now compiles.",
			want: []string{"main.go"},
		},
		{
			name: "domains are not files",
			text: "See docs at example.com and pkg.go.dev for details.",
			want: nil,
		},
		{
			name: "version numbers are not files",
			text: "Upgraded to v1.2 and 2.0",
			want: nil,
		},
		{
			name: "mixed",
			text: "Wrote config.yaml, pushed to github.com",
			want: []string{"config.yaml"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractFilePaths(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("extractFilePaths() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("paths[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestLedgerHasSuccessfulWork(t *testing.T) {
	var failed toolLedger
	failed.Record("write_file", nil, false)

	var mixed toolLedger
	mixed.Record("read_file", nil, true)
	mixed.Record("write_file", nil, false)
	mixed.Record("run_command", nil, true)

	tests := []struct {
		name   string
		ledger *toolLedger
		want   bool
	}{
		{"empty", &toolLedger{}, false},
		{"read-only calls", readOnlyLedger(), false},
		{"failed write", &failed, false},
		{"successful write", workLedger(), true},
		{"mixed with one success", &mixed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ledger.HasSuccessfulWork(); got != tt.want {
				t.Errorf("HasSuccessfulWork() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLedgerReset(t *testing.T) {
	l := workLedger()
	if l.Len() != 1 {
		t.Fatalf("Len = %d, want 1", l.Len())
	}
	l.Reset()
	if l.Len() != 0 || l.HasSuccessfulWork() {
		t.Error("Reset must wipe the ledger whole")
	}
}
