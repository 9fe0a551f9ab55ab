package engine

import (
	"strings"
	"testing"
)

func TestWarningLevelFor(t *testing.T) {
	tests := []struct {
		percent float64
		want    WarningLevel
	}{
		{0, WarnNormal},
		{42.5, WarnNormal},
		{69.99, WarnNormal},
		{70, WarnElevated},
		{89.99, WarnElevated},
		{90, WarnCritical},
		{140, WarnCritical},
	}

	for _, tt := range tests {
		if got := warningLevelFor(tt.percent); got != tt.want {
			t.Errorf("warningLevelFor(%v) = %v, want %v", tt.percent, got, tt.want)
		}
	}
}

// testContextManager builds a manager with a deterministic tokenizer and a
// tiny synthetic window so truncation triggers without huge fixtures.
func testContextManager(window, reserve int) *ContextManager {
	return &ContextManager{
		model:     "test-model",
		limits:    ModelLimits{ContextWindow: window, ReserveOutput: reserve},
		tokenizer: HeuristicTokenizer{},
	}
}

func TestMetricsApproximateFlag(t *testing.T) {
	cm := testContextManager(1000, 100)
	m := cm.Metrics([]ChatMessage{{Role: RoleUser, Content: "hello world"}})
	if !m.Approximate {
		t.Error("heuristic counts must be flagged approximate")
	}
	if m.ContextUsed <= 0 {
		t.Errorf("ContextUsed = %d, want > 0", m.ContextUsed)
	}
	if m.ContextMax != 1000 {
		t.Errorf("ContextMax = %d, want 1000", m.ContextMax)
	}
}

func TestPrepareNoTruncationWhenFits(t *testing.T) {
	cm := testContextManager(100000, 1000)
	history := []ChatMessage{
		{Role: RoleSystem, Content: "system"},
		{Role: RoleUser, Content: "task"},
		{Role: RoleAssistant, Content: "reply"},
	}

	msgs, removed, _ := cm.Prepare(history)
	if removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}
	if len(msgs) != len(history) {
		t.Errorf("len = %d, want %d", len(msgs), len(history))
	}
}

func TestPrepareDropsOldestInterior(t *testing.T) {
	// Each filler message is ~250 heuristic tokens; a 700-token budget
	// cannot hold all six.
	filler := strings.Repeat("x", 1000)
	cm := testContextManager(800, 100)
	history := []ChatMessage{
		{Role: RoleSystem, Content: "system prompt"},
		{Role: RoleUser, Content: "first " + filler},
		{Role: RoleAssistant, Content: "second " + filler},
		{Role: RoleUser, Content: "third " + filler},
		{Role: RoleAssistant, Content: "recent-1"},
		{Role: RoleUser, Content: "recent-2"},
	}

	msgs, removed, metrics := cm.Prepare(history)
	if removed == 0 {
		t.Fatal("expected truncation, got none")
	}

	// The system message and the two most recent survive unconditionally.
	if msgs[0].Role != RoleSystem {
		t.Errorf("msgs[0].Role = %v, want system", msgs[0].Role)
	}
	if got := msgs[len(msgs)-1].Content; got != "recent-2" {
		t.Errorf("last message = %q, want recent-2", got)
	}
	if got := msgs[len(msgs)-2].Content; got != "recent-1" {
		t.Errorf("second-to-last = %q, want recent-1", got)
	}

	// Removal is oldest-first from the interior.
	for _, m := range msgs {
		if strings.HasPrefix(m.Content, "first ") {
			t.Error("oldest interior message survived while newer ones were dropped")
		}
	}

	budget := cm.limits.ContextWindow - cm.limits.ReserveOutput
	if metrics.ContextUsed > budget {
		t.Errorf("ContextUsed = %d, still over budget %d", metrics.ContextUsed, budget)
	}
}

func TestPrepareFloorIsThreeMessages(t *testing.T) {
	// Window far too small for anything: truncation must stop at
	// system + last two rather than emptying history.
	filler := strings.Repeat("y", 4000)
	cm := testContextManager(100, 50)
	history := []ChatMessage{
		{Role: RoleSystem, Content: filler},
		{Role: RoleUser, Content: filler},
		{Role: RoleAssistant, Content: filler},
		{Role: RoleUser, Content: filler},
		{Role: RoleAssistant, Content: filler},
	}

	msgs, removed, _ := cm.Prepare(history)
	if len(msgs) != 3 {
		t.Errorf("len = %d, want floor of 3", len(msgs))
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if msgs[0].Role != RoleSystem {
		t.Errorf("msgs[0].Role = %v, want system", msgs[0].Role)
	}
}

func TestPrepareDoesNotMutateHistory(t *testing.T) {
	filler := strings.Repeat("z", 1000)
	cm := testContextManager(600, 100)
	history := []ChatMessage{
		{Role: RoleSystem, Content: "system"},
		{Role: RoleUser, Content: filler},
		{Role: RoleAssistant, Content: filler},
		{Role: RoleUser, Content: "latest"},
	}

	cm.Prepare(history)
	if len(history) != 4 {
		t.Fatalf("caller history length changed to %d", len(history))
	}
	if history[1].Content != filler {
		t.Error("caller history content changed")
	}
}

func TestPrepareClampsToolResults(t *testing.T) {
	big := strings.Repeat("a", 20000)
	cm := testContextManager(100000, 1000)
	cm.MaxToolResultChars = 1000
	history := []ChatMessage{
		{Role: RoleSystem, Content: "system"},
		{Role: RoleUser, Content: "task"},
		{Role: RoleTool, Name: "call_1", Content: big},
		{Role: RoleAssistant, Content: "ok"},
	}

	msgs, _, _ := cm.Prepare(history)
	clamped := msgs[2].Content
	if len(clamped) >= len(big) {
		t.Fatalf("tool result not clamped: %d chars", len(clamped))
	}
	if !strings.Contains(clamped, "chars elided") {
		t.Error("clamped tool result missing elision marker")
	}
	if !strings.HasPrefix(clamped, "aaa") || !strings.HasSuffix(clamped, "aaa") {
		t.Error("clamp must keep head and tail")
	}
}

func TestClampMiddle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		same bool
	}{
		{"under limit untouched", "short", 100, true},
		{"at limit untouched", "abcde", 5, true},
		{"zero max disables", strings.Repeat("q", 50), 0, true},
		{"over limit clamped", strings.Repeat("q", 50), 10, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := clampMiddle(tt.in, tt.max)
			if tt.same && out != tt.in {
				t.Errorf("clampMiddle changed text it should keep")
			}
			if !tt.same && out == tt.in {
				t.Errorf("clampMiddle left oversized text untouched")
			}
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"short word floors at one", "hi", 1},
		{"code-ish", "func main() { fmt.Println() }", 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateTokens(tt.text); got != tt.want {
				t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestGetModelLimits(t *testing.T) {
	tests := []struct {
		model      string
		wantWindow int
	}{
		{"kimi-k2-instruct", 200000},
		{"gpt-4o-mini", 128000},
		{"o1-preview", 128000},
		{"claude-sonnet-4", 200000},
		{"deepseek-chat", 64000},
		{"totally-unknown", 16000},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := GetModelLimits(tt.model); got.ContextWindow != tt.wantWindow {
				t.Errorf("GetModelLimits(%q).ContextWindow = %d, want %d", tt.model, got.ContextWindow, tt.wantWindow)
			}
		})
	}
}
