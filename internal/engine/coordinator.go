package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultToolTimeout caps one tool execution.
const DefaultToolTimeout = 120 * time.Second

// splitByApproval partitions one turn's records into the auto-approved set
// and those still needing human confirmation. Auto-approved records enter
// approved synthetically; the rest stay pending.
func splitByApproval(records []*ToolCallRecord, policy ApprovalPolicy) (auto, held []*ToolCallRecord) {
	for _, rec := range records {
		if policy.AutoApprove(rec.Tool) {
			rec.Approve(true)
			auto = append(auto, rec)
		} else {
			held = append(held, rec)
		}
	}
	return auto, held
}

// coordinator runs one turn's approved calls concurrently and aggregates
// their results in the original call order.
type coordinator struct {
	gateway ToolGateway
	timeout time.Duration
}

// execute runs a single approved call with a hard timeout race: whichever of
// (gateway returns) or (timeout elapses) or (kill fires) settles first wins.
// The losing gateway call keeps running in the background; it can no longer
// affect the loop.
func (co *coordinator) execute(ctx context.Context, rec *ToolCallRecord, kill <-chan struct{}) ToolOutcome {
	started := time.Now()
	done := make(chan ToolOutcome, 1)

	go func() {
		done <- co.gateway.Request(ctx, "", rec.Tool, rec.Args, rec.Explanation, true)
	}()

	timeout := co.timeout
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		if out.Duration == 0 {
			out.Duration = time.Since(started)
		}
		return out
	case <-timer.C:
		return ToolOutcome{
			Success:  false,
			Error:    fmt.Sprintf("tool %s timed out after %v", rec.Tool, timeout),
			Duration: time.Since(started),
		}
	case <-kill:
		return ToolOutcome{
			Success:  false,
			Error:    fmt.Sprintf("tool %s killed by user", rec.Tool),
			Duration: time.Since(started),
		}
	case <-ctx.Done():
		return ToolOutcome{
			Success:  false,
			Error:    fmt.Sprintf("tool %s aborted: %v", rec.Tool, ctx.Err()),
			Duration: time.Since(started),
		}
	}
}

// runParallel executes every record concurrently. A failure never cancels
// siblings; the call returns only after all executions settle. Outcomes come
// back indexed in the original call order, and records stay untouched: the
// controller applies status transitions from its own goroutine.
func (co *coordinator) runParallel(ctx context.Context, records []*ToolCallRecord, kill <-chan struct{}, onStart func(*ToolCallRecord)) []ToolOutcome {
	if len(records) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	outcomes := make([]ToolOutcome, len(records))

	for i, rec := range records {
		wg.Add(1)
		go func(i int, rec *ToolCallRecord) {
			defer wg.Done()
			if onStart != nil {
				onStart(rec)
			}
			outcomes[i] = co.execute(ctx, rec, kill)
		}(i, rec)
	}

	wg.Wait()
	return outcomes
}

// combineResults concatenates one turn's outcomes into the single synthetic
// tool-result entry fed back to the model, preserving call order.
func combineResults(records []*ToolCallRecord, outcomes []ToolOutcome) string {
	var b strings.Builder
	for i, rec := range records {
		if i > 0 {
			b.WriteString("\n\n")
		}
		out := outcomes[i]
		if out.Success {
			fmt.Fprintf(&b, "[%s] ok (%v)\n%s", rec.Tool, out.Duration.Round(time.Millisecond), out.Result)
		} else {
			fmt.Fprintf(&b, "[%s] error (%v)\n%s", rec.Tool, out.Duration.Round(time.Millisecond), out.Error)
		}
	}
	return b.String()
}
