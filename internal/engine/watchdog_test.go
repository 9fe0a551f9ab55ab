package engine

import (
	"testing"
	"time"
)

func TestWatchdogStallDetection(t *testing.T) {
	dog := newWatchdog(20 * time.Millisecond)
	dog.BeginPhase(PhaseStreaming)

	if info := dog.Snapshot(); info.Stalled {
		t.Fatal("fresh phase must not report a stall")
	}

	time.Sleep(40 * time.Millisecond)
	info := dog.Snapshot()
	if !info.Stalled {
		t.Errorf("no progress for %v, want stall after 20ms", info.SinceProgress)
	}
	if info.Phase != PhaseStreaming {
		t.Errorf("Phase = %s, want streaming", info.Phase)
	}

	// A progress signal clears the stall without changing phase.
	dog.Touch()
	info = dog.Snapshot()
	if info.Stalled {
		t.Error("stall must clear after Touch")
	}
	if info.Phase != PhaseStreaming {
		t.Errorf("Phase = %s, want streaming after Touch", info.Phase)
	}
	if info.ActiveFor < 40*time.Millisecond {
		t.Errorf("ActiveFor = %v, must keep counting from phase start", info.ActiveFor)
	}
}

func TestWatchdogPhaseTransitionResets(t *testing.T) {
	dog := newWatchdog(15 * time.Millisecond)
	dog.BeginPhase(PhaseCallingModel)
	time.Sleep(30 * time.Millisecond)

	dog.BeginPhase(PhaseExecutingTool)
	info := dog.Snapshot()
	if info.Stalled {
		t.Error("phase transition must reset the stall clock")
	}
	if info.ActiveFor > 15*time.Millisecond {
		t.Errorf("ActiveFor = %v, want reset on transition", info.ActiveFor)
	}
}

func TestWatchdogZeroValueSnapshot(t *testing.T) {
	dog := newWatchdog(0)
	info := dog.Snapshot()
	if info.Stalled || info.ActiveFor != 0 {
		t.Errorf("snapshot before any phase = %+v, want zeros", info)
	}
}
