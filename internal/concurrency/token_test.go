package concurrency

import "testing"

func TestCancelToken_StartOnlyOnce(t *testing.T) {
	tok := NewCancelToken()

	if !tok.Start() {
		t.Fatal("first Start() should succeed")
	}
	if tok.Start() {
		t.Error("second Start() while running should fail")
	}
	if tok.State() != StateRunning {
		t.Errorf("State() = %v, want Running", tok.State())
	}
}

func TestCancelToken_RequestCancel(t *testing.T) {
	tok := NewCancelToken()

	if tok.RequestCancel() {
		t.Error("RequestCancel before Start should fail")
	}

	tok.Start()
	if !tok.RequestCancel() {
		t.Fatal("RequestCancel while running should succeed")
	}
	if !tok.CancelRequested() {
		t.Error("CancelRequested should be true after RequestCancel")
	}
}

func TestCancelToken_FinishAllowsRestart(t *testing.T) {
	tok := NewCancelToken()

	tok.Start()
	tok.RequestCancel()
	tok.Finish()

	if tok.State() != StateDone {
		t.Errorf("State() = %v, want Done", tok.State())
	}
	if !tok.Start() {
		t.Error("Start() after Finish() should succeed")
	}
}

func TestCancelToken_StateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateIdle, "idle"},
		{StateRunning, "running"},
		{StateCancelRequested, "cancel-requested"},
		{StateDone, "done"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
