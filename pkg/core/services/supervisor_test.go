package services

import "testing"

func TestSupervisorRestartFiresOnce(t *testing.T) {
	s := NewSupervisor(discardLogger())

	select {
	case <-s.Restart():
		t.Fatal("restart channel closed before any request")
	default:
	}

	if !s.RequestRestart("admin api") {
		t.Fatal("first request should fire")
	}
	if s.RequestRestart("again") {
		t.Error("second request should be ignored")
	}

	<-s.Restart()
	if s.Reason() != "admin api" {
		t.Errorf("Reason() = %q", s.Reason())
	}
}
