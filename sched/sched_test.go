package sched

import (
	"context"
	"testing"
	"time"
)

func TestRoundRobinOrder(t *testing.T) {
	var order []string
	s := New(nil)
	for _, name := range []string{"a", "b", "c"} {
		name := name
		s.Add(Func{TaskName: name, F: func() { order = append(order, name) }})
	}
	s.StepAll()
	s.StepAll()
	expected := []string{"a", "b", "c", "a", "b", "c"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d steps, got %d", len(expected), len(order))
	}
	for i := range expected {
		if order[i] != expected[i] {
			t.Errorf("step %d: expected %s got %s", i, expected[i], order[i])
		}
	}
}

func TestObserverSeesEveryStep(t *testing.T) {
	seen := map[string]int{}
	s := New(func(task string, d time.Duration) { seen[task]++ })
	s.Add(Func{TaskName: "w0", F: func() {}})
	s.Add(Func{TaskName: "w1", F: func() {}})
	for i := 0; i < 3; i++ {
		s.StepAll()
	}
	if seen["w0"] != 3 || seen["w1"] != 3 {
		t.Errorf("expected 3 observations per task, got %v", seen)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(nil)
	s.Add(Func{TaskName: "spin", F: func() {}})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
