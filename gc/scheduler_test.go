package gc

import (
	"testing"
	"time"
)

func TestSliceSchedulerRunsRequestedCycles(t *testing.T) {
	rt := newRuntime(t, func(cfg *Config) {
		cfg.SliceInterval = time.Millisecond
		cfg.MallocTriggerBytes = 64
		cfg.SliceBudget = 10
	})
	rt.WithExclusiveAccess(func() {
		_, comp := zoneWithComp(t, rt, "z")
		comp.Hold()
		for i := 0; i < 20; i++ {
			newObject(t, rt, comp, 1)
		}
		if _, err := rt.NewString(comp, string(make([]byte, 100))); err != nil {
			t.Fatalf("NewString: %v", err)
		}
	})
	if !rt.MajorGCRequested() {
		t.Fatal("malloc trigger did not request a major GC")
	}

	s := NewSliceScheduler(rt)
	if s.Interval() != time.Millisecond {
		t.Fatalf("Interval = %v", s.Interval())
	}
	s.Start()
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for {
		var cycles uint64
		rt.WithExclusiveAccess(func() { cycles = rt.CycleCount() })
		if cycles > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("scheduler never finished a cycle")
		}
		time.Sleep(time.Millisecond)
	}
	s.Stop()
	s.Stop()

	if s.Ticks() == 0 || s.Slices() == 0 {
		t.Fatalf("ticks %d, slices %d", s.Ticks(), s.Slices())
	}
	if s.LastStats() == nil {
		t.Fatal("no stats recorded")
	}
	rt.WithExclusiveAccess(func() {
		if got := rt.LastCycle().Reason; got != "malloc trigger" {
			t.Errorf("Reason = %q", got)
		}
	})
}

func TestSliceNowDrivesAStartedCycle(t *testing.T) {
	rt := newRuntime(t, func(cfg *Config) { cfg.SliceBudget = 1 })
	z, comp := zoneWithComp(t, rt, "z")
	comp.Hold()
	for i := 0; i < 10; i++ {
		rt.NewRoot(newObject(t, rt, comp, 0))
	}
	s := NewSliceScheduler(rt)

	if stats := s.SliceNow(); stats.Slice || stats.Started {
		t.Fatalf("idle tick did work: %+v", stats)
	}

	z.ScheduleGC()
	rt.StartGC("test", false)
	ticks := 0
	for {
		stats := s.SliceNow()
		ticks++
		if !stats.Slice {
			t.Fatal("tick skipped a running cycle")
		}
		if stats.Finished {
			break
		}
		if ticks > 1000 {
			t.Fatal("cycle never finished")
		}
	}
	if ticks < 2 {
		t.Fatalf("budget 1 finished in %d ticks", ticks)
	}
	if rt.IsIncrementalGCInProgress() || rt.CycleCount() != 1 {
		t.Fatal("cycle not recorded")
	}
}

func TestDisabledSchedulerIdles(t *testing.T) {
	rt := newRuntime(t, func(cfg *Config) { cfg.SliceInterval = time.Millisecond })
	z, _ := zoneWithComp(t, rt, "z")
	z.ScheduleGC()
	rt.requestMajorGC(z, "test")

	s := NewSliceScheduler(rt)
	s.SetEnabled(false)
	if s.IsEnabled() {
		t.Fatal("SetEnabled(false) ignored")
	}
	s.Start()
	time.Sleep(10 * time.Millisecond)
	s.Stop()

	if s.Ticks() != 0 || rt.CycleCount() != 0 {
		t.Fatalf("disabled scheduler ran %d ticks", s.Ticks())
	}
}
