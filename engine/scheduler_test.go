package engine

import (
	"testing"
	"time"

	"github.com/cwbudde/algo-convolver/internal/rt"
	"github.com/cwbudde/algo-convolver/internal/testutil"
)

func TestAsyncSchedulerLoadsInBackground(t *testing.T) {
	sources := map[string][][]float32{"mem:h1": {{1}}}

	sched := NewAsyncScheduler(8)
	inst, err := NewInstance(InstanceConfig{
		SampleRate:    48000,
		ChannelConfig: Mono,
		NominalBlock:  64,
		SchedPolicy:   rt.PolicyOther,
		Scheduler:     sched,
		OpenSource:    memOpener(48000, sources),
	})
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}
	sched.Start(inst)
	defer func() {
		sched.Close()
		if inst.online != nil {
			inst.online.Release()
		}
		if inst.offline != nil {
			inst.offline.Release()
		}
	}()

	if err := inst.RequestLoad("mem:h1"); err != nil {
		t.Fatalf("RequestLoad: %v", err)
	}

	// The worker builds in the background; the audio loop keeps
	// running until the swap lands.
	deadline := time.Now().Add(5 * time.Second)
	for inst.Online() == nil {
		if time.Now().After(deadline) {
			t.Fatal("engine never came online")
		}
		runMono(inst, make([]float32, 64))
		time.Sleep(time.Millisecond)
	}

	inst.SetBuffered(false)
	input := testutil.DeterministicNoise(1, 1, 64)
	out := runMono(inst, input)
	testutil.RequireSliceNearlyEqual(t, out, input, 1e-5)
}

func TestAsyncSchedulerQueueFull(t *testing.T) {
	sched := NewAsyncScheduler(1)
	// Not started: nothing drains the queue.
	if err := sched.ScheduleWork(WorkMessage{Kind: WorkFree}); err != nil {
		t.Fatalf("first ScheduleWork: %v", err)
	}
	if err := sched.ScheduleWork(WorkMessage{Kind: WorkFree}); err != ErrSchedulerFull {
		t.Fatalf("err = %v, want ErrSchedulerFull", err)
	}
}
