package engine

import "fmt"

// State is the opaque key → typed value bag the host persists.
type State map[string]any

// State keys.
const (
	StateKeyIR                = "ir"
	StateKeyGain              = "gain"
	StateKeyPreDelay          = "predelay"
	StateKeySumInputs         = "sum_inputs"
	StateKeyChannelGain       = "channel_gain"
	StateKeyChannelPreDelay   = "channel_predelay"
	StateKeyArtificialLatency = "artificial_latency"
)

// Save serializes the active IR path and its settings. A nil state is
// returned when no engine is online (nothing to save).
func (inst *Instance) Save() State {
	online := inst.online
	if online == nil {
		return nil
	}
	irs := online.Settings()
	return State{
		StateKeyIR:                online.Path(),
		StateKeyGain:              irs.Gain,
		StateKeyPreDelay:          irs.PreDelay,
		StateKeySumInputs:         irs.SumInputs,
		StateKeyChannelGain:       irs.ChannelGain,
		StateKeyChannelPreDelay:   irs.ChannelDelay,
		StateKeyArtificialLatency: irs.ArtificialLatency,
	}
}

// Restore rebuilds the engine from saved state. It runs on a worker
// (or otherwise non-real-time) thread: the IR is loaded synchronously
// into the offline slot, and the swap is scheduled as if a regular
// load response had arrived. The restore is not marked dirty.
func (inst *Instance) Restore(s State) error {
	path, ok := s[StateKeyIR].(string)
	if !ok || path == "" {
		return fmt.Errorf("%w: state has no IR path", ErrIRLoad)
	}

	irs := DefaultIRSettings()
	if v, ok := s[StateKeyGain].(float32); ok {
		irs.Gain = v
	}
	if v, ok := s[StateKeyPreDelay].(int); ok {
		irs.PreDelay = v
	}
	if v, ok := s[StateKeySumInputs].(bool); ok {
		irs.SumInputs = v
	}
	if v, ok := s[StateKeyChannelGain].([4]float32); ok {
		irs.ChannelGain = v
	}
	if v, ok := s[StateKeyChannelPreDelay].([4]int); ok {
		irs.ChannelDelay = v
	}
	if v, ok := s[StateKeyArtificialLatency].(int); ok {
		irs.ArtificialLatency = v
	}

	inst.log.Info("restoring state", "ir", path)
	inst.settings = irs

	if err := inst.loadIRWorker(path, false); err != nil {
		return err
	}

	inst.psetDirty = false
	return inst.sched.ScheduleWork(WorkMessage{Kind: WorkApply})
}
