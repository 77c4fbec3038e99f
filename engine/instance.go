package engine

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/cwbudde/algo-convolver/audiosrc"
	"github.com/cwbudde/algo-convolver/internal/rt"
)

// WorkKind identifies a worker-thread command.
type WorkKind int

const (
	// WorkLoad builds a new engine for the message's IR path.
	WorkLoad WorkKind = iota

	// WorkApply asks for a swap response without building (used by
	// state restore, which builds synchronously).
	WorkApply

	// WorkFree destroys the displaced offline engine and starts any
	// queued load.
	WorkFree
)

// WorkMessage is one unit of worker-thread work.
type WorkMessage struct {
	Kind WorkKind
	Path string
}

// Scheduler hands messages to the host's worker thread. Implementations
// must be safe to call from the audio thread: ScheduleWork may not
// block or allocate.
type Scheduler interface {
	ScheduleWork(msg WorkMessage) error
}

// Notify receives UI notifications about the active IR. dirty is set
// for user-initiated changes, clear for preset and state restores.
type Notify func(path string, dirty bool)

// InstanceConfig carries the host-supplied construction parameters.
type InstanceConfig struct {
	SampleRate    int
	ChannelConfig IRChannelConfig

	// NominalBlock is the preferred block size; MaxBlock is the
	// fallback when the host knows only its maximum.
	NominalBlock int
	MaxBlock     int

	SchedPolicy   rt.Policy
	SchedPriority int

	Scheduler Scheduler
	Logger    *slog.Logger
	Notify    Notify

	// OpenSource resolves IR paths; the default opens files by
	// extension.
	OpenSource func(string) (audiosrc.Readable, error)
}

// Instance is the host-facing convolution plugin: an online engine
// serving audio, an offline slot for the engine under construction,
// and the worker protocol that swaps them.
type Instance struct {
	mu sync.Mutex // guards online/offline/nextQueued mutation

	online  *Convolver
	offline *Convolver

	sched  Scheduler
	log    *slog.Logger
	notify Notify
	open   func(string) (audiosrc.Readable, error)

	irc    IRChannelConfig
	rate   int
	chnIn  int
	chnOut int

	blockSize int
	policy    rt.Policy
	priority  int

	buffered  bool
	dbDry     float32
	dbWet     float32
	dryCoeff  float32
	dryTarget float32
	tc64      float32

	psetDirty  bool
	nextQueued string

	settings IRSettings

	responses chan struct{}
	latency   int
}

// NewInstance validates the host configuration and creates an idle
// instance with no engine online.
func NewInstance(cfg InstanceConfig) (*Instance, error) {
	if cfg.Scheduler == nil {
		return nil, fmt.Errorf("%w: missing worker scheduler", ErrNoConfig)
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrNoConfig, cfg.SampleRate)
	}

	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	block := cfg.NominalBlock
	if block == 0 {
		if cfg.MaxBlock == 0 {
			return nil, fmt.Errorf("%w: no nominal nor max block size given", ErrNoConfig)
		}
		log.Warn("no nominal block size given, using max block size")
		block = cfg.MaxBlock
	}
	if block > 8192 {
		return nil, fmt.Errorf("%w: block size %d out of range (max 8192)", ErrNoConfig, block)
	}
	if block < 64 {
		log.Info("block size too small, using 64", "requested", block)
		block = 64
	}

	priority := cfg.SchedPriority
	if priority == 0 {
		priority = rt.DefaultPriority(cfg.SchedPolicy)
		log.Info("using default rt priority", "priority", priority)
	}

	open := cfg.OpenSource
	if open == nil {
		open = audiosrc.OpenFile
	}

	return &Instance{
		sched:     cfg.Scheduler,
		log:       log,
		notify:    cfg.Notify,
		open:      open,
		irc:       cfg.ChannelConfig,
		rate:      cfg.SampleRate,
		chnIn:     cfg.ChannelConfig.Inputs(),
		chnOut:    cfg.ChannelConfig.Outputs(),
		blockSize: block,
		policy:    cfg.SchedPolicy,
		priority:  priority,
		buffered:  true,
		dbDry:     -60,
		dbWet:     0,
		dryCoeff:  0,
		dryTarget: 0,
		tc64:      2950.0 / float32(cfg.SampleRate),
		psetDirty: true,
		settings:  DefaultIRSettings(),
		responses: make(chan struct{}, 4),
	}, nil
}

// Online returns the currently active engine, or nil.
func (inst *Instance) Online() *Convolver {
	return inst.online
}

// ReportedLatency returns the latency reported after the last Run.
func (inst *Instance) ReportedLatency() int {
	return inst.latency
}

// SetBuffered switches between the buffered (one-block latency) and
// zero-latency run paths.
func (inst *Instance) SetBuffered(buffered bool) {
	inst.buffered = buffered
}

// Buffered reports the current run mode.
func (inst *Instance) Buffered() bool {
	return inst.buffered
}

// SetOutputGainDB sets the dry and wet gains in dB. Values at or below
// -60 dB mute; values above +6.02 dB clamp to a factor of two. Changes
// glide with a one-pole smoother.
func (inst *Instance) SetOutputGainDB(dry, wet float32) {
	if inst.dbDry == dry && inst.dbWet == wet {
		return
	}
	inst.dbDry = dry
	inst.dbWet = wet
	inst.dryTarget = dbToCoeff(dry)

	if inst.online != nil {
		inst.online.SetOutputGain(inst.dryTarget, dbToCoeff(wet), true)
		// The engine completes the interpolation on its own.
		inst.dryCoeff = inst.dryTarget
	}
}

// Activate (re)starts the online engine for the current block size.
// Not real-time safe.
func (inst *Instance) Activate() error {
	if inst.online == nil {
		return nil
	}
	return inst.online.Reconfigure(inst.blockSize)
}

// SetBlockSize updates the nominal block size and reconfigures the
// online engine. Not real-time safe.
func (inst *Instance) SetBlockSize(block int) error {
	if block < 64 || block > 8192 {
		return fmt.Errorf("%w: block size %d out of range", ErrNoConfig, block)
	}
	inst.blockSize = block
	if inst.online == nil {
		return nil
	}
	return inst.online.Reconfigure(block)
}

// RequestLoad asks the worker to load a new IR. Safe on the audio
// thread: the path is forwarded verbatim and nothing else happens
// here.
func (inst *Instance) RequestLoad(path string) error {
	return inst.sched.ScheduleWork(WorkMessage{Kind: WorkLoad, Path: path})
}

// NotifyState re-announces the active IR to the UI callback.
func (inst *Instance) NotifyState() {
	inst.informUI(false)
}

// Work executes one worker-thread command. The host calls it on a
// non-real-time thread; it may block on I/O and takes the state mutex.
func (inst *Instance) Work(msg WorkMessage) error {
	switch msg.Kind {
	case WorkApply:
		inst.respond()
		return nil

	case WorkFree:
		inst.mu.Lock()
		if inst.offline != nil {
			inst.offline.Release()
			inst.offline = nil
		}
		queued := inst.nextQueued
		inst.nextQueued = ""
		inst.mu.Unlock()

		if queued != "" {
			inst.log.Info("processing queued IR", "ir", queued)
			return inst.loadIRWorker(queued, true)
		}
		return nil

	case WorkLoad:
		return inst.loadIRWorker(msg.Path, true)
	}
	return fmt.Errorf("%w: unknown work kind %d", ErrNoConfig, msg.Kind)
}

// loadIRWorker builds a new engine for irPath into the offline slot.
// While a build is in flight, later requests coalesce into a one-slot
// queue where the last request wins.
func (inst *Instance) loadIRWorker(irPath string, respond bool) error {
	inst.mu.Lock()
	if inst.offline != nil {
		inst.nextQueued = irPath
		inst.mu.Unlock()
		inst.log.Info("build in progress, queueing for later", "ir", irPath)
		return nil
	}

	inst.log.Info("opening IR", "ir", irPath)

	clv, err := inst.buildConvolver(irPath)
	if err != nil {
		inst.offline = nil
		queued := inst.nextQueued != ""
		inst.mu.Unlock()
		inst.log.Warn("IR configuration failed", "ir", irPath, "error", err)
		if queued {
			inst.sched.ScheduleWork(WorkMessage{Kind: WorkFree})
		}
		return err
	}
	inst.offline = clv
	inst.mu.Unlock()

	if respond {
		inst.respond()
	}
	return nil
}

func (inst *Instance) buildConvolver(irPath string) (*Convolver, error) {
	clv, err := New(irPath, inst.rate,
		WithChannelConfig(inst.irc),
		WithIRSettings(inst.settings),
		WithSchedule(inst.policy, inst.priority),
		WithOpener(inst.open))
	if err != nil {
		return nil, err
	}
	if err := clv.Reconfigure(inst.blockSize); err != nil {
		return nil, err
	}
	if !clv.Ready() {
		clv.Release()
		return nil, ErrIRLoad
	}
	return clv, nil
}

// respond queues a swap notification for the audio thread.
func (inst *Instance) respond() {
	select {
	case inst.responses <- struct{}{}:
	default:
	}
}

// WorkResponse runs on the audio thread when the worker has finished a
// build: it swaps the online and offline engines, applies the current
// gain coefficients to the new engine, notifies the UI and schedules
// the displaced engine for destruction. The mutex is held only across
// the pointer exchange.
func (inst *Instance) WorkResponse() {
	inst.mu.Lock()
	if inst.offline == nil {
		// A failed load may still leave a queued path behind; a Free
		// command drains it.
		queued := inst.nextQueued != ""
		inst.mu.Unlock()
		if queued {
			inst.sched.ScheduleWork(WorkMessage{Kind: WorkFree})
		}
		return
	}

	inst.online, inst.offline = inst.offline, inst.online
	inst.online.SetOutputGain(dbToCoeff(inst.dbDry), dbToCoeff(inst.dbWet), false)
	dirty := inst.psetDirty
	inst.mu.Unlock()

	inst.informUI(dirty)
	inst.psetDirty = true

	inst.sched.ScheduleWork(WorkMessage{Kind: WorkFree})
}

func (inst *Instance) informUI(markDirty bool) {
	if inst.notify == nil {
		return
	}
	if inst.online == nil || inst.online.Path() == "" {
		return
	}
	if inst.nextQueued != "" {
		return
	}
	inst.notify(inst.online.Path(), markDirty)
}

// Run processes one audio cycle. in and out hold one slice per channel
// with at least n samples; processing is out of place, with in and out
// possibly aliased per channel. Pending worker responses are applied
// first, then audio is routed through the online engine, or passed
// through dry with the interpolated gain when no engine is online.
func (inst *Instance) Run(out, in [][]float32, n int) {
	for {
		select {
		case <-inst.responses:
			inst.WorkResponse()
			continue
		default:
		}
		break
	}

	online := inst.online
	if online == nil {
		inst.latency = 0
		inst.runBypass(out, in, n)
		return
	}

	inst.latency = online.ArtificialLatency()
	if inst.buffered {
		inst.latency += online.Latency()
	}
	if n == 0 {
		return
	}

	copyNoInplace(out[0][:n], in[0][:n])

	switch {
	case inst.chnIn == 2:
		if online.SumInputs() {
			// Fake stereo: sum inputs to mono, convolve the sum on
			// both channels.
			for i := 0; i < n; i++ {
				out[0][i] = 0.5 * (out[0][i] + in[1][i])
			}
			copy(out[1][:n], out[0][:n])
		} else {
			copyNoInplace(out[1][:n], in[1][:n])
		}
		if inst.buffered {
			online.RunBufferedStereo(out[0][:n], out[1][:n])
		} else {
			online.RunStereo(out[0][:n], out[1][:n])
		}

	case inst.chnOut == 2:
		copyNoInplace(out[1][:n], in[0][:n])
		if inst.buffered {
			online.RunBufferedStereo(out[0][:n], out[1][:n])
		} else {
			online.RunStereo(out[0][:n], out[1][:n])
		}

	default:
		if inst.buffered {
			online.RunBufferedMono(out[0][:n])
		} else {
			online.RunMono(out[0][:n])
		}
	}
}

// runBypass forwards audio with the dry gain when no engine is online.
func (inst *Instance) runBypass(out, in [][]float32, n int) {
	if n == 0 {
		return
	}

	copyNoInplace(out[0][:n], in[0][:n])
	if inst.chnIn == 2 {
		copyNoInplace(out[1][:n], in[1][:n])
	} else if inst.chnOut == 2 {
		copyNoInplace(out[1][:n], in[0][:n])
	}

	if inst.dryCoeff == inst.dryTarget {
		switch inst.dryCoeff {
		case 1:
		case 0:
			for c := 0; c < inst.chnOut; c++ {
				clear(out[c][:n])
			}
		default:
			gain := inst.dryCoeff
			for c := 0; c < inst.chnOut; c++ {
				for i := 0; i < n; i++ {
					out[c][i] *= gain
				}
			}
		}
		return
	}

	// Glide toward the target in 64-sample steps.
	alpha := inst.tc64
	cur := inst.dryCoeff
	tgt := inst.dryTarget
	done := 0
	remain := n

	for remain > 0 {
		ns := min(remain, 64)
		cur += alpha*(tgt-cur) + 1e-10

		for c := 0; c < inst.chnOut; c++ {
			for i := 0; i < ns; i++ {
				out[c][done+i] *= cur
			}
		}
		remain -= ns
		done += ns
	}

	if abs32(cur-tgt) < 1e-5 {
		inst.dryCoeff = inst.dryTarget
	} else {
		inst.dryCoeff = cur
	}
}

func copyNoInplace(dst, src []float32) {
	if len(dst) > 0 && len(src) > 0 && &dst[0] == &src[0] {
		return
	}
	copy(dst, src)
}

// dbToCoeff converts a dB value to a linear coefficient, muting at or
// below -60 dB and clamping above +6.02 dB.
func dbToCoeff(db float32) float32 {
	if db <= -60 {
		return 0
	}
	if db > 6.02 {
		return 2
	}
	return float32(math.Pow(10, 0.05*float64(db)))
}
