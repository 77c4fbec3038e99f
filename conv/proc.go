package conv

import (
	"fmt"
	"runtime"
	"time"

	"github.com/cwbudde/algo-convolver/internal/rt"
)

// Processor orchestrates one convolution job: it owns the partition
// plan, the per-level workers and the engine-side sample buffers, and
// exposes the audio-thread processing surface.
//
// Lifecycle: Configure → ImpdataCreate (repeatable) → StartProcess →
// Process/TailOnly per audio cycle → StopProcess → Cleanup. Reset may
// be called in any configured state to zero signal history.
type Processor struct {
	state   State
	opts    Options
	ninp    int
	nout    int
	quantum int
	minpart int
	maxpart int
	inpsize int
	inpoffs int
	outoffs int
	latecnt int

	inpbuff [][]float32
	outbuff [][]float32
	levels  []*level
}

// NewProcessor returns an idle, unconfigured processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// SetOptions replaces the processor options. Only effective before
// Configure.
func (p *Processor) SetOptions(opts Options) {
	p.opts = opts
}

// State returns the lifecycle state.
func (p *Processor) State() State {
	return p.state
}

// Configure builds the partition plan for an impulse response of up to
// maxsize samples and allocates all buffers. quantum is the nominal
// audio block, minpart/maxpart bound the partition sizes, and density
// (0 for automatic) weights the MAC cost by the expected fraction of
// populated input/output pairs.
func (p *Processor) Configure(ninp, nout, maxsize, quantum, minpart, maxpart int, density float32) error {
	if p.state != StateIdle {
		return fmt.Errorf("%w: configure requires an idle processor", ErrBadState)
	}
	switch {
	case ninp < 1 || ninp > MaxInputs,
		nout < 1 || nout > MaxOutputs,
		maxsize < 1,
		!isPowerOf2(quantum) || quantum < MinQuantum || quantum > MaxQuantum,
		!isPowerOf2(minpart) || minpart < MinPartition || minpart < quantum || minpart > MaxDivision*quantum,
		!isPowerOf2(maxpart) || maxpart > MaxPartition || maxpart < minpart:
		return fmt.Errorf("%w: configure(%d, %d, %d, %d, %d, %d)",
			ErrBadParam, ninp, nout, maxsize, quantum, minpart, maxpart)
	}

	nmin := min(ninp, nout)
	if density <= 0 {
		density = 1 / float32(nmin)
	}
	if density > 1 {
		density = 1
	}
	cfft := float32(fftCost) * float32(ninp+nout)
	cmac := float32(macCost) * float32(ninp*nout) * density

	// When FFT is cheap relative to the saved MACs, grow partition
	// sizes one doubling at a time, otherwise quadruple.
	step := 2
	if cfft < 4*cmac {
		step = 1
	}
	s := 1
	if step == 2 {
		if (maxpart/minpart)&0xAAAA != 0 {
			s = 1
		} else {
			s = 2
		}
	}
	nmin = 2
	if s == 2 {
		nmin = 6
	}
	if minpart == quantum {
		nmin++
	}

	prio := 0
	size := quantum
	for size < minpart {
		prio--
		size <<= 1
	}

	for offs := 0; offs < maxsize; {
		npar := (maxsize - offs + size - 1) / size
		if size < maxpart && npar > nmin {
			// Trim toward nmin while the MACs saved at this level
			// outweigh the extra FFT cost of the next one.
			r := 1 << s
			d := npar - nmin
			d -= (d + r - 1) / r
			if cfft < float32(d)*cmac {
				npar = nmin
			}
		}

		lvl, err := newLevel(prio, offs, npar, size, p.opts)
		if err != nil {
			p.Cleanup()
			return err
		}
		p.levels = append(p.levels, lvl)

		offs += size * npar
		if offs < maxsize {
			prio -= s
			size <<= s
			s = step
			nmin = 2
			if s == 2 {
				nmin = 6
			}
		}
	}

	p.ninp = ninp
	p.nout = nout
	p.quantum = quantum
	p.minpart = minpart
	p.maxpart = p.levels[len(p.levels)-1].parsize
	p.latecnt = 0
	p.inpsize = 2 * p.maxpart

	p.inpbuff = make([][]float32, ninp)
	for i := range p.inpbuff {
		p.inpbuff[i] = make([]float32, p.inpsize)
	}
	p.outbuff = make([][]float32, nout)
	for i := range p.outbuff {
		p.outbuff[i] = make([]float32, p.minpart)
	}

	p.state = StateStop
	return nil
}

// ImpdataCreate deposits IR samples covering positions [i0, i1) into
// the partitions of the (inp, out) pair. data holds i1-i0 samples at
// the given stride. Spectra accumulate, so an IR may be loaded in
// chunks.
func (p *Processor) ImpdataCreate(inp, out, stride int, data []float32, i0, i1 int) error {
	if p.state != StateStop {
		return fmt.Errorf("%w: impulse data requires a stopped processor", ErrBadState)
	}
	if inp < 0 || inp >= p.ninp || out < 0 || out >= p.nout {
		return fmt.Errorf("%w: channel pair (%d, %d)", ErrBadParam, inp, out)
	}
	if i1 <= i0 {
		return fmt.Errorf("%w: impulse range [%d, %d)", ErrBadParam, i0, i1)
	}
	for _, l := range p.levels {
		l.impdataWrite(inp, out, stride, data, i0, i1, true)
	}
	return nil
}

// ImpdataClear zeroes the impulse spectra of the (inp, out) pair.
func (p *Processor) ImpdataClear(inp, out int) error {
	if p.state < StateStop {
		return fmt.Errorf("%w: not configured", ErrBadState)
	}
	for _, l := range p.levels {
		l.impdataClear(inp, out)
	}
	return nil
}

// Reset zeroes all signal history: engine buffers, input FFT rings and
// output rings. Idempotent.
func (p *Processor) Reset() error {
	if p.state == StateIdle {
		return fmt.Errorf("%w: not configured", ErrBadState)
	}
	for _, b := range p.inpbuff {
		clear(b)
	}
	for _, b := range p.outbuff {
		clear(b)
	}
	for _, l := range p.levels {
		l.reset(p.inpsize, p.minpart, p.inpbuff, p.outbuff)
	}
	return nil
}

// StartProcess starts workers for all levels whose partition size
// exceeds the quantum and waits until every worker is running. abspri
// and policy give the base scheduling request; each level applies its
// relative priority. periodNS is the audio cycle period.
func (p *Processor) StartProcess(abspri int, policy rt.Policy, periodNS float64) error {
	if p.state != StateStop {
		return fmt.Errorf("%w: start requires a stopped processor", ErrBadState)
	}
	return p.restartProcess(abspri, policy, periodNS)
}

func (p *Processor) restartProcess(abspri int, policy rt.Policy, periodNS float64) error {
	switch p.state {
	case StateStop:
	case StateProc:
		p.StopProcess()
		fallthrough
	case StateWait:
		for !p.checkStop() {
			time.Sleep(40 * time.Millisecond)
			runtime.Gosched()
		}
	default:
		return fmt.Errorf("%w: not configured", ErrBadState)
	}

	p.latecnt = 0
	p.inpoffs = 0
	p.outoffs = 0
	p.Reset()

	first := 0
	if p.minpart == p.quantum {
		first = 1
	}
	hard := p.opts&OptHardRealtime != 0
	for k := first; k < len(p.levels); k++ {
		if err := p.levels[k].start(abspri, policy, periodNS, hard); err != nil {
			p.stopAll()
			p.Cleanup()
			return fmt.Errorf("%w: level %d worker: %v", ErrBadState, k, err)
		}
	}

	for !p.checkStarted(first) {
		time.Sleep(40 * time.Millisecond)
		runtime.Gosched()
	}

	p.state = StateProc
	return nil
}

// Process advances the engine by one quantum. Callers fill InputData
// before the call and read OutputData after it. The return value is
// zero, or per-level lateness bits possibly combined with FlagLoad.
func (p *Processor) Process() int {
	if p.state != StateProc {
		return 0
	}
	f := 0

	p.inpoffs += p.quantum
	if p.inpoffs == p.inpsize {
		p.inpoffs = 0
	}

	p.outoffs += p.quantum
	if p.outoffs == p.minpart {
		p.outoffs = 0
		for _, b := range p.outbuff {
			clear(b)
		}
		for _, l := range p.levels {
			f |= l.readout()
		}
		if f != 0 {
			p.latecnt++
			if p.latecnt >= 5 {
				if p.opts&OptLateContinue == 0 {
					p.StopProcess()
				}
				f |= FlagLoad
			}
		} else {
			p.latecnt = 0
		}
	}
	return f
}

// TailOnly covers a partial final cycle: it clears the first n samples
// of every output accumulator and, when the current quantum is the last
// one of a minpart period, mixes in the pre-computed tails of all
// levels, without starting a new FFT cycle. In any other quantum the
// accumulator is only cleared. The smallest level's
// contribution for the current partial input is the caller's job
// (TimeDomainConvolver).
func (p *Processor) TailOnly(n int) int {
	if p.state != StateProc {
		return 0
	}
	if n <= 0 || n > p.quantum {
		return 0
	}
	f := 0
	for _, b := range p.outbuff {
		clear(b[:n])
	}
	if p.outoffs+p.quantum == p.minpart {
		for _, l := range p.levels {
			f |= l.readtail(n)
		}
	}
	return f
}

// StopProcess signals termination to every level worker.
func (p *Processor) StopProcess() error {
	if p.state != StateProc {
		return fmt.Errorf("%w: not processing", ErrBadState)
	}
	p.stopAll()
	p.state = StateWait
	return nil
}

func (p *Processor) stopAll() {
	for _, l := range p.levels {
		l.stop()
	}
}

// Cleanup waits for workers to terminate and releases all buffers and
// FFT plans, returning the processor to idle.
func (p *Processor) Cleanup() {
	for !p.checkStop() {
		time.Sleep(40 * time.Millisecond)
		runtime.Gosched()
	}
	for _, l := range p.levels {
		l.release()
	}
	p.levels = nil
	p.inpbuff = nil
	p.outbuff = nil

	p.state = StateIdle
	p.opts = 0
	p.ninp = 0
	p.nout = 0
	p.quantum = 0
	p.minpart = 0
	p.maxpart = 0
	p.latecnt = 0
}

// InputData returns the quantum-sized slice of the input buffer that
// the caller fills before Process.
func (p *Processor) InputData(inp int) []float32 {
	return p.inpbuff[inp][p.inpoffs : p.inpoffs+p.quantum]
}

// OutputData returns the quantum-sized slice of the output accumulator
// holding the current cycle's result.
func (p *Processor) OutputData(out int) []float32 {
	return p.outbuff[out][p.outoffs : p.outoffs+p.quantum]
}

// Inputs returns the configured input channel count.
func (p *Processor) Inputs() int { return p.ninp }

// Outputs returns the configured output channel count.
func (p *Processor) Outputs() int { return p.nout }

// Quantum returns the configured nominal block size.
func (p *Processor) Quantum() int { return p.quantum }

func (p *Processor) checkStarted(first int) bool {
	k := first
	for k < len(p.levels) && p.levels[k].stat.Load() == lvlProc {
		k++
	}
	return k == len(p.levels) || len(p.levels) == 0
}

func (p *Processor) checkStop() bool {
	for _, l := range p.levels {
		if l.stat.Load() != lvlIdle {
			return false
		}
	}
	p.state = StateStop
	return true
}
