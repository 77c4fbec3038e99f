package conv

import (
	"fmt"
	"runtime"
	"sync/atomic"

	algofft "github.com/MeKo-Christian/algo-fft"

	"github.com/cwbudde/algo-convolver/internal/rt"
)

// Worker states.
const (
	lvlIdle int32 = iota
	lvlTerm
	lvlProc
)

// inpNode holds the forward-FFT history of one input channel at this
// level: a ring of npar spectra, one per partition cycle.
type inpNode struct {
	inp  int
	ffta [][]complex64
}

// macNode holds the impulse spectra convolving one input into one
// output: npar spectra, entries nil where the IR slice was never
// written.
type macNode struct {
	inp  *inpNode
	fftb [][]complex64
}

// outNode holds one output channel's overlap-add ring of three
// partition-sized buffers and the MAC nodes feeding it.
type outNode struct {
	out  int
	macs []*macNode
	buff [3][]float32
}

// level is one partition size of the plan, optionally backed by a
// worker goroutine.
type level struct {
	stat atomic.Int32

	prio    int
	offs    int
	npar    int
	parsize int
	opts    Options

	inpsize int
	outsize int
	inpoffs int
	outoffs int
	bits    int
	wait    int
	ptind   int
	opind   int

	inpbuff [][]float32
	outbuff [][]float32

	plan     *algofft.PlanRealT[float32, complex64]
	timeData []float32
	prepData []float32
	freqData []complex64

	inpNodes []*inpNode
	outNodes []*outNode

	trig chan struct{}
	done chan struct{}

	// stallHook runs in the worker before each cycle; tests use it to
	// provoke late cycles.
	stallHook func()
}

func newLevel(prio, offs, npar, parsize int, opts Options) (*level, error) {
	plannerMu.Lock()
	plan, err := algofft.NewPlanReal32(2 * parsize)
	plannerMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: FFT plan for partition size %d: %v", ErrMemAlloc, parsize, err)
	}

	return &level{
		prio:     prio,
		offs:     offs,
		npar:     npar,
		parsize:  parsize,
		opts:     opts,
		plan:     plan,
		timeData: make([]float32, 2*parsize),
		prepData: make([]float32, 2*parsize),
		freqData: make([]complex64, parsize+1),
		trig:     make(chan struct{}, 4),
		done:     make(chan struct{}, 4),
	}, nil
}

// impdataWrite deposits the IR slice data[0:ind1-ind0] (covering IR
// positions [ind0, ind1) with the given stride) into the partitions of
// the (inp, out) pair, accumulating into any spectra already present.
func (l *level) impdataWrite(inp, out, stride int, data []float32, ind0, ind1 int, create bool) {
	n := ind1 - ind0
	i0 := l.offs - ind0
	i1 := i0 + l.npar*l.parsize
	if i0 >= n || i1 <= 0 {
		return
	}

	m := l.findMacNode(inp, out, create)
	if m == nil {
		return
	}
	if m.fftb == nil {
		if !create {
			return
		}
		m.fftb = make([][]complex64, l.npar)
	}

	for k := 0; k < l.npar; k++ {
		i1 = i0 + l.parsize
		if i0 < n && i1 > 0 {
			fftb := m.fftb[k]
			if fftb == nil && create {
				fftb = make([]complex64, l.parsize+1)
				m.fftb[k] = fftb
			}
			if fftb != nil && data != nil {
				clear(l.prepData)
				j0 := i0
				if j0 < 0 {
					j0 = 0
				}
				j1 := i1
				if j1 > n {
					j1 = n
				}
				for j := j0; j < j1; j++ {
					l.prepData[j-i0] = data[j*stride]
				}
				l.plan.Forward(l.freqData, l.prepData)
				for j := 0; j <= l.parsize; j++ {
					fftb[j] += l.freqData[j]
				}
			}
		}
		i0 = i1
	}
}

func (l *level) impdataClear(inp, out int) {
	m := l.findMacNode(inp, out, false)
	if m == nil || m.fftb == nil {
		return
	}
	for _, fftb := range m.fftb {
		clear(fftb)
	}
}

// reset binds the level to the engine buffers and zeroes all history.
// A running worker is settled first so its cycle cannot race the wipe;
// stale semaphore tokens from a previous run are discarded.
func (l *level) reset(inpsize, outsize int, inpbuff, outbuff [][]float32) {
	if l.stat.Load() == lvlProc {
		for l.wait > 0 {
			<-l.done
			l.wait--
		}
	}
	drainTokens(l.trig)
	drainTokens(l.done)

	l.inpsize = inpsize
	l.outsize = outsize
	l.inpbuff = inpbuff
	l.outbuff = outbuff
	for _, x := range l.inpNodes {
		for _, ffta := range x.ffta {
			clear(ffta)
		}
	}
	for _, y := range l.outNodes {
		for i := range y.buff {
			clear(y.buff[i])
		}
	}
	if l.parsize == l.outsize {
		l.outoffs = 0
		l.inpoffs = 0
	} else {
		l.outoffs = l.parsize / 2
		l.inpoffs = l.inpsize - l.outoffs
	}
	l.bits = l.parsize / l.outsize
	l.wait = 0
	l.ptind = 0
	l.opind = 0
}

func drainTokens(ch chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// start launches the level's worker with the requested scheduling.
// hard makes a denied real-time request fatal.
func (l *level) start(abspri int, policy rt.Policy, periodNS float64, hard bool) error {
	prio := rt.Clamp(policy, abspri+l.prio)
	errc := make(chan error, 1)
	go l.main(prio, policy, periodNS, hard, errc)
	return <-errc
}

func (l *level) main(prio int, policy rt.Policy, periodNS float64, hard bool, errc chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := rt.SetScheduling(policy, prio, periodNS); err != nil && hard {
		errc <- err
		return
	}
	errc <- nil

	l.stat.Store(lvlProc)
	for range l.trig {
		if l.stat.Load() == lvlTerm {
			l.stat.Store(lvlIdle)
			return
		}
		if l.stallHook != nil {
			l.stallHook()
		}
		l.process()
		l.done <- struct{}{}
	}
}

// stop requests worker termination; the worker observes it on the next
// trigger wake.
func (l *level) stop() {
	if l.stat.Load() != lvlIdle {
		l.stat.Store(lvlTerm)
		l.trig <- struct{}{}
	}
}

// process runs one partition cycle: forward-FFT the newest parsize
// input samples, multiply-accumulate against the impulse spectra of all
// partitions, inverse-FFT and overlap-add into the output ring.
func (l *level) process() {
	i1 := l.inpoffs
	n1 := l.parsize
	n2 := 0
	l.inpoffs = i1 + n1
	if l.inpoffs >= l.inpsize {
		l.inpoffs -= l.inpsize
		n2 = l.inpoffs
		n1 -= n2
	}

	opi1 := (l.opind + 1) % 3
	opi2 := (l.opind + 2) % 3

	for _, x := range l.inpNodes {
		inpd := l.inpbuff[x.inp]
		if n1 > 0 {
			copy(l.timeData[:n1], inpd[i1:i1+n1])
		}
		if n2 > 0 {
			copy(l.timeData[n1:n1+n2], inpd[:n2])
		}
		clear(l.timeData[l.parsize:])
		l.plan.Forward(x.ffta[l.ptind], l.timeData)
	}

	for _, y := range l.outNodes {
		clear(l.freqData)
		for _, m := range y.macs {
			x := m.inp
			i := l.ptind
			for j := 0; j < l.npar; j++ {
				if fftb := m.fftb[j]; fftb != nil {
					ffta := x.ffta[i]
					for k := 0; k <= l.parsize; k++ {
						l.freqData[k] += ffta[k] * fftb[k]
					}
				}
				if i == 0 {
					i = l.npar
				}
				i--
			}
		}

		l.plan.Inverse(l.timeData, l.freqData)
		outd := y.buff[opi1]
		for k := 0; k < l.parsize; k++ {
			outd[k] += l.timeData[k]
		}
		copy(y.buff[opi2], l.timeData[l.parsize:])
	}

	l.ptind++
	if l.ptind == l.npar {
		l.ptind = 0
	}
}

// readout is called by the audio thread every outsize samples. At a
// partition boundary it hands the worker its next cycle (or, for the
// synchronous level, runs the cycle inline) and then mixes the current
// output segment into the engine accumulator. The return value is the
// level's bits when the boundary had to block on a late worker.
func (l *level) readout() int {
	f := 0
	l.outoffs += l.outsize
	if l.outoffs == l.parsize {
		l.outoffs = 0
		if l.stat.Load() == lvlProc {
			for l.wait > 0 {
				select {
				case <-l.done:
				default:
					f = l.bits
					<-l.done
				}
				l.wait--
			}
			l.opind++
			if l.opind == 3 {
				l.opind = 0
			}
			l.trig <- struct{}{}
			l.wait++
		} else {
			l.process()
			l.opind++
			if l.opind == 3 {
				l.opind = 0
			}
		}
	}

	for _, y := range l.outNodes {
		p := y.buff[l.opind][l.outoffs : l.outoffs+l.outsize]
		q := l.outbuff[y.out]
		for i := range p {
			q[i] += p[i]
		}
	}
	return f
}

// readtail mixes the already-computed tail of the previous cycle into
// the first n accumulator samples without starting a new cycle.
func (l *level) readtail(n int) int {
	opind := l.opind
	outoffs := l.outoffs + l.outsize
	if outoffs == l.parsize {
		for l.wait > 0 {
			<-l.done
			l.wait--
		}
		outoffs = 0
		opind++
		if opind == 3 {
			opind = 0
		}
	}

	for _, y := range l.outNodes {
		p := y.buff[opind][outoffs : outoffs+n]
		q := l.outbuff[y.out]
		for i := range p {
			q[i] += p[i]
		}
	}
	return 0
}

// findMacNode locates the MAC node for the (inp, out) pair, creating
// the input, output and MAC records on first use.
func (l *level) findMacNode(inp, out int, create bool) *macNode {
	var x *inpNode
	for _, n := range l.inpNodes {
		if n.inp == inp {
			x = n
			break
		}
	}
	if x == nil {
		if !create {
			return nil
		}
		x = &inpNode{inp: inp, ffta: make([][]complex64, l.npar)}
		for i := range x.ffta {
			x.ffta[i] = make([]complex64, l.parsize+1)
		}
		l.inpNodes = append(l.inpNodes, x)
	}

	var y *outNode
	for _, n := range l.outNodes {
		if n.out == out {
			y = n
			break
		}
	}
	if y == nil {
		if !create {
			return nil
		}
		y = &outNode{out: out}
		for i := range y.buff {
			y.buff[i] = make([]float32, l.parsize)
		}
		l.outNodes = append(l.outNodes, y)
	}

	for _, m := range y.macs {
		if m.inp == x {
			return m
		}
	}
	if !create {
		return nil
	}
	m := &macNode{inp: x}
	y.macs = append(y.macs, m)
	return m
}

// release drops the level's FFT plan and node storage.
func (l *level) release() {
	l.inpNodes = nil
	l.outNodes = nil
	plannerMu.Lock()
	l.plan = nil
	plannerMu.Unlock()
	l.timeData = nil
	l.prepData = nil
	l.freqData = nil
}
