// Package gpio drives the lines of a single GPIO character-device chip:
// direction and level control, edge detection with callback dispatch, and
// bounded interrupt waits. Level-triggered interrupts, bidirectional mode
// and bias resistors are not available through the character device and are
// reported as unsupported.
package gpio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lorahub-go/errcode"
)

// Direction selects how a line is requested.
type Direction uint8

const (
	DirInput Direction = iota
	DirOutput
	DirBidirectional
)

// IntrType selects edge detection for an input line.
type IntrType uint8

const (
	IntrNone IntrType = iota
	IntrRisingEdge
	IntrFallingEdge
	IntrAnyEdge
	IntrHighLevel
	IntrLowLevel
)

// Pull selects a bias resistor. The chips this package targets have their
// bias fixed in hardware, so every value is refused.
type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// Callback is invoked from the dispatch goroutine after an edge fires on the
// line. Callbacks run sequentially; a slow callback delays every line.
type Callback func(line int)

const (
	dispatchTick = 100 * time.Millisecond
	eventBacklog = 16
)

type event struct {
	line      int
	at        time.Time
	rising    bool
	sincePrev time.Duration // gap to the previous edge on the same line
}

type lineState struct {
	req  lineReq
	dir  Direction
	intr IntrType
	cb   Callback

	// per-line queue consumed by WaitForInterrupt
	events chan event

	debounceWindow time.Duration
	lastEdge       time.Time
	lastLevel      int
}

// Controller owns one gpiochip handle and its per-line request table. Line
// state is created lazily on first use, mirroring how requests accumulate
// over a session. The dispatch goroutine is started on the first callback
// registration and runs until Cleanup.
type Controller struct {
	log  *slog.Logger
	open openFunc

	mu       sync.Mutex
	chip     chipHandle
	numLines int
	lines    map[int]*lineState

	dispatch chan event
	stop     chan struct{}
	done     chan struct{}
	running  bool

	drops uint32 // events discarded because a queue was full
}

// New returns a Controller bound to the real character device. Init must be
// called before any line operation.
func New(log *slog.Logger) *Controller {
	return newController(openCdevChip, log)
}

func newController(open openFunc, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		log:      log,
		open:     open,
		lines:    map[int]*lineState{},
		dispatch: make(chan event, 4*eventBacklog),
	}
}

// Init opens the chip and probes its line count. A second Init without an
// intervening Cleanup is refused.
func (c *Controller) Init(chipName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chip != nil {
		return errcode.Wrap(errcode.Unknown, "gpio.init", errors.New("chip already initialized"))
	}
	chip, err := c.open(chipName)
	if err != nil {
		return errcode.FromErrno("gpio.init", err)
	}
	n := chip.lines()
	if n <= 0 {
		chip.close()
		return errcode.Wrap(errcode.Unknown, "gpio.init", fmt.Errorf("chip %s reports no lines", chipName))
	}
	c.chip = chip
	c.numLines = n
	return nil
}

// Cleanup releases every requested line, stops the dispatch goroutine and
// closes the chip. It is safe to call more than once; errors on release are
// logged, not returned.
func (c *Controller) Cleanup() {
	c.mu.Lock()
	stop, done := c.stop, c.done
	running := c.running
	c.running = false
	c.stop, c.done = nil, nil
	lines := c.lines
	chip := c.chip
	c.lines = map[int]*lineState{}
	c.chip = nil
	c.numLines = 0
	c.mu.Unlock()

	if running {
		close(stop)
		<-done
	}
	for n, st := range lines {
		if st.req != nil {
			if err := st.req.Close(); err != nil {
				c.log.Warn("gpio line release failed", "line", n, "err", err)
			}
		}
	}
	if chip != nil {
		if err := chip.close(); err != nil {
			c.log.Warn("gpio chip close failed", "err", err)
		}
	}
}

// state returns the lazily-created table entry for line. Caller holds c.mu.
func (c *Controller) state(line int) (*lineState, error) {
	if c.chip == nil {
		return nil, errcode.Wrap(errcode.NotConfigured, "gpio", errors.New("chip not initialized"))
	}
	if line < 0 || line >= c.numLines {
		return nil, errcode.Wrap(errcode.InvalidArgument, "gpio", fmt.Errorf("line %d out of range [0,%d)", line, c.numLines))
	}
	st := c.lines[line]
	if st == nil {
		st = &lineState{lastLevel: -1}
		c.lines[line] = st
	}
	return st, nil
}

// release drops the current request on st, if any. Caller holds c.mu.
func (c *Controller) release(st *lineState) {
	if st.req != nil {
		_ = st.req.Close()
		st.req = nil
		st.intr = IntrNone
	}
}

// SetDirection re-requests the line in the given direction. Any previous
// request on the line, including edge detection, is released first.
func (c *Controller) SetDirection(line int, dir Direction) error {
	switch dir {
	case DirInput, DirOutput:
	case DirBidirectional:
		return errcode.Unsupported("bidirectional line direction")
	default:
		return errcode.Wrap(errcode.InvalidArgument, "gpio.set_direction", fmt.Errorf("direction %d", dir))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	st, err := c.state(line)
	if err != nil {
		return err
	}
	c.release(st)
	req, err := c.chip.request(line, dir, IntrNone, nil)
	if err != nil {
		return errcode.FromErrno("gpio.set_direction", err)
	}
	st.req = req
	st.dir = dir
	return nil
}

// GetDirection reports the line's direction: the requested one when this
// controller holds the line, otherwise what the kernel reports.
func (c *Controller) GetDirection(line int) (Direction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, err := c.state(line)
	if err != nil {
		return DirInput, err
	}
	if st.req != nil {
		return st.dir, nil
	}
	dir, err := c.chip.lineDirection(line)
	if err != nil {
		return DirInput, errcode.FromErrno("gpio.get_direction", err)
	}
	return dir, nil
}

// SetLevel drives an output line. The level is validated before any hardware
// access.
func (c *Controller) SetLevel(line, level int) error {
	if level != 0 && level != 1 {
		return errcode.Wrap(errcode.InvalidArgument, "gpio.set_level", fmt.Errorf("level %d", level))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	st, err := c.state(line)
	if err != nil {
		return err
	}
	if st.req == nil || st.dir != DirOutput {
		return errcode.Wrap(errcode.AccessDenied, "gpio.set_level", fmt.Errorf("line %d not requested as output", line))
	}
	if err := st.req.SetValue(level); err != nil {
		return errcode.FromErrno("gpio.set_level", err)
	}
	return nil
}

// GetLevel samples the line. The line must be held by this controller.
func (c *Controller) GetLevel(line int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, err := c.state(line)
	if err != nil {
		return 0, err
	}
	if st.req == nil {
		return 0, errcode.Wrap(errcode.AccessDenied, "gpio.get_level", fmt.Errorf("line %d not requested", line))
	}
	v, err := st.req.Value()
	if err != nil {
		return 0, errcode.FromErrno("gpio.get_level", err)
	}
	return v, nil
}

// SetDirections applies dir to every line, attempting all of them. The
// returned error joins one wrapped failure per line that refused.
func (c *Controller) SetDirections(lines []int, dir Direction) error {
	var errs []error
	for _, n := range lines {
		if err := c.SetDirection(n, dir); err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", n, err))
		}
	}
	return errors.Join(errs...)
}

// SetLevels drives each line to the corresponding level, attempting all of
// them. levels must be the same length as lines.
func (c *Controller) SetLevels(lines []int, levels []int) error {
	if len(lines) != len(levels) {
		return errcode.Wrap(errcode.InvalidArgument, "gpio.set_levels",
			fmt.Errorf("%d lines but %d levels", len(lines), len(levels)))
	}
	var errs []error
	for i, n := range lines {
		if err := c.SetLevel(n, levels[i]); err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", n, err))
		}
	}
	return errors.Join(errs...)
}

// GetLevels samples each line. Lines that fail read back as -1 and
// contribute to the joined error.
func (c *Controller) GetLevels(lines []int) ([]int, error) {
	out := make([]int, len(lines))
	var errs []error
	for i, n := range lines {
		v, err := c.GetLevel(n)
		if err != nil {
			out[i] = -1
			errs = append(errs, fmt.Errorf("line %d: %w", n, err))
			continue
		}
		out[i] = v
	}
	return out, errors.Join(errs...)
}

// SetPull records that a bias resistor was requested. The hardware has no
// configurable bias, so the request is always refused.
func (c *Controller) SetPull(line int, pull Pull) error {
	return errcode.Unsupported("pull resistor configuration")
}

// SetDebounce sets the advisory debounce window for WaitForInterrupt on this
// line. It only affects bookkeeping; edge events are still delivered to
// callbacks undebounced.
func (c *Controller) SetDebounce(line int, window time.Duration) error {
	if window < 0 {
		return errcode.Wrap(errcode.InvalidArgument, "gpio.set_debounce", fmt.Errorf("window %s", window))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	st, err := c.state(line)
	if err != nil {
		return err
	}
	st.debounceWindow = window
	st.lastEdge = time.Time{}
	st.lastLevel = -1
	return nil
}

// SetIntrType re-requests the line as an input with the given edge
// detection. Level-triggered modes are refused before any hardware access.
func (c *Controller) SetIntrType(line int, intr IntrType) error {
	switch intr {
	case IntrNone, IntrRisingEdge, IntrFallingEdge, IntrAnyEdge:
	case IntrHighLevel, IntrLowLevel:
		return errcode.Unsupported("level-triggered interrupts")
	default:
		return errcode.Wrap(errcode.InvalidArgument, "gpio.set_intr_type", fmt.Errorf("interrupt type %d", intr))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	st, err := c.state(line)
	if err != nil {
		return err
	}
	c.release(st)
	var eh func(rising bool)
	if intr != IntrNone {
		if st.events == nil {
			st.events = make(chan event, eventBacklog)
		}
		eh = c.edgeHandler(line)
	}
	req, err := c.chip.request(line, DirInput, intr, eh)
	if err != nil {
		return errcode.FromErrno("gpio.set_intr_type", err)
	}
	st.req = req
	st.dir = DirInput
	st.intr = intr
	return nil
}

// edgeHandler builds the function invoked on the chip's event goroutine.
// It must never block: sends into full queues are dropped and counted.
func (c *Controller) edgeHandler(line int) func(rising bool) {
	return func(rising bool) {
		now := time.Now()
		ev := event{line: line, at: now, rising: rising}

		c.mu.Lock()
		st := c.lines[line]
		var evq chan event
		if st != nil {
			if !st.lastEdge.IsZero() {
				ev.sincePrev = now.Sub(st.lastEdge)
			}
			st.lastEdge = now
			st.lastLevel = boolToInt(rising)
			evq = st.events
		}
		c.mu.Unlock()

		if evq != nil {
			select {
			case evq <- ev:
			default:
				c.countDrop()
			}
		}
		select {
		case c.dispatch <- ev:
		default:
			c.countDrop()
		}
	}
}

func (c *Controller) countDrop() {
	c.mu.Lock()
	c.drops++
	c.mu.Unlock()
}

// Drops reports how many edge events were discarded because a queue was
// full.
func (c *Controller) Drops() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drops
}

// SetCallback installs cb for the line, replacing any previous one. A nil cb
// removes the registration. The single dispatch goroutine is started lazily
// on the first non-nil registration.
func (c *Controller) SetCallback(line int, cb Callback) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, err := c.state(line)
	if err != nil {
		return err
	}
	st.cb = cb
	if cb != nil && !c.running {
		c.stop = make(chan struct{})
		c.done = make(chan struct{})
		c.running = true
		go c.dispatchLoop(c.stop, c.done)
	}
	return nil
}

func (c *Controller) dispatchLoop(stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case ev := <-c.dispatch:
			c.mu.Lock()
			var cb Callback
			if st := c.lines[ev.line]; st != nil {
				cb = st.cb
			}
			c.mu.Unlock()
			if cb != nil {
				cb(ev.line)
			}
		case <-time.After(dispatchTick):
			// idle wakeup so the loop never parks indefinitely
		}
	}
}

// WaitForInterrupt blocks until an edge arrives on the line or the timeout
// elapses. It reports true when a usable edge was seen. An edge closer to
// the previous one than the configured debounce window is consumed but
// reported as false.
func (c *Controller) WaitForInterrupt(line int, timeout time.Duration) (bool, error) {
	c.mu.Lock()
	st, err := c.state(line)
	if err != nil {
		c.mu.Unlock()
		return false, err
	}
	if st.req == nil || st.intr == IntrNone {
		c.mu.Unlock()
		return false, errcode.Wrap(errcode.IoError, "gpio.wait_for_interrupt",
			fmt.Errorf("line %d has no edge detection configured", line))
	}
	evq := st.events
	window := st.debounceWindow
	c.mu.Unlock()

	select {
	case ev := <-evq:
		if window > 0 && ev.sincePrev > 0 && ev.sincePrev < window {
			return false, nil
		}
		return true, nil
	case <-time.After(timeout):
		return false, nil
	}
}

// ErrorString renders the code carried by err as a short human-readable
// description for log lines and CLI output.
func ErrorString(err error) string {
	switch errcode.Of(err) {
	case errcode.OK:
		return "success"
	case errcode.InvalidArgument:
		return "invalid argument"
	case errcode.NotFound:
		return "GPIO not found"
	case errcode.AccessDenied:
		return "access denied"
	case errcode.IoError:
		return "I/O error"
	case errcode.NotSupported:
		return "operation not supported"
	case errcode.Timeout:
		return "timed out"
	case errcode.NotConfigured:
		return "not configured"
	default:
		return "unknown error"
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
