package gpio

import (
	"errors"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"lorahub-go/errcode"
)

// fake chip and line

type fakeLine struct {
	mu     sync.Mutex
	line   int
	dir    Direction
	intr   IntrType
	eh     func(rising bool)
	level  int
	closed bool

	setErr error
	getErr error
}

func (l *fakeLine) Value() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.getErr != nil {
		return 0, l.getErr
	}
	return l.level, nil
}

func (l *fakeLine) SetValue(v int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.setErr != nil {
		return l.setErr
	}
	l.level = v
	return nil
}

func (l *fakeLine) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// simulate a hardware edge by invoking the registered event handler
func (l *fakeLine) trigger(rising bool) {
	l.mu.Lock()
	eh := l.eh
	l.level = boolToInt(rising)
	l.mu.Unlock()
	if eh != nil {
		eh(rising)
	}
}

type fakeChip struct {
	mu       sync.Mutex
	numLines int
	requests []*fakeLine
	reqErr   map[int]error
	closed   bool
}

func (c *fakeChip) lines() int { return c.numLines }

func (c *fakeChip) lineDirection(line int) (Direction, error) { return DirInput, nil }

func (c *fakeChip) request(line int, dir Direction, intr IntrType, eh func(rising bool)) (lineReq, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.reqErr[line]; err != nil {
		return nil, err
	}
	l := &fakeLine{line: line, dir: dir, intr: intr, eh: eh}
	c.requests = append(c.requests, l)
	return l, nil
}

func (c *fakeChip) close() error { c.closed = true; return nil }

// last returns the most recent request for a line.
func (c *fakeChip) last(line int) *fakeLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.requests) - 1; i >= 0; i-- {
		if c.requests[i].line == line {
			return c.requests[i]
		}
	}
	return nil
}

func newTestController(t *testing.T, numLines int) (*Controller, *fakeChip) {
	t.Helper()
	fc := &fakeChip{numLines: numLines, reqErr: map[int]error{}}
	c := newController(func(name string) (chipHandle, error) { return fc, nil }, nil)
	if err := c.Init("gpiochip0"); err != nil {
		t.Fatalf("Init error: %v", err)
	}
	t.Cleanup(c.Cleanup)
	return c, fc
}

func TestInit_ChipMissing_NotFound(t *testing.T) {
	c := newController(func(name string) (chipHandle, error) { return nil, syscall.ENOENT }, nil)
	err := c.Init("gpiochip9")
	if errcode.Of(err) != errcode.NotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestInit_Twice_Refused(t *testing.T) {
	c, _ := newTestController(t, 4)
	if err := c.Init("gpiochip0"); errcode.Of(err) != errcode.Unknown {
		t.Fatalf("expected unknown on double init, got %v", err)
	}
}

func TestSetDirection_Bidirectional_Unsupported(t *testing.T) {
	c, fc := newTestController(t, 4)
	err := c.SetDirection(1, DirBidirectional)
	if errcode.Of(err) != errcode.NotSupported {
		t.Fatalf("expected not_supported, got %v", err)
	}
	if len(fc.requests) != 0 {
		t.Fatal("hardware was touched for an unsupported direction")
	}
}

func TestSetDirection_LineOutOfRange(t *testing.T) {
	c, _ := newTestController(t, 4)
	if err := c.SetDirection(4, DirInput); errcode.Of(err) != errcode.InvalidArgument {
		t.Fatalf("expected invalid_argument, got %v", err)
	}
	if err := c.SetDirection(-1, DirInput); errcode.Of(err) != errcode.InvalidArgument {
		t.Fatalf("expected invalid_argument, got %v", err)
	}
}

func TestSetDirection_ReleasesPreviousRequest(t *testing.T) {
	c, fc := newTestController(t, 4)
	if err := c.SetDirection(2, DirInput); err != nil {
		t.Fatalf("SetDirection input: %v", err)
	}
	first := fc.last(2)
	if err := c.SetDirection(2, DirOutput); err != nil {
		t.Fatalf("SetDirection output: %v", err)
	}
	if !first.closed {
		t.Fatal("previous request was not released before re-request")
	}
	if got := fc.last(2).dir; got != DirOutput {
		t.Fatalf("expected output request, got %v", got)
	}
}

func TestSetLevel_InvalidValue_NoHardwareAccess(t *testing.T) {
	c, fc := newTestController(t, 4)
	if err := c.SetDirection(0, DirOutput); err != nil {
		t.Fatalf("SetDirection: %v", err)
	}
	before := len(fc.requests)
	if err := c.SetLevel(0, 2); errcode.Of(err) != errcode.InvalidArgument {
		t.Fatalf("expected invalid_argument, got %v", err)
	}
	if len(fc.requests) != before || fc.last(0).level != 0 {
		t.Fatal("level validation must precede hardware access")
	}
}

func TestSetGetLevel_Roundtrip(t *testing.T) {
	c, fc := newTestController(t, 4)
	if err := c.SetDirection(3, DirOutput); err != nil {
		t.Fatalf("SetDirection: %v", err)
	}
	if err := c.SetLevel(3, 1); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}
	if fc.last(3).level != 1 {
		t.Fatal("level not driven")
	}
	v, err := c.GetLevel(3)
	if err != nil || v != 1 {
		t.Fatalf("GetLevel = %d, %v", v, err)
	}
}

func TestSetLevel_NotRequested_AccessDenied(t *testing.T) {
	c, _ := newTestController(t, 4)
	if err := c.SetLevel(1, 1); errcode.Of(err) != errcode.AccessDenied {
		t.Fatalf("expected access_denied, got %v", err)
	}
}

func TestBulk_SetDirections_JoinsPerLineErrors(t *testing.T) {
	c, fc := newTestController(t, 8)
	fc.reqErr[1] = syscall.EBUSY
	fc.reqErr[5] = syscall.EBUSY
	err := c.SetDirections([]int{0, 1, 5, 6}, DirOutput)
	if err == nil {
		t.Fatal("expected joined error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "line 1") || !strings.Contains(msg, "line 5") {
		t.Fatalf("joined error missing per-line context: %q", msg)
	}
	// lines after a failure must still have been attempted
	if fc.last(6) == nil {
		t.Fatal("line 6 was not attempted after earlier failure")
	}
	if errcode.Of(err) != errcode.AccessDenied {
		t.Fatalf("expected access_denied through the join, got %v", errcode.Of(err))
	}
}

func TestBulk_SetLevels_LengthMismatch(t *testing.T) {
	c, _ := newTestController(t, 4)
	err := c.SetLevels([]int{0, 1}, []int{1})
	if errcode.Of(err) != errcode.InvalidArgument {
		t.Fatalf("expected invalid_argument, got %v", err)
	}
}

func TestBulk_GetLevels_FailedLineReadsMinusOne(t *testing.T) {
	c, _ := newTestController(t, 4)
	if err := c.SetDirection(0, DirOutput); err != nil {
		t.Fatalf("SetDirection: %v", err)
	}
	if err := c.SetLevel(0, 1); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}
	out, err := c.GetLevels([]int{0, 2})
	if err == nil {
		t.Fatal("expected error for unrequested line 2")
	}
	if out[0] != 1 || out[1] != -1 {
		t.Fatalf("unexpected levels %v", out)
	}
}

func TestSetPull_Unsupported(t *testing.T) {
	c, _ := newTestController(t, 4)
	err := c.SetPull(0, PullUp)
	if errcode.Of(err) != errcode.NotSupported {
		t.Fatalf("expected not_supported, got %v", err)
	}
	if !strings.Contains(err.Error(), "pull") {
		t.Fatalf("error does not name the capability: %q", err.Error())
	}
}

func TestSetIntrType_LevelTriggered_Unsupported(t *testing.T) {
	c, fc := newTestController(t, 4)
	for _, intr := range []IntrType{IntrHighLevel, IntrLowLevel} {
		if err := c.SetIntrType(0, intr); errcode.Of(err) != errcode.NotSupported {
			t.Fatalf("intr %d: expected not_supported, got %v", intr, err)
		}
	}
	if len(fc.requests) != 0 {
		t.Fatal("hardware was touched for an unsupported interrupt type")
	}
}

func TestCallback_DispatchedOnEdge(t *testing.T) {
	c, fc := newTestController(t, 4)
	if err := c.SetIntrType(2, IntrRisingEdge); err != nil {
		t.Fatalf("SetIntrType: %v", err)
	}
	got := make(chan int, 1)
	if err := c.SetCallback(2, func(line int) { got <- line }); err != nil {
		t.Fatalf("SetCallback: %v", err)
	}
	fc.last(2).trigger(true)
	select {
	case line := <-got:
		if line != 2 {
			t.Fatalf("callback got line %d", line)
		}
	case <-time.After(time.Second):
		t.Fatal("callback never dispatched")
	}
}

func TestCallback_RemovedByNil(t *testing.T) {
	c, fc := newTestController(t, 4)
	if err := c.SetIntrType(1, IntrAnyEdge); err != nil {
		t.Fatalf("SetIntrType: %v", err)
	}
	got := make(chan int, 4)
	if err := c.SetCallback(1, func(line int) { got <- line }); err != nil {
		t.Fatalf("SetCallback: %v", err)
	}
	if err := c.SetCallback(1, nil); err != nil {
		t.Fatalf("SetCallback nil: %v", err)
	}
	fc.last(1).trigger(true)
	select {
	case <-got:
		t.Fatal("callback fired after removal")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWaitForInterrupt_TimesOutWithoutEdge(t *testing.T) {
	c, _ := newTestController(t, 4)
	if err := c.SetIntrType(0, IntrAnyEdge); err != nil {
		t.Fatalf("SetIntrType: %v", err)
	}
	start := time.Now()
	fired, err := c.WaitForInterrupt(0, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForInterrupt: %v", err)
	}
	if fired {
		t.Fatal("reported an edge that never happened")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("returned before the timeout elapsed")
	}
}

func TestWaitForInterrupt_SeesEdge(t *testing.T) {
	c, fc := newTestController(t, 4)
	if err := c.SetIntrType(0, IntrFallingEdge); err != nil {
		t.Fatalf("SetIntrType: %v", err)
	}
	fc.last(0).trigger(false)
	fired, err := c.WaitForInterrupt(0, time.Second)
	if err != nil {
		t.Fatalf("WaitForInterrupt: %v", err)
	}
	if !fired {
		t.Fatal("expected an edge")
	}
}

func TestWaitForInterrupt_NoEdgeDetection_IoError(t *testing.T) {
	c, _ := newTestController(t, 4)
	if err := c.SetDirection(0, DirInput); err != nil {
		t.Fatalf("SetDirection: %v", err)
	}
	_, err := c.WaitForInterrupt(0, time.Millisecond)
	if errcode.Of(err) != errcode.IoError {
		t.Fatalf("expected io_error, got %v", err)
	}
}

func TestWaitForInterrupt_DebounceSuppressesCloseEdges(t *testing.T) {
	c, fc := newTestController(t, 4)
	if err := c.SetIntrType(0, IntrAnyEdge); err != nil {
		t.Fatalf("SetIntrType: %v", err)
	}
	if err := c.SetDebounce(0, 50*time.Millisecond); err != nil {
		t.Fatalf("SetDebounce: %v", err)
	}
	l := fc.last(0)
	l.trigger(true)
	l.trigger(false) // bounce, well inside the window

	fired, err := c.WaitForInterrupt(0, time.Second)
	if err != nil || !fired {
		t.Fatalf("first edge: fired=%v err=%v", fired, err)
	}
	fired, err = c.WaitForInterrupt(0, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("second edge: %v", err)
	}
	if fired {
		t.Fatal("bounce inside the debounce window was not suppressed")
	}
}

func TestCleanup_ReleasesLinesAndChip(t *testing.T) {
	fc := &fakeChip{numLines: 4, reqErr: map[int]error{}}
	c := newController(func(name string) (chipHandle, error) { return fc, nil }, nil)
	if err := c.Init("gpiochip0"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := c.SetDirection(0, DirOutput); err != nil {
		t.Fatalf("SetDirection: %v", err)
	}
	if err := c.SetCallback(0, func(int) {}); err != nil {
		t.Fatalf("SetCallback: %v", err)
	}
	c.Cleanup()
	if !fc.last(0).closed || !fc.closed {
		t.Fatal("cleanup left the line or chip open")
	}
	// idempotent
	c.Cleanup()
	if err := c.SetDirection(0, DirOutput); errcode.Of(err) != errcode.NotConfigured {
		t.Fatalf("expected not_configured after cleanup, got %v", err)
	}
}

func TestDrops_CountedWhenQueueFull(t *testing.T) {
	c, fc := newTestController(t, 4)
	if err := c.SetIntrType(0, IntrAnyEdge); err != nil {
		t.Fatalf("SetIntrType: %v", err)
	}
	// No callback registered, so the dispatch queue is never drained.
	l := fc.last(0)
	for i := 0; i < 10*eventBacklog; i++ {
		l.trigger(i%2 == 0)
	}
	if c.Drops() == 0 {
		t.Fatal("expected drops once the per-line queue overflowed")
	}
}

func TestErrorString_CoversCodes(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "success"},
		{errcode.Wrap(errcode.NotFound, "t", errors.New("x")), "GPIO not found"},
		{errcode.Unsupported("x"), "operation not supported"},
		{errors.New("plain"), "unknown error"},
	}
	for _, tc := range cases {
		if got := ErrorString(tc.err); got != tc.want {
			t.Errorf("ErrorString(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
