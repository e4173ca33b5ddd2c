package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	ncerr "tcptunnel/internal/errors"
)

// fakeClock is advanced by hand.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(max int, cooldown time.Duration) (*breaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	b := newBreaker(max, cooldown)
	b.now = clock.now
	return b, clock
}

var errDown = fmt.Errorf("connection refused")

func TestBreaker_StaysClosedOnSuccess(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute)
	for i := 0; i < 5; i++ {
		if _, ok := b.allow(); !ok {
			t.Fatal("closed breaker rejected an attempt")
		}
		b.record(nil)
	}
	if b.current() != breakerClosed {
		t.Errorf("state = %s, want closed", b.current())
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	b.record(errDown)
	b.record(errDown)
	b.record(nil)
	b.record(errDown)
	if b.current() != breakerClosed || b.consecutiveFailures() != 1 {
		t.Errorf("state = %s failures = %d", b.current(), b.consecutiveFailures())
	}
}

func TestBreaker_OpensAndRecovers(t *testing.T) {
	b, clock := newTestBreaker(2, time.Minute)
	var transitions []string
	b.onChange = func(from, to breakerState) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}

	b.record(errDown)
	b.record(errDown)
	if b.current() != breakerOpen {
		t.Fatalf("state = %s after 2 failures, want open", b.current())
	}

	clock.advance(20 * time.Second)
	wait, ok := b.allow()
	if ok {
		t.Fatal("open breaker let an attempt through")
	}
	if wait != 40*time.Second {
		t.Errorf("wait = %v, want 40s", wait)
	}

	clock.advance(41 * time.Second)
	if _, ok := b.allow(); !ok {
		t.Fatal("breaker did not allow a probe after the cooldown")
	}
	if b.current() != breakerHalfOpen {
		t.Fatalf("state = %s, want half-open", b.current())
	}
	b.record(nil)

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if fmt.Sprint(transitions) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", transitions, want)
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, clock := newTestBreaker(5, time.Minute)
	for i := 0; i < 5; i++ {
		b.record(errDown)
	}
	clock.advance(time.Minute + time.Second)
	if _, ok := b.allow(); !ok {
		t.Fatal("expected a probe")
	}
	b.record(errDown)
	if b.current() != breakerOpen {
		t.Fatalf("state = %s, want open after a failed probe", b.current())
	}
	if wait, ok := b.allow(); ok || wait != time.Minute {
		t.Errorf("allow() = %v, %v; want a full new cooldown", wait, ok)
	}
}

func TestBreakerState_String(t *testing.T) {
	for s, want := range map[breakerState]string{
		breakerClosed:   "closed",
		breakerOpen:     "open",
		breakerHalfOpen: "half-open",
		breakerState(9): "unknown",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), want)
		}
	}
}

// TestSSHDialer_MarksJumpHostDown checks that repeated connect failures
// stop further handshakes until the cooldown ends.
func TestSSHDialer_MarksJumpHostDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	ln.Close()
	port, _ := strconv.Atoi(portStr)

	keyPath, _ := writeClientKey(t, t.TempDir())
	d := NewSSHDialer(JumpConfig{
		User:        "tester",
		Host:        "127.0.0.1",
		Port:        port,
		KeyPath:     keyPath,
		ConnTimeout: time.Second,
		MaxFailures: 2,
		Cooldown:    time.Hour,
	}, nil)

	for i := 0; i < 2; i++ {
		err := d.Connect(context.Background())
		var ne *ncerr.NetworkError
		if !errors.As(err, &ne) || ne.Op != "dial" {
			t.Fatalf("attempt %d: err = %v, want dial NetworkError", i+1, err)
		}
	}

	_, err = d.Dial(context.Background(), "tcp", "10.0.0.1:80")
	if !errors.Is(err, ncerr.ErrJumpHostDown) {
		t.Fatalf("err = %v, want ErrJumpHostDown", err)
	}
	var se *ncerr.SSHError
	if !errors.As(err, &se) || se.Op != "connect" {
		t.Errorf("err = %v, want connect SSHError", err)
	}
}
