package s1

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/etalazz/vsm/internal/breaker"
	"github.com/etalazz/vsm/internal/eventbus"
	"github.com/etalazz/vsm/internal/hlc"
	"github.com/etalazz/vsm/internal/ratelimit"
	"github.com/etalazz/vsm/internal/variety"
	"github.com/etalazz/vsm/internal/vsmerr"
)

func newTestUnit(t *testing.T) (*Unit, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New(hlc.New("test"))
	cb := breaker.New(breaker.Config{FailureThreshold: 100, RecoveryTime: time.Second, Timeout: time.Second}, nil)
	limiter := ratelimit.New("s1", ratelimit.Config{Capacity: 1000, RefillRate: 1000})
	outCh := variety.New(variety.Config{ChannelType: variety.S1ToS2, Transform: variety.AttenuationTransform(5)})
	return New("unit-1", cb, limiter, outCh, bus), bus
}

func TestProcessRequest_Success(t *testing.T) {
	u, _ := newTestUnit(t)
	res := u.ProcessRequest(context.Background(), Request{
		Handle: func(ctx context.Context) (any, error) { return "done", nil },
	})
	if !res.OK || res.Result != "done" {
		t.Fatalf("expected success, got %+v", res)
	}
}

func TestProcessRequest_HandlerErrorPropagates(t *testing.T) {
	u, _ := newTestUnit(t)
	wantErr := errors.New("boom")
	res := u.ProcessRequest(context.Background(), Request{
		Handle: func(ctx context.Context) (any, error) { return nil, wantErr },
	})
	if res.OK || !errors.Is(res.Reason, wantErr) {
		t.Fatalf("expected handler error to propagate, got %+v", res)
	}
}

func TestProcessRequest_EmergencyStopRejectsImmediately(t *testing.T) {
	u, _ := newTestUnit(t)
	u.EmergencyStop()
	res := u.ProcessRequest(context.Background(), Request{
		Handle: func(ctx context.Context) (any, error) { return "x", nil },
	})
	if res.OK {
		t.Fatal("expected emergency_stop to reject requests")
	}
}

func TestProcessRequest_RateLimited(t *testing.T) {
	bus := eventbus.New(hlc.New("test"))
	cb := breaker.New(breaker.Config{FailureThreshold: 100, RecoveryTime: time.Second, Timeout: time.Second}, nil)
	limiter := ratelimit.New("s1", ratelimit.Config{Capacity: 1, RefillRate: 0})
	outCh := variety.New(variety.Config{ChannelType: variety.S1ToS2, Transform: variety.AttenuationTransform(5)})
	u := New("unit-2", cb, limiter, outCh, bus)

	ok := u.ProcessRequest(context.Background(), Request{Handle: func(ctx context.Context) (any, error) { return nil, nil }})
	if !ok.OK {
		t.Fatalf("expected first request to succeed, got %+v", ok)
	}
	limited := u.ProcessRequest(context.Background(), Request{Handle: func(ctx context.Context) (any, error) { return nil, nil }})
	if !errors.Is(limited.Reason, vsmerr.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %+v", limited)
	}
}

func TestHealthTick_PublishesHealthAndVariety(t *testing.T) {
	u, bus := newTestUnit(t)
	sub, _ := bus.Subscribe("s1_health")
	u.ProcessRequest(context.Background(), Request{Handle: func(ctx context.Context) (any, error) { return nil, nil }})
	u.healthTick()

	select {
	case ev := <-sub.Events():
		if _, ok := ev.Data["health"]; !ok {
			t.Fatalf("expected health field in event, got %+v", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("expected s1_health event")
	}
}

func TestThrottleThenResume(t *testing.T) {
	u, _ := newTestUnit(t)
	u.Throttle()
	if u.GetState().ControlMode != Throttled {
		t.Fatal("expected throttled mode")
	}
	u.Resume()
	if u.GetState().ControlMode != Normal {
		t.Fatal("expected resume to restore normal mode")
	}
}
