package variety

import (
	"testing"
	"time"
)

func TestChannel_TransmitReceiveFIFO(t *testing.T) {
	c := New(Config{ChannelType: S3ToS4, Capacity: 10, Transform: AuditSynthesisTransform()})
	defer c.Close()

	if err := c.Transmit(Packet{Type: Audit, Volume: 1}, Packet{Type: Audit, Volume: 2}); err != nil {
		t.Fatal(err)
	}
	p1, err := c.Receive()
	if err != nil || p1.Volume != 1 {
		t.Fatalf("expected first packet volume=1, got %+v err=%v", p1, err)
	}
	p2, _ := c.Receive()
	if p2.Volume != 2 {
		t.Fatalf("expected FIFO order, got %+v", p2)
	}
}

func TestChannel_OverflowDropsOldest(t *testing.T) {
	c := New(Config{ChannelType: S2ToS3, Capacity: 2, Transform: AuditSynthesisTransform()})
	defer c.Close()

	_ = c.Transmit(Packet{Volume: 1}, Packet{Volume: 2}, Packet{Volume: 3})
	stats := c.GetChannelStats()
	if stats.CurrentFlow != 2 {
		t.Fatalf("expected current_flow<=capacity=2, got %d", stats.CurrentFlow)
	}
	if stats.Dropped != 1 {
		t.Fatalf("expected 1 drop, got %d", stats.Dropped)
	}
	first, _ := c.Receive()
	if first.Volume != 2 {
		t.Fatalf("expected oldest (volume=1) dropped, next should be volume=2, got %+v", first)
	}
}

func TestAggregationTransform_CollapsesToSummary(t *testing.T) {
	xf := AggregationTransform()
	out := xf([]Packet{{Volume: 3, Patterns: []string{"a"}}, {Volume: 4, Patterns: []string{"a", "b"}}})
	if len(out) != 1 {
		t.Fatalf("expected single summary packet, got %d", len(out))
	}
	if out[0].Volume != 7 {
		t.Fatalf("expected summed volume 7, got %d", out[0].Volume)
	}
	if len(out[0].Patterns) != 2 {
		t.Fatalf("expected deduped patterns [a b], got %v", out[0].Patterns)
	}
}

func TestAttenuationTransform_KeepsTopN(t *testing.T) {
	xf := AttenuationTransform(2)
	out := xf([]Packet{{Volume: 1}, {Volume: 9}, {Volume: 5}})
	if len(out) != 2 {
		t.Fatalf("expected top-2, got %d", len(out))
	}
	if out[0].Volume != 9 || out[1].Volume != 5 {
		t.Fatalf("expected highest-volume first, got %+v", out)
	}
}

type fakePainSink struct {
	calls int
	last  float64
}

func (f *fakePainSink) ReportOverflow(channel ChannelType, intensity float64) {
	f.calls++
	f.last = intensity
}

func TestChannel_SustainedOverflowReportsPain(t *testing.T) {
	sink := &fakePainSink{}
	c := New(Config{ChannelType: S1ToS2, Capacity: 1, Transform: AuditSynthesisTransform(), Pain: sink, OverflowT: 50 * time.Millisecond})
	defer c.Close()

	deadline := time.After(time.Second)
	for sink.calls == 0 {
		_ = c.Transmit(Packet{Volume: 1}, Packet{Volume: 2})
		select {
		case <-deadline:
			t.Fatal("expected a pain report under sustained overflow")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
