package events

import (
	"testing"
)

func TestBusPublishSubscribe(t *testing.T) {
	b := NewBus(4)
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(FillEvent{})
	b.Publish(DepositEvent{})

	if _, ok := (<-ch).(FillEvent); !ok {
		t.Fatalf("first event is not FillEvent")
	}
	if _, ok := (<-ch).(DepositEvent); !ok {
		t.Fatalf("second event is not DepositEvent")
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	b := NewBus(1)
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(1)
	b.Publish(2) // 缓冲已满，该条被丢弃而不是阻塞发布方
	b.Publish(3)

	if got := <-ch; got != 1 {
		t.Fatalf("got %v, want 1", got)
	}
	select {
	case evt := <-ch:
		t.Fatalf("unexpected buffered event %v", evt)
	default:
	}
}

func TestBusCancelAndClose(t *testing.T) {
	b := NewBus(2)
	ch1, cancel1 := b.Subscribe()
	ch2, _ := b.Subscribe()

	cancel1()
	cancel1() // 重复取消不 panic
	if _, open := <-ch1; open {
		t.Fatalf("canceled channel still open")
	}

	b.Publish("x")
	if got := <-ch2; got != "x" {
		t.Fatalf("remaining subscriber got %v", got)
	}

	b.Close()
	if _, open := <-ch2; open {
		t.Fatalf("channel open after bus close")
	}
	b.Publish("after-close") // 关闭后发布为空操作
	if ch3, _ := b.Subscribe(); func() bool { _, open := <-ch3; return open }() {
		t.Fatalf("subscribe after close returned open channel")
	}
}
