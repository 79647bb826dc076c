package metrics

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector()

	c.ConnectionStart("10.0.0.1:1234")
	c.ConnectionStart("10.0.0.2:1234")
	c.ConnectionStop("10.0.0.1:1234")
	c.ConnectionError("10.0.0.2:1234", errors.New("reset"))
	c.MessageReceived("app.access")
	c.MessageReceived("app.access")
	c.MessageReceived("app.error")
	c.EventHandled()
	c.EventHandled()
	c.EventHandled()
	c.AckSent()

	s := c.Snapshot()

	if s.ConnectionsStarted != 2 {
		t.Errorf("ConnectionsStarted = %d, want 2", s.ConnectionsStarted)
	}
	if s.ConnectionsStopped != 1 {
		t.Errorf("ConnectionsStopped = %d, want 1", s.ConnectionsStopped)
	}
	if s.ConnectionErrors != 1 {
		t.Errorf("ConnectionErrors = %d, want 1", s.ConnectionErrors)
	}
	if s.MessagesReceived != 3 {
		t.Errorf("MessagesReceived = %d, want 3", s.MessagesReceived)
	}
	if s.EventsHandled != 3 {
		t.Errorf("EventsHandled = %d, want 3", s.EventsHandled)
	}
	if s.AcksSent != 1 {
		t.Errorf("AcksSent = %d, want 1", s.AcksSent)
	}
	if s.Tags["app.access"] != 2 {
		t.Errorf("Tags[app.access] = %d, want 2", s.Tags["app.access"])
	}
	if s.Tags["app.error"] != 1 {
		t.Errorf("Tags[app.error] = %d, want 1", s.Tags["app.error"])
	}
}

func TestCollector_SnapshotImmutability(t *testing.T) {
	c := NewCollector()
	c.MessageReceived("app.a")

	s1 := c.Snapshot()

	// Mutate collector after snapshot
	c.MessageReceived("app.a")
	c.EventHandled()

	if s1.MessagesReceived != 1 {
		t.Errorf("s1.MessagesReceived = %d, want 1 (snapshot should be frozen)", s1.MessagesReceived)
	}
	if s1.EventsHandled != 0 {
		t.Errorf("s1.EventsHandled = %d, want 0 (snapshot should be frozen)", s1.EventsHandled)
	}

	s2 := c.Snapshot()
	if s2.MessagesReceived != 2 {
		t.Errorf("s2.MessagesReceived = %d, want 2", s2.MessagesReceived)
	}
}

func TestCollector_SnapshotTagIsolation(t *testing.T) {
	c := NewCollector()
	c.MessageReceived("app.a")

	s := c.Snapshot()
	s.Tags["app.a"] = 999
	s.Tags["injected"] = 1

	s2 := c.Snapshot()
	if s2.Tags["app.a"] != 1 {
		t.Errorf("Tags[app.a] = %d, want 1 (collector should be isolated from snapshot mutation)", s2.Tags["app.a"])
	}
	if _, exists := s2.Tags["injected"]; exists {
		t.Error("Tags should not contain injected key from snapshot mutation")
	}
}

func TestCollector_TagOverflowFoldsIntoOther(t *testing.T) {
	c := NewCollector()

	for i := range maxTrackedTags {
		c.MessageReceived(fmt.Sprintf("tag.%d", i))
	}
	c.MessageReceived("tag.one-too-many")
	c.MessageReceived("tag.another")
	// An already-tracked tag keeps counting under its own name.
	c.MessageReceived("tag.0")

	s := c.Snapshot()
	if s.Tags[overflowTag] != 2 {
		t.Errorf("Tags[%s] = %d, want 2", overflowTag, s.Tags[overflowTag])
	}
	if s.Tags["tag.0"] != 2 {
		t.Errorf("Tags[tag.0] = %d, want 2", s.Tags["tag.0"])
	}
	if _, exists := s.Tags["tag.one-too-many"]; exists {
		t.Error("overflow tag should not be tracked by name")
	}
	if s.MessagesReceived != int64(maxTrackedTags)+3 {
		t.Errorf("MessagesReceived = %d, want %d", s.MessagesReceived, maxTrackedTags+3)
	}
}

func TestCollector_NilReceiverSafety(t *testing.T) {
	var c *Collector

	// None of these should panic
	c.ConnectionStart("addr")
	c.ConnectionStop("addr")
	c.ConnectionError("addr", errors.New("boom"))
	c.MessageReceived("tag")
	c.EventHandled()
	c.AckSent()

	s := c.Snapshot()
	if s.MessagesReceived != 0 {
		t.Errorf("nil collector snapshot = %+v", s)
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				c.ConnectionStart("addr")
				c.MessageReceived("app.concurrent")
				c.EventHandled()
				c.AckSent()
				c.ConnectionStop("addr")
				_ = c.Snapshot()
			}
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	if s.MessagesReceived != 800 {
		t.Errorf("MessagesReceived = %d, want 800", s.MessagesReceived)
	}
	if s.Tags["app.concurrent"] != 800 {
		t.Errorf("Tags[app.concurrent] = %d, want 800", s.Tags["app.concurrent"])
	}
}
