package sse

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe("confessions")
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe("teacher-ratings")
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "snapshot", Topic: "teacher-ratings", Data: map[string]string{"checksum": "abc"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: snapshot") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"checksum":"abc"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishTopicFiltering(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ratings := b.Subscribe("teacher-ratings")
	all := b.Subscribe("")
	defer b.Unsubscribe(ratings)
	defer b.Unsubscribe(all)

	b.Publish(Event{Type: "snapshot", Topic: "confessions", Data: 1})
	b.Publish(Event{Type: "snapshot", Topic: "teacher-ratings", Data: 2})
	time.Sleep(50 * time.Millisecond)

	if n := len(ratings); n != 1 {
		t.Errorf("ratings subscriber got %d events, want 1", n)
	}
	if n := len(all); n != 2 {
		t.Errorf("catch-all subscriber got %d events, want 2", n)
	}
}

func TestSSEHandlerSendsInitialSnapshot(t *testing.T) {
	var asked string
	b := NewBroker(time.Second, WithInitial(func(topic string) (Event, error) {
		asked = topic
		return Event{Type: "snapshot", Topic: topic, Data: map[string]int{"records": 0}}, nil
	}))
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events?collection=confessions", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Publish(Event{Type: "snapshot", Topic: "confessions", Data: map[string]int{"records": 1}})
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	if asked != "confessions" {
		t.Errorf("initial topic = %q", asked)
	}
	body := w.Body.String()
	first := strings.Index(body, `{"records":0}`)
	second := strings.Index(body, `{"records":1}`)
	if first < 0 || second < 0 || first > second {
		t.Errorf("handler output missing ordered snapshots: %q", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestSSEHandlerRejectsUnknownTopic(t *testing.T) {
	b := NewBroker(time.Second, WithInitial(func(topic string) (Event, error) {
		return Event{}, errors.New("unknown collection")
	}))
	defer b.Close()

	w := httptest.NewRecorder()
	b.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/events?collection=nope", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if b.ClientCount() != 0 {
		t.Error("rejected client was subscribed")
	}
}

func TestKeepAlive(t *testing.T) {
	b := NewBroker(20 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	w := httptest.NewRecorder()
	b.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx))

	if !strings.Contains(w.Body.String(), ": ping") {
		t.Errorf("no keep-alive in %q", w.Body.String())
	}
}

func TestPublishDisconnectsSlowClient(t *testing.T) {
	b := NewBroker(time.Second, WithBuffer(4))
	defer b.Close()
	slow := b.Subscribe("")
	defer b.Unsubscribe(slow)

	for i := 0; i < 10; i++ {
		b.Publish(Event{Type: "test", Data: map[string]int{"i": i}})
	}

	deadline := time.Now().Add(time.Second)
	for b.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("slow client was not dropped")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// What was buffered is still delivered, then the stream ends.
	got := 0
	for range slow {
		got++
	}
	if got != 4 {
		t.Errorf("delivered = %d, want 4", got)
	}

	// A new subscriber is unaffected.
	fresh := b.Subscribe("")
	defer b.Unsubscribe(fresh)
	b.Publish(Event{Type: "test", Data: "latest"})
	select {
	case msg, ok := <-fresh:
		if !ok || !strings.Contains(string(msg), "latest") {
			t.Errorf("fresh subscriber got %q, %v", msg, ok)
		}
	case <-time.After(time.Second):
		t.Fatal("fresh subscriber got nothing")
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(time.Second)
	ch := b.Subscribe("")
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish(Event{Type: "snapshot", Data: 1})
	if _, ok := <-b.Subscribe("x"); ok {
		t.Error("subscribe after close should return a closed channel")
	}
}
