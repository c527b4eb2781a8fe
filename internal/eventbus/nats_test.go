package eventbus

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/friendsincode/relaydesk/internal/events"
	"github.com/rs/zerolog"
)

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	bodies   [][]byte
	notify   chan struct{}
}

func (p *recordingPublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	p.subjects = append(p.subjects, subject)
	p.bodies = append(p.bodies, data)
	p.mu.Unlock()
	p.notify <- struct{}{}
	return nil
}

func TestForwarderPublishesSessionEvents(t *testing.T) {
	bus := events.NewBus()
	pub := &recordingPublisher{notify: make(chan struct{}, 64)}
	fwd := NewNATSForwarder(pub, bus, "", zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		fwd.Run(ctx)
		close(done)
	}()

	// Subscriptions are registered asynchronously; publish until one lands.
	deadline := time.After(2 * time.Second)
	for delivered := false; !delivered; {
		bus.Publish(events.EventSessionCreated, events.Payload{"session_code": "123456789"})
		select {
		case <-pub.notify:
			delivered = true
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatal("event never forwarded")
		}
	}

	cancel()
	<-done

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if pub.subjects[0] != "relaydesk.events.session.created" {
		t.Fatalf("unexpected subject %q", pub.subjects[0])
	}
	msg, err := unmarshalNATSMessage(pub.bodies[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.EventType != events.EventSessionCreated || msg.Payload["session_code"] != "123456789" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.MessageID == "" || !strings.Contains(msg.NodeID, "-") {
		t.Fatalf("expected message and node ids, got %+v", msg)
	}
}
