package invalidation

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/IBM/sarama/mocks"
)

func TestPublisher_SendsJSONKeyedByRaster(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, nil)
	prod.ExpectInputWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev Event
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.RasterID != "0a1b2c3d4e5f" || ev.Op != OpRetire || ev.Source != "node-a" {
			return fmt.Errorf("unexpected event %+v", ev)
		}
		return nil
	})

	p := NewPublisherWithProducer(prod, "zonal-invalidation", 4, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.Publish(Event{Version: 1, Op: OpRetire, RasterID: "0a1b2c3d4e5f", Source: "node-a", TS: mustTS()})
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPublisher_DropsWhenQueueFull(t *testing.T) {
	p := &Publisher{events: make(chan Event, 1), logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	p.Publish(Event{RasterID: "a"})
	p.Publish(Event{RasterID: "b"})
	if len(p.events) != 1 {
		t.Fatalf("queue len=%d want 1", len(p.events))
	}
	if ev := <-p.events; ev.RasterID != "a" {
		t.Fatalf("kept %q, want the first event", ev.RasterID)
	}
}
