package progress

import (
	"context"
	"fmt"
	"time"
)

type exampleCountingSink struct {
	total int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	s.total += len(batch)
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting an event and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(HubConfig{
		QueueDepth:    4,
		FlushEvents:   1,
		FlushInterval: time.Second,
	}, sink)

	hub.Emit(Event{
		TrackID: 1,
		TS:      time.Unix(0, 0),
		Kind:    KindStarted,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("events forwarded: %d\n", sink.total)
	// Output:
	// events forwarded: 1
}

// ExampleSink implements a custom Sink that totals finished transfer bytes.
func ExampleSink() {
	type bytesSink struct {
		bytes int64
	}
	var s bytesSink
	capture := sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			if evt.Kind == KindFinished {
				s.bytes += evt.BytesDownloaded
			}
		}
		return nil
	})
	hub := NewHub(HubConfig{
		QueueDepth:    2,
		FlushEvents:   1,
		FlushInterval: time.Second,
	}, capture)

	hub.Emit(Event{
		TrackID:         2,
		TS:              time.Unix(0, 0),
		Kind:            KindFinished,
		Progress:        99,
		BytesDownloaded: 512,
		TotalBytes:      512,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("bytes finished: %d\n", s.bytes)
	// Output:
	// bytes finished: 512
}

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}
