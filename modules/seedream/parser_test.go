package seedream

import (
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"testing/iotest"
)

const sampleStream = "data: {\"type\":\"image_generation.partial_succeeded\",\"url\":\"https://cdn.example/a.png\",\"size\":\"2048x2048\"}\n\n" +
	"data: {\"type\":\"image_generation.partial_failed\",\"error\":{\"code\":\"OutputImageSensitiveContentDetected\",\"message\":\"sensitive content\"}}\n\n" +
	"data: {\"type\":\"image_generation.partial_succeeded\",\"url\":\"https://cdn.example/b.png\",\"size\":\"2048x2048\"}\n\n" +
	"data: {\"type\":\"image_generation.completed\",\"usage\":{\"generated_images\":2,\"total_tokens\":32768}}\n\n" +
	"data: [DONE]\n\n"

func collect(t *testing.T, r io.Reader) []Event {
	t.Helper()
	var events []Event
	if err := NewStreamParser().Parse(r, func(ev Event) {
		events = append(events, ev)
	}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return events
}

func TestStreamParser_Events(t *testing.T) {
	events := collect(t, strings.NewReader(sampleStream))

	if len(events) != 4 {
		t.Fatalf("got %d events, want 4: %+v", len(events), events)
	}

	wantKinds := []EventKind{EventImage, EventError, EventImage, EventCompleted}
	for i, ev := range events {
		if ev.Kind != wantKinds[i] {
			t.Errorf("event %d kind = %s, want %s", i, ev.Kind, wantKinds[i])
		}
	}

	// success and failure share one local counter
	if events[0].Index != 0 || events[1].Index != 1 || events[2].Index != 2 {
		t.Errorf("local indices = %d,%d,%d, want 0,1,2", events[0].Index, events[1].Index, events[2].Index)
	}
	if events[0].Image.URL != "https://cdn.example/a.png" || events[0].Image.Size != "2048x2048" {
		t.Errorf("first image = %+v", events[0].Image)
	}
	if events[2].Image.Index != 2 {
		t.Errorf("second image index = %d, want 2", events[2].Image.Index)
	}
	if events[1].Message != "sensitive content" {
		t.Errorf("error message = %q", events[1].Message)
	}
	if events[3].Usage == nil || events[3].Usage.GeneratedImages != 2 || events[3].Usage.TotalTokens != 32768 {
		t.Errorf("usage = %+v", events[3].Usage)
	}
}

func TestStreamParser_ChunkBoundaryIndependence(t *testing.T) {
	want := collect(t, strings.NewReader(sampleStream))

	for offset := 1; offset < len(sampleStream); offset++ {
		r := io.MultiReader(
			strings.NewReader(sampleStream[:offset]),
			strings.NewReader(sampleStream[offset:]),
		)
		got := collect(t, r)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("split at %d: got %+v, want %+v", offset, got, want)
		}
	}

	t.Run("one byte at a time", func(t *testing.T) {
		got := collect(t, iotest.OneByteReader(strings.NewReader(sampleStream)))
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	})
}

func TestStreamParser_DropsNoise(t *testing.T) {
	stream := ": keep-alive\n" +
		"event: message\n" +
		"data: {not json\n" +
		"data:\n" +
		"data: {\"type\":\"something.else\"}\n" +
		"data:{\"type\":\"image_generation.partial_succeeded\",\"url\":\"u\",\"size\":\"2K\"}\r\n"

	events := collect(t, strings.NewReader(stream))
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1: %+v", len(events), events)
	}
	if events[0].Kind != EventImage || events[0].Index != 0 || events[0].Image.URL != "u" {
		t.Errorf("event = %+v", events[0])
	}
}

func TestStreamParser_FailureFallbackAndSynthesizedUsage(t *testing.T) {
	stream := "data: {\"type\":\"image_generation.partial_failed\"}\n" +
		"data: {\"type\":\"image_generation.partial_succeeded\",\"url\":\"u\",\"size\":\"2K\"}\n" +
		"data: {\"type\":\"image_generation.completed\"}\n"

	events := collect(t, strings.NewReader(stream))
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Message != DefaultImageFailure {
		t.Errorf("fallback message = %q", events[0].Message)
	}
	if events[1].Index != 1 {
		t.Errorf("image index = %d, want 1", events[1].Index)
	}
	usage := events[2].Usage
	if usage == nil || usage.GeneratedImages != 1 || usage.TotalTokens != TokensPerImage {
		t.Errorf("synthesized usage = %+v", usage)
	}
}

func TestStreamParser_ReadError(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(
		strings.NewReader("data: {\"type\":\"image_generation.partial_succeeded\",\"url\":\"u\",\"size\":\"2K\"}\n"),
		iotest.ErrReader(boom),
	)

	var events []Event
	err := NewStreamParser().Parse(r, func(ev Event) { events = append(events, ev) })
	if !errors.Is(err, boom) {
		t.Fatalf("Parse() error = %v, want %v", err, boom)
	}
	if len(events) != 1 {
		t.Errorf("events emitted before the error = %d, want 1", len(events))
	}
}
