package mock

import (
	"context"
	"testing"
	"time"

	"github.com/storekeeper/scanbridge/internal/clock"
	"github.com/storekeeper/scanbridge/internal/inventory"
	"github.com/storekeeper/scanbridge/internal/keyboard"
	"github.com/storekeeper/scanbridge/internal/logging"
)

func classify(t *testing.T, events []keyboard.KeyEvent) []string {
	t.Helper()
	clk := clock.NewFake(time.Unix(0, 0))
	c := keyboard.NewClassifier(keyboard.Options{
		FastThreshold: 50 * time.Millisecond,
		MinLength:     4,
		MinFastKeys:   3,
		FlushWindow:   100 * time.Millisecond,
	}, clk, nil)
	var got []string
	for _, ev := range events {
		if bc, ok := c.ProcessKeyEvent(ev); ok {
			got = append(got, bc.Text)
		}
	}
	return got
}

func TestTypeAtScannerSpeedIsClassified(t *testing.T) {
	events := Type("8801043015653\n", time.Unix(100, 0), scannerGap, DeviceName)
	if len(events) != 2*14 {
		t.Fatalf("got %d events, want 28", len(events))
	}
	got := classify(t, events)
	if len(got) != 1 || got[0] != "8801043015653" {
		t.Fatalf("classified %v", got)
	}
}

func TestTypeAtHumanSpeedIsRejected(t *testing.T) {
	if got := classify(t, Type("receipt\n", time.Unix(100, 0), humanGap, DeviceName)); len(got) != 0 {
		t.Fatalf("human typing classified as %v", got)
	}
}

func TestGeneratorSequence(t *testing.T) {
	g := NewGenerator([]string{"1111", "-2222"}, time.Second, clock.NewFake(time.Unix(0, 0)), logging.Discard())

	var got []string
	for i := 0; i < 8; i++ {
		got = append(got, classify(t, g.next())...)
	}
	// Ticks 4 and 8 are human words; the rest alternate the barcodes.
	want := []string{"1111", "-2222", "1111", "-2222", "1111", "-2222"}
	if len(got) != len(want) {
		t.Fatalf("classified %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("classified %v, want %v", got, want)
		}
	}
}

func TestGeneratorRunStopsOnCancel(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	g := NewGenerator([]string{"8801043015653"}, time.Second, clk, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan keyboard.KeyEvent, 64)
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx, out) }()

	// Advance until the ticker is registered and fires.
	deadline := time.Now().Add(2 * time.Second)
	for len(out) == 0 && time.Now().Before(deadline) {
		clk.Advance(time.Second)
		time.Sleep(5 * time.Millisecond)
	}
	if len(out) == 0 {
		t.Fatal("no key events produced")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestGeneratorRequiresBarcodes(t *testing.T) {
	g := NewGenerator(nil, time.Second, nil, logging.Discard())
	if err := g.Run(context.Background(), make(chan keyboard.KeyEvent)); err == nil {
		t.Fatal("Run with no barcodes succeeded")
	}
}

func TestSeedInventory(t *testing.T) {
	mem := inventory.NewMemoryBackend("demo")
	SeedInventory(mem, []string{"8801043015653", "-4006381333931", " "})

	if q := mem.Quantity("8801043015653"); q != 40 {
		t.Errorf("demo item quantity = %d, want 40", q)
	}
	if q := mem.Quantity("4006381333931"); q != 20 {
		t.Errorf("configured barcode quantity = %d, want 20", q)
	}
}
