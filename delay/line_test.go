package delay

import "testing"

func TestLineDelaysByN(t *testing.T) {
	l, err := New(3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	buf := []float32{1, 2, 3, 4, 5, 6}
	l.Run(buf)

	want := []float32{0, 0, 0, 1, 2, 3}
	for i := range buf {
		if buf[i] != want[i] {
			t.Fatalf("index %d: got %v, want %v", i, buf[i], want[i])
		}
	}

	// Continuity across calls.
	buf2 := []float32{7, 8}
	l.Run(buf2)
	if buf2[0] != 4 || buf2[1] != 5 {
		t.Fatalf("second block = %v, want [4 5]", buf2)
	}
}

func TestLineZeroDelayPassesThrough(t *testing.T) {
	l, err := New(0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	buf := []float32{1, -1, 0.5}
	l.Run(buf)
	if buf[0] != 1 || buf[1] != -1 || buf[2] != 0.5 {
		t.Fatalf("zero delay altered the signal: %v", buf)
	}
}

func TestLineClear(t *testing.T) {
	l, err := New(2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Run([]float32{1, 2, 3})

	l.Clear()
	buf := []float32{0, 0}
	l.Run(buf)
	if buf[0] != 0 || buf[1] != 0 {
		t.Fatalf("history not cleared: %v", buf)
	}
}

func TestLineNegativeLength(t *testing.T) {
	if _, err := New(-1); err == nil {
		t.Fatal("expected error for negative delay")
	}
}
