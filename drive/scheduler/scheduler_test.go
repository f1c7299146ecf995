package scheduler

import "testing"

func TestSSTFOrdering(t *testing.T) {
	pending := map[int]bool{10: true, 22: true, 2: true}
	p := ForKind(SSTF)

	cyl, _, cost := p.Next(0, Up, pending, 64)
	if cyl != 2 || cost != 2 {
		t.Fatalf("first pick = (%d,%d), want (2,2)", cyl, cost)
	}
	delete(pending, cyl)

	cyl, _, cost = p.Next(2, Up, pending, 64)
	if cyl != 10 || cost != 8 {
		t.Fatalf("second pick = (%d,%d), want (10,8)", cyl, cost)
	}
	delete(pending, cyl)

	cyl, _, cost = p.Next(10, Up, pending, 64)
	if cyl != 22 || cost != 12 {
		t.Fatalf("third pick = (%d,%d), want (22,12)", cyl, cost)
	}
}

func TestSCANReversesAtEnd(t *testing.T) {
	pending := map[int]bool{5: true, 2: true}
	p := ForKind(SCAN)
	// head at 10 moving up, nothing above it pending: must swing to the
	// platter end (63) and back down to 5.
	cyl, dir, cost := p.Next(10, Up, pending, 64)
	if cyl != 5 || dir != Down {
		t.Fatalf("got (%d,%v), want (5,Down)", cyl, dir)
	}
	wantCost := (63 - 10) + (63 - 5)
	if cost != wantCost {
		t.Fatalf("cost = %d, want %d", cost, wantCost)
	}
}

func TestCLOOKWrapsWithoutOvershoot(t *testing.T) {
	pending := map[int]bool{3: true, 40: true}
	p := ForKind(CLOOK)
	cyl, dir, cost := p.Next(50, Up, pending, 64)
	if cyl != 3 || dir != Up {
		t.Fatalf("got (%d,%v), want (3,Up)", cyl, dir)
	}
	if cost != 47 {
		t.Fatalf("cost = %d, want 47", cost)
	}
}

func TestLOOKNoOvershoot(t *testing.T) {
	pending := map[int]bool{5: true}
	p := ForKind(LOOK)
	cyl, dir, cost := p.Next(10, Up, pending, 64)
	if cyl != 5 || dir != Down || cost != 5 {
		t.Fatalf("got (%d,%v,%d), want (5,Down,5)", cyl, dir, cost)
	}
}
