package dedup

import (
	"sync"
	"testing"
	"time"

	"github.com/goodtune/kpark/internal/clock"
	"github.com/goodtune/kpark/internal/plate"
	"github.com/rs/zerolog"
)

var t0 = time.Date(2024, 1, 15, 9, 0, 0, 0, time.Local)

func newTestFilter(t *testing.T, cfg Config) *Filter {
	t.Helper()
	f, err := NewFilter("test", cfg)
	if err != nil {
		t.Fatalf("NewFilter failed: %v", err)
	}
	return f
}

func TestFilter_AdmitWindow(t *testing.T) {
	f := newTestFilter(t, Config{Window: 30 * time.Second})
	key := plate.MustNormalize("AB12CDE")

	tests := []struct {
		offset time.Duration
		want   bool
	}{
		{0, true},
		{10 * time.Second, false},
		{31 * time.Second, true},
		{45 * time.Second, false},
		{61 * time.Second, true},
	}

	for _, tt := range tests {
		if got := f.Admit(key, t0.Add(tt.offset)); got != tt.want {
			t.Errorf("Admit(t=%v) = %v, want %v", tt.offset, got, tt.want)
		}
	}
}

func TestFilter_SuppressedDoesNotExtendWindow(t *testing.T) {
	f := newTestFilter(t, Config{Window: 30 * time.Second})
	key := plate.MustNormalize("AB12CDE")

	if !f.Admit(key, t0) {
		t.Fatal("first detection should be admitted")
	}
	for _, s := range []int{5, 10, 20, 29} {
		if f.Admit(key, t0.Add(time.Duration(s)*time.Second)) {
			t.Fatalf("detection at +%ds should be suppressed", s)
		}
	}
	if !f.Admit(key, t0.Add(30*time.Second)) {
		t.Error("detection one full window after the admission should be admitted")
	}
}

func TestFilter_IndependentPlates(t *testing.T) {
	f := newTestFilter(t, Config{Window: 30 * time.Second})

	if !f.Admit("AB12CDE", t0) {
		t.Error("AB12CDE should be admitted")
	}
	if !f.Admit("XY99ZZZ", t0.Add(time.Second)) {
		t.Error("a different plate should not be suppressed")
	}
}

func TestFilter_Sweep(t *testing.T) {
	f := newTestFilter(t, Config{Window: 30 * time.Second})

	f.Admit("AAAAA1", t0)
	f.Admit("BBBBB2", t0.Add(20*time.Second))
	f.Admit("CCCCC3", t0.Add(40*time.Second))

	removed := f.Sweep(t0.Add(55 * time.Second))
	if removed != 2 {
		t.Errorf("Sweep removed %d entries, want 2", removed)
	}
	if f.Len() != 1 {
		t.Errorf("Len() = %d after sweep, want 1", f.Len())
	}
	if f.Admit("CCCCC3", t0.Add(56*time.Second)) {
		t.Error("CCCCC3 is still inside its window and should be suppressed")
	}
}

func TestFilter_BoundedEntries(t *testing.T) {
	f := newTestFilter(t, Config{Window: time.Hour, MaxEntries: 2})

	f.Admit("AAAAA1", t0)
	f.Admit("BBBBB2", t0.Add(time.Second))
	f.Admit("CCCCC3", t0.Add(2*time.Second))

	if f.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", f.Len())
	}
	// The oldest plate was evicted, so it is admitted again.
	if !f.Admit("AAAAA1", t0.Add(3*time.Second)) {
		t.Error("evicted plate should be admitted")
	}
}

func TestFilter_ConcurrentAdmitSingleWinner(t *testing.T) {
	f := newTestFilter(t, Config{Window: 30 * time.Second})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.Admit("AB12CDE", t0) {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 1 {
		t.Errorf("%d concurrent detections admitted, want exactly 1", admitted)
	}
}

func TestRegistry_ForAndSweep(t *testing.T) {
	clk := clock.NewTestClock(t0)
	r := NewRegistry(Config{Window: 30 * time.Second}, clk, zerolog.Nop())

	cam1, err := r.For("camera-1")
	if err != nil {
		t.Fatalf("For failed: %v", err)
	}
	again, _ := r.For("camera-1")
	if cam1 != again {
		t.Error("For should return the same filter for the same source")
	}
	cam2, _ := r.For("camera-2")

	cam1.Admit("AB12CDE", clk.Now())
	if !cam2.Admit("AB12CDE", clk.Now()) {
		t.Error("filters for different sources must be independent")
	}

	clk.Advance(31 * time.Second)
	if removed := r.Sweep(); removed != 2 {
		t.Errorf("Sweep removed %d, want 2", removed)
	}

	if got := r.Sources(); len(got) != 2 || got[0] != "camera-1" || got[1] != "camera-2" {
		t.Errorf("Sources() = %v", got)
	}
}

func TestRegistry_StartStop(t *testing.T) {
	r := NewRegistry(Config{SweepInterval: 10 * time.Millisecond}, clock.RealClock{}, zerolog.Nop())
	r.Start()
	time.Sleep(30 * time.Millisecond)
	r.Stop()
	r.Stop()

	idle := NewRegistry(Config{}, nil, zerolog.Nop())
	idle.Stop()
}
