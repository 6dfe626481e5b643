package bitset

import "testing"

func fromBits(bits ...uint8) *Set {
	s := New(uint64(len(bits)))
	for i, b := range bits {
		s.Set(uint64(i), b)
	}
	return s
}

func TestGetOutOfRangeIsIdleHigh(t *testing.T) {
	s := fromBits(0, 1, 0)
	if got := s.Get(10); got != 1 {
		t.Fatalf("Get(10) = %d, want 1", got)
	}
}

func TestEdgeAfter(t *testing.T) {
	s := fromBits(1, 1, 0, 0, 1, 1, 1, 0)
	tests := []struct {
		from     uint64
		polarity Polarity
		want     uint64
		ok       bool
	}{
		{0, Falling, 2, true},
		{0, Rising, 4, true},
		{0, Either, 2, true},
		{4, Falling, 7, true},
		{6, Falling, 7, true},
		{7, Either, 0, false},
	}
	for _, tt := range tests {
		got, ok := s.EdgeAfter(tt.from, tt.polarity)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("EdgeAfter(%d, %v) = (%d, %v), want (%d, %v)", tt.from, tt.polarity, got, ok, tt.want, tt.ok)
		}
	}
}

func TestLevelRun(t *testing.T) {
	s := fromBits(1, 1, 1, 0, 0, 1)
	if got := s.LevelRun(0, 1); got != 3 {
		t.Errorf("LevelRun(0,1) = %d, want 3", got)
	}
	if got := s.LevelRun(3, 0); got != 2 {
		t.Errorf("LevelRun(3,0) = %d, want 2", got)
	}
	if got := s.LevelRun(5, 1); got != 1 {
		t.Errorf("LevelRun(5,1) = %d, want 1", got)
	}
}
