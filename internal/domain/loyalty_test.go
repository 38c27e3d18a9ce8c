package domain

import "testing"

func TestTierFor(t *testing.T) {
	tests := []struct {
		name   string
		points int64
		want   string
	}{
		{"zero points is bronze", 0, TierBronze},
		{"just below silver", 999, TierBronze},
		{"silver boundary", 1000, TierSilver},
		{"upper silver", 4999, TierSilver},
		{"gold boundary", 5000, TierGold},
		{"upper gold", 9999, TierGold},
		{"platinum boundary", 10000, TierPlatinum},
		{"far above platinum", 250000, TierPlatinum},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TierFor(tt.points); got != tt.want {
				t.Fatalf("expected tier=%s for %d points, got %s", tt.want, tt.points, got)
			}
		})
	}
}

func TestNextTierFor(t *testing.T) {
	tests := []struct {
		name        string
		points      int64
		wantNext    string
		wantToNext  int64
		wantHasNext bool
	}{
		{"fresh account targets silver", 0, TierSilver, 1000, true},
		{"mid bronze", 250, TierSilver, 750, true},
		{"silver targets gold", 1000, TierGold, 4000, true},
		{"gold targets platinum", 9999, TierPlatinum, 1, true},
		{"platinum has no next tier", 10000, "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, toNext, ok := NextTierFor(tt.points)
			if ok != tt.wantHasNext {
				t.Fatalf("expected ok=%t, got %t", tt.wantHasNext, ok)
			}
			if next != tt.wantNext {
				t.Fatalf("expected next=%q, got %q", tt.wantNext, next)
			}
			if toNext != tt.wantToNext {
				t.Fatalf("expected points_to_next=%d, got %d", tt.wantToNext, toNext)
			}
		})
	}
}

func TestRewardsForAmount(t *testing.T) {
	tests := []struct {
		name        string
		amountCents int64
		want        int64
	}{
		{"whole currency units", 2500, 250},
		{"fractional amount truncates", 2599, 259},
		{"below one unit", 99, 9},
		{"single cent", 1, 0},
		{"zero yields nothing", 0, 0},
		{"negative yields nothing", -500, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RewardsForAmount(tt.amountCents); got != tt.want {
				t.Fatalf("expected %d points for %d cents, got %d", tt.want, tt.amountCents, got)
			}
		})
	}
}
