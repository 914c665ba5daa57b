package billing

import "testing"

func TestComputeCost(t *testing.T) {
	cases := []struct {
		rate, duration, want int64
	}{
		{60, 90, 90},
		{60, 60, 60},
		{100, 30, 50},
		{10, 3, 1},  // 0.5 rounds up
		{10, 2, 0},  // 0.33 rounds down
		{7, 10, 1},  // 1.1666
		{7, 50, 6},  // 5.8333
		{0, 600, 0},
		{60, 0, 0},
	}
	for _, tc := range cases {
		if got := ComputeCost(tc.rate, tc.duration); got != tc.want {
			t.Fatalf("ComputeCost(%d, %d) = %d, want %d", tc.rate, tc.duration, got, tc.want)
		}
	}
}
