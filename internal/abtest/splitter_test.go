package abtest

import (
	"fmt"
	"math"
	"testing"
)

func TestLegacyHashKnownValues(t *testing.T) {
	cases := []struct {
		in     string
		hash   int32
		bucket int
	}{
		{"", 0, 0},
		{"a", 97, 97},
		{"abc", 96354, 54},
	}
	for _, tc := range cases {
		if got := legacyHash(tc.in); got != tc.hash {
			t.Fatalf("legacyHash(%q) = %d, want %d", tc.in, got, tc.hash)
		}
		if got := Bucket(HashLegacy, tc.in); got != tc.bucket {
			t.Fatalf("Bucket(legacy, %q) = %d, want %d", tc.in, got, tc.bucket)
		}
	}
}

func TestLegacyHashWrapsAndStaysInRange(t *testing.T) {
	long := ""
	for i := 0; i < 64; i++ {
		long += "zz-user-42-"
	}
	b := Bucket(HashLegacy, long)
	if b < 0 || b >= 100 {
		t.Fatalf("bucket out of range: %d", b)
	}
	// Surrogate pairs count as two code units.
	units := int32(0xD83D)*31 + int32(0xDE00)
	if got := legacyHash("😀"); got != units {
		t.Fatalf("legacyHash(emoji) = %d, want %d", got, units)
	}
}

func TestDecidePlanDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PlanAPercentage, cfg.PlanBPercentage = 30, 70
	rnd := func() float64 { t.Fatalf("random source used for identified caller"); return 0 }

	for _, alg := range []HashAlgorithm{HashFNV1a, HashLegacy} {
		cfg.HashAlgorithm = alg
		for i := 0; i < 200; i++ {
			id := fmt.Sprintf("user-%d", i)
			first := DecidePlan(cfg, id, rnd)
			for j := 0; j < 5; j++ {
				if got := DecidePlan(cfg, id, rnd); got != first {
					t.Fatalf("%s: plan for %q changed from %s to %s", alg, id, first, got)
				}
			}
			want := PlanB
			if Bucket(alg, id) < 30 {
				want = PlanA
			}
			if first != want {
				t.Fatalf("%s: plan for %q = %s, want %s", alg, id, first, want)
			}
		}
	}
}

func TestDecidePlanExtremes(t *testing.T) {
	draws := []float64{0, 0.25, 0.5, 0.999999}
	for _, tc := range []struct {
		planA int
		want  Plan
	}{
		{0, PlanB},
		{100, PlanA},
	} {
		cfg := DefaultConfig()
		cfg.PlanAPercentage, cfg.PlanBPercentage = tc.planA, 100-tc.planA
		for i := 0; i < 1000; i++ {
			if got := DecidePlan(cfg, fmt.Sprintf("id-%d", i), nil); got != tc.want {
				t.Fatalf("planA=%d: got %s for id-%d", tc.planA, got, i)
			}
		}
		for _, d := range draws {
			d := d
			if got := DecidePlan(cfg, "", func() float64 { return d }); got != tc.want {
				t.Fatalf("planA=%d: got %s for draw %v", tc.planA, got, d)
			}
		}
	}
}

func TestDecidePlanDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	cfg.PlanAPercentage, cfg.PlanBPercentage = 0, 100
	if got := DecidePlan(cfg, "user-1", nil); got != PlanA {
		t.Fatalf("disabled experiment routed to %s", got)
	}
}

func TestDecidePlanRandomThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PlanAPercentage, cfg.PlanBPercentage = 30, 70
	if got := DecidePlan(cfg, "", func() float64 { return 0.29 }); got != PlanA {
		t.Fatalf("draw 29 routed to %s", got)
	}
	if got := DecidePlan(cfg, "", func() float64 { return 0.30 }); got != PlanB {
		t.Fatalf("draw 30 routed to %s", got)
	}
}

func TestDecidePlanDistribution(t *testing.T) {
	const n = 10000
	for _, alg := range []HashAlgorithm{HashFNV1a, HashLegacy} {
		t.Run(string(alg), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.PlanAPercentage, cfg.PlanBPercentage = 30, 70
			cfg.HashAlgorithm = alg

			planA := 0
			for i := 0; i < n; i++ {
				if DecidePlan(cfg, fmt.Sprintf("user-%d", i), nil) == PlanA {
					planA++
				}
			}
			share := float64(planA) / n * 100
			if math.Abs(share-30) > 3 {
				t.Fatalf("plan A share %.2f%%, want 30%% +/- 3", share)
			}
		})
	}
}
