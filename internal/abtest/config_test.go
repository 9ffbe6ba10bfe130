package abtest

import "testing"

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"all plan A", func(c *Config) { c.PlanAPercentage, c.PlanBPercentage = 100, 0 }, false},
		{"all plan B", func(c *Config) { c.PlanAPercentage, c.PlanBPercentage = 0, 100 }, false},
		{"sum not 100", func(c *Config) { c.PlanAPercentage, c.PlanBPercentage = 40, 50 }, true},
		{"negative", func(c *Config) { c.PlanAPercentage, c.PlanBPercentage = -10, 110 }, true},
		{"over 100", func(c *Config) { c.PlanAPercentage = 101 }, true},
		{"zero sample", func(c *Config) { c.MinSampleSize = 0 }, true},
		{"negative max time", func(c *Config) { c.MaxExecutionTimeMs = -1 }, true},
		{"negative history", func(c *Config) { c.ErrorHistoryLimit = -1 }, true},
		{"legacy hash", func(c *Config) { c.HashAlgorithm = HashLegacy }, false},
		{"unknown hash", func(c *Config) { c.HashAlgorithm = "md5" }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil && !HasCode(err, ErrCodeConfiguration) {
				t.Fatalf("expected configuration error code, got %v", err)
			}
		})
	}
}

func TestConfigApplyDefaults(t *testing.T) {
	cfg := Config{PlanAPercentage: 20, HashAlgorithm: " LEGACY "}
	cfg.ApplyDefaults()
	if cfg.PlanBPercentage != 80 {
		t.Fatalf("expected plan B 80, got %d", cfg.PlanBPercentage)
	}
	if cfg.HashAlgorithm != HashLegacy {
		t.Fatalf("expected normalized hash, got %q", cfg.HashAlgorithm)
	}

	cfg = Config{PlanAPercentage: 100}
	cfg.ApplyDefaults()
	if cfg.PlanBPercentage != 0 || cfg.HashAlgorithm != HashFNV1a {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestParsePlan(t *testing.T) {
	for in, want := range map[string]Plan{"A": PlanA, "b": PlanB, "planA": PlanA, " PlanB ": PlanB} {
		got, err := ParsePlan(in)
		if err != nil || got != want {
			t.Fatalf("ParsePlan(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParsePlan("c"); err == nil {
		t.Fatalf("expected error for unknown plan")
	}
}
