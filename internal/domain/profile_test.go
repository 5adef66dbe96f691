package domain

import "testing"

func TestCapabilityProfileValidate(t *testing.T) {
	good := &CapabilityProfile{
		FS:        []Mount{{Path: "/data", Mode: MountRead}},
		Net:       NetNone,
		CPUMillis: 200,
		MemMB:     256,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected valid profile, got %v", err)
	}

	cases := []struct {
		name string
		p    CapabilityProfile
	}{
		{"relative mount", CapabilityProfile{FS: []Mount{{Path: "data"}}, CPUMillis: 1, MemMB: 256}},
		{"conflicting modes", CapabilityProfile{
			FS:        []Mount{{Path: "/d", Mode: MountRead}, {Path: "/d", Mode: MountReadWrite}},
			CPUMillis: 1, MemMB: 256,
		}},
		{"zero cpu", CapabilityProfile{CPUMillis: 0, MemMB: 256}},
		{"mem too low", CapabilityProfile{CPUMillis: 1, MemMB: 32}},
		{"empty dependency name", CapabilityProfile{CPUMillis: 1, MemMB: 256, Dependencies: []Dependency{{Name: "  "}}}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if err := c.p.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestParseNetPolicy(t *testing.T) {
	for in, want := range map[string]NetPolicy{"": NetNone, "none": NetNone, "https_only": NetHTTPSOnly, "all": NetAll} {
		got, err := ParseNetPolicy(in)
		if err != nil || got != want {
			t.Fatalf("ParseNetPolicy(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseNetPolicy("bogus"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}
