package inventory

import "testing"

func TestResolveMode(t *testing.T) {
	tests := []struct {
		raw     string
		mode    Mode
		barcode string
		change  ChangeType
	}{
		{"8801043015653", ModeAuto, "8801043015653", ChangeInput},
		{"-8801043015653", ModeAuto, "8801043015653", ChangeOutput},
		{"-8801043015653", ModeInput, "8801043015653", ChangeInput},
		{"8801043015653", ModeOutput, "8801043015653", ChangeOutput},
		{" -123456 ", ModeAuto, "123456", ChangeOutput},
		{"-", ModeAuto, "", ChangeOutput},
	}
	for _, tt := range tests {
		code, change := ResolveMode(tt.raw, tt.mode)
		if code != tt.barcode || change != tt.change {
			t.Errorf("ResolveMode(%q, %s) = %q, %s; want %q, %s", tt.raw, tt.mode, code, change, tt.barcode, tt.change)
		}
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeAuto, "AUTO": ModeAuto, "input": ModeInput, " Output ": ModeOutput} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseMode("sideways"); err == nil {
		t.Error("ParseMode accepted an unknown mode")
	}
}

func TestModeNextCycles(t *testing.T) {
	m := ModeAuto
	var seen []Mode
	for i := 0; i < 4; i++ {
		m = m.Next()
		seen = append(seen, m)
	}
	want := []Mode{ModeInput, ModeOutput, ModeAuto, ModeInput}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("cycle = %v, want %v", seen, want)
		}
	}
}

func TestClampQuantity(t *testing.T) {
	for in, want := range map[int]int{-5: 1, 0: 1, 1: 1, 42: 42, 99: 99, 150: 99} {
		if got := ClampQuantity(in); got != want {
			t.Errorf("ClampQuantity(%d) = %d, want %d", in, got, want)
		}
	}
}
