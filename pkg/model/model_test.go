package model

import "testing"

func TestDeviceHostPort(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"192.168.50.178", "192.168.50.178:22"},
		{"10.0.0.5:2222", "10.0.0.5:2222"},
		{"fe80::1", "[fe80::1]:22"},
	}
	for _, tt := range tests {
		d := Device{Address: tt.addr}
		if got := d.HostPort(); got != tt.want {
			t.Errorf("HostPort(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

func TestDeviceValidate(t *testing.T) {
	ok := Device{ID: "dut1", Address: "10.0.0.2", OS: OSLinux, Credential: Credential{User: "root", Password: "x"}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	noAuth := ok
	noAuth.Credential.Password = ""
	if err := noAuth.Validate(); err == nil {
		t.Error("expected error for missing password and key file")
	}

	badOS := ok
	badOS.OS = "plan9"
	if err := badOS.Validate(); err == nil {
		t.Error("expected error for unknown OS class")
	}
}

func TestModeEqualAndKey(t *testing.T) {
	params := map[string]string{"htmode": "VHT80"}
	a := NewMode(Band5G, "radio1", "36", "11a/n/ac", params)
	params["htmode"] = "HE80" // must not leak into a
	b := NewMode(Band5G, "radio1", "36", "11a/n/ac", map[string]string{"htmode": "VHT80"})

	if !a.Equal(b) {
		t.Error("expected modes to be equal")
	}
	if a.Key() != "5G/36/11a/n/ac" {
		t.Errorf("Key() = %q", a.Key())
	}

	c := NewMode(Band5G, "radio1", "40", "11a/n/ac", map[string]string{"htmode": "VHT80"})
	if a.Equal(c) {
		t.Error("modes with different channels must differ")
	}
}

func TestStepWithout(t *testing.T) {
	s := Step{Index: 3, Devices: []string{"a", "b", "c"}}
	got := s.Without(func(id string) bool { return id == "b" })

	if len(got.Devices) != 2 || got.Devices[0] != "a" || got.Devices[1] != "c" {
		t.Errorf("Without() devices = %v", got.Devices)
	}
	if len(s.Devices) != 3 {
		t.Error("Without() must not modify the receiver")
	}
	if got.Index != 3 {
		t.Errorf("Index = %d, want 3", got.Index)
	}
}

func TestOutcomeString(t *testing.T) {
	o := Outcome{Status: RunCompletedWithExclusions, Excluded: []string{"dut2"}}
	if got := o.String(); got != "COMPLETED_WITH_EXCLUSIONS(dut2)" {
		t.Errorf("String() = %q", got)
	}
	a := Outcome{Status: RunAborted, Reason: "cancelled"}
	if got := a.String(); got != "ABORTED(cancelled)" {
		t.Errorf("String() = %q", got)
	}
}
