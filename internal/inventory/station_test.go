package inventory

import "testing"

func TestDetectStationHasHostname(t *testing.T) {
	if st := DetectStation(); st.Hostname == "" {
		t.Fatal("empty hostname")
	}
}
