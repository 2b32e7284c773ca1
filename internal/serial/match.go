package serial

import "strings"

// VendorMatcher recognises a scanner's USB-to-serial bridge. A non-empty
// VendorID must equal the port's USB vendor id (hex, case-insensitive); a
// non-empty Fragment must appear in the port's product string or name.
type VendorMatcher struct {
	VendorID string
	Fragment string
}

func (m VendorMatcher) matches(p PortInfo) bool {
	vid := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(m.VendorID)), "0x")
	frag := strings.ToLower(strings.TrimSpace(m.Fragment))
	if vid == "" && frag == "" {
		return false
	}
	if vid != "" && (!p.USB || strings.ToLower(p.VendorID) != vid) {
		return false
	}
	if frag != "" {
		hay := strings.ToLower(p.Product + " " + p.Name)
		if !strings.Contains(hay, frag) {
			return false
		}
	}
	return true
}

// Matches reports whether any matcher accepts p.
func Matches(matchers []VendorMatcher, p PortInfo) bool {
	for _, m := range matchers {
		if m.matches(p) {
			return true
		}
	}
	return false
}
