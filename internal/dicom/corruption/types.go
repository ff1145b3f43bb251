// Package corruption adds the vendor private blocks and file damage found in
// real scanner exports to synthetic series, so the readers can be exercised
// against them.
package corruption

// Kind is one vendor's family of private elements.
type Kind string

const (
	SiemensCSA     Kind = "siemens-csa"
	GEPrivate      Kind = "ge-private"
	PhilipsPrivate Kind = "philips-private"
)

// AllKinds returns every kind.
func AllKinds() []Kind {
	return []Kind{SiemensCSA, GEPrivate, PhilipsPrivate}
}

// Has reports whether k is among kinds.
func Has(kinds []Kind, k Kind) bool {
	for _, c := range kinds {
		if c == k {
			return true
		}
	}
	return false
}
