// Package pair tracks the connection-establishment state of unordered participant pairs.
package pair

import "fmt"

// Key identifies an unordered pair. A is always the lexicographically smaller identity.
type Key struct {
	A string
	B string
}

// NewKey canonicalises (x, y) and (y, x) to the same Key. ok is false when both ids are equal or empty.
func NewKey(x, y string) (Key, bool) {
	if x == "" || y == "" || x == y {
		return Key{}, false
	}
	if y < x {
		x, y = y, x
	}
	return Key{A: x, B: y}, true
}

func (k Key) Has(id string) bool {
	return k.A == id || k.B == id
}

// Other returns the member of the pair that is not id.
func (k Key) Other(id string) string {
	if k.A == id {
		return k.B
	}
	return k.A
}

func (k Key) String() string {
	return fmt.Sprintf("%s-%s", k.A, k.B)
}

func (k Key) Less(o Key) bool {
	if k.A != o.A {
		return k.A < o.A
	}
	return k.B < o.B
}
