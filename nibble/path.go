// Package nibble implements a zero-copy view over a 4-bit nibble sequence,
// the key-addressing unit the trie partitions on at every branch.
package nibble

// Path is a view over a packed nibble run backed by a byte slice. Nibble i
// of the path lives in the high half of buf[(start+i)/2] when (start+i) is
// even, otherwise in the low half.
type Path struct {
	buf    []byte
	start  int
	length int
}

// FromKey builds a path over every nibble of a raw key, most significant
// nibble first.
func FromKey(key []byte) Path {
	return Path{buf: key, start: 0, length: len(key) * 2}
}

// View constructs a path over an existing packed buffer, given the nibble
// offset of its first nibble and its length in nibbles.
func View(buf []byte, start, length int) Path {
	return Path{buf: buf, start: start, length: length}
}

// Empty returns the zero-length path.
func Empty() Path { return Path{} }

func (p Path) Len() int { return p.length }

func (p Path) IsEmpty() bool { return p.length == 0 }

// At returns the nibble at logical index i, panicking if i is out of range.
func (p Path) At(i int) byte {
	abs := p.start + i
	b := p.buf[abs/2]
	if abs%2 == 0 {
		return b >> 4
	}
	return b & 0x0F
}

func (p Path) set(i int, v byte) {
	abs := p.start + i
	bi := abs / 2
	if abs%2 == 0 {
		p.buf[bi] = (p.buf[bi] & 0x0F) | (v << 4)
	} else {
		p.buf[bi] = (p.buf[bi] & 0xF0) | (v & 0x0F)
	}
}

// Sub returns the zero-copy nibble sub-range [from, to).
func (p Path) Sub(from, to int) Path {
	return Path{buf: p.buf, start: p.start + from, length: to - from}
}

// TailFrom returns the zero-copy suffix starting at nibble from.
func (p Path) TailFrom(from int) Path { return p.Sub(from, p.length) }

// Equal reports whether two paths hold the same nibble sequence.
func (p Path) Equal(o Path) bool {
	if p.length != o.length {
		return false
	}
	return p.CommonPrefixLen(o) == p.length
}

// CommonPrefixLen returns the number of leading nibbles p and o share.
func (p Path) CommonPrefixLen(o Path) int {
	n := p.length
	if o.length < n {
		n = o.length
	}
	i := 0
	for ; i < n; i++ {
		if p.At(i) != o.At(i) {
			break
		}
	}
	return i
}

// Concat materializes a new path holding the nibbles of each part in order.
// The result owns a freshly allocated buffer; none of the inputs are
// mutated.
func Concat(parts ...Path) Path {
	total := 0
	for _, pt := range parts {
		total += pt.Len()
	}
	out := Path{buf: make([]byte, (total+1)/2), start: 0, length: total}
	idx := 0
	for _, pt := range parts {
		for i := 0; i < pt.Len(); i++ {
			out.set(idx, pt.At(i))
			idx++
		}
	}
	return out
}

// AppendNibble returns p with a single trailing nibble appended, as a fresh
// materialized path.
func AppendNibble(p Path, n byte) Path {
	single := make([]byte, 1)
	single[0] = n << 4
	return Concat(p, View(single, 0, 1))
}

// Materialize returns a path backed by a freshly allocated, tightly packed
// buffer equivalent to p — useful before storing a path beyond the lifetime
// of its current backing slice.
func (p Path) Materialize() Path { return Concat(p) }

// Encode packs the view into a minimal byte run plus the start-nibble flag
// used by the node encoding (the `start_nibble_of_path` bit).
func (p Path) Encode() (packed []byte, startNibble bool, nibbleLen int) {
	startNibble = p.start%2 == 1
	s := 0
	if startNibble {
		s = 1
	}
	byteLen := (p.length + s + 1) / 2
	packed = make([]byte, byteLen)
	out := Path{buf: packed, start: s, length: p.length}
	for i := 0; i < p.length; i++ {
		out.set(i, p.At(i))
	}
	return packed, startNibble, p.length
}

// Decode rebuilds a Path from its on-disk representation.
func Decode(packed []byte, startNibble bool, nibbleLen int) Path {
	s := 0
	if startNibble {
		s = 1
	}
	return Path{buf: packed, start: s, length: nibbleLen}
}

// Bytes returns Encode's packed byte run for p without its start-nibble
// flag: when p starts at an odd nibble, the high half of the first byte is
// padding (equivalent to Encode's first return value).
func (p Path) Bytes() []byte {
	packed, _, _ := p.Encode()
	return packed
}
