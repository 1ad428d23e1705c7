package trie

import "errors"

// ErrKeyMismatch is returned by FindExact when the requested key diverges from
// the path stored on disk (as opposed to simply being absent below an
// existing branch).
var ErrKeyMismatch = errors.New("trie: key mismatch")

// ErrVersionNoLongerExists is returned when an operation targets a version
// outside the retained history window.
var ErrVersionNoLongerExists = errors.New("trie: version no longer exists")

// ErrDestinationNotEmpty is returned by CopySubtrie when the destination key
// names a location that already holds content diverging partway through an
// existing compressed path, which CopySubtrie cannot unambiguously merge
// with the grafted sub-trie's own content.
var ErrDestinationNotEmpty = errors.New("trie: copy_trie destination not empty")
