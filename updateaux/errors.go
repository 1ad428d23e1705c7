package updateaux

import "errors"

// ErrVersionOutOfOrder is the programmer-error sentinel for a do_update
// call at a version not strictly greater than the current max_version
// without going through MoveTrieVersionForward first.
var ErrVersionOutOfOrder = errors.New("updateaux: version submitted out of order")

// ErrRewindOutOfWindow is returned by RewindToVersion when w falls outside
// [min_valid_version, max_version].
var ErrRewindOutOfWindow = errors.New("updateaux: rewind target outside retention window")

// ErrMoveNotForward is returned by MoveTrieVersionForward when dst <= src.
var ErrMoveNotForward = errors.New("updateaux: move_trie_version_forward requires dst > src")

// ErrSourceVersionInvalid is returned by MoveTrieVersionForward when src's
// ring slot is not currently valid.
var ErrSourceVersionInvalid = errors.New("updateaux: move_trie_version_forward source version is not valid")
