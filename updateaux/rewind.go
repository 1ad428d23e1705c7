package updateaux

import (
	"fmt"

	"github.com/erigontech/mpt/metadata"
)

// RewindToVersion discards every version after w, resetting both stream
// write positions to a fresh chunk so no subsequent write can ever land
// past a byte a still-valid version depends on. A no-op when w equals the
// current max_version.
func (aux *UpdateAux) RewindToVersion(w uint64) error {
	aux.mu.Lock()
	defer aux.mu.Unlock()

	if !aux.hasMaxVersion || w < aux.minValidVersion || w > aux.maxVersion {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrRewindOutOfWindow, w, aux.minValidVersion, aux.maxVersion)
	}
	if w == aux.maxVersion {
		return nil
	}

	for u := w + 1; u <= aux.maxVersion; u++ {
		slot := u % aux.ringCapacity
		if aux.ring[slot].Valid && aux.ring[slot].Version == u {
			aux.ring[slot].Valid = false
		}
	}

	slot := w % aux.ringCapacity
	entry := aux.ring[slot]
	if entry.Valid && entry.Version == w && entry.Root.IsValid() {
		ref, err := aux.loadRootRef(entry.Root)
		if err != nil {
			return err
		}
		aux.root = ref
	} else {
		aux.root = nil
	}
	aux.maxVersion = w

	aux.sealStreamPastRewind(aux.fast)
	aux.sealStreamPastRewind(aux.slow)

	return aux.persist()
}

// sealStreamPastRewind forces the stream to request a fresh chunk on its
// next write, leaving whatever chunks followed the rewind point to become
// unreachable and reclaimed by a subsequent compaction pass rather than
// truncated in place (no in-place chunk truncation primitive exists over
// the append-only pool abstraction).
func (aux *UpdateAux) sealStreamPastRewind(s *stream) {
	if s.hasChunk {
		s.offset = aux.pool.Capacity()
	}
}

// SetHistoryLength changes the logical retention window size, bounded by
// the ring's fixed physical capacity (set once at pool-creation time).
// Shrinking invalidates the oldest versions that now fall outside the new
// window; growing never resurrects a version already invalidated, and can
// grow only up to ringCapacity since the metadata region's ring has no
// more physical slots than that.
func (aux *UpdateAux) SetHistoryLength(n uint64) error {
	aux.mu.Lock()
	defer aux.mu.Unlock()

	if n > aux.ringCapacity {
		return fmt.Errorf("updateaux: history_length %d exceeds ring capacity %d", n, aux.ringCapacity)
	}
	if n == aux.historyLength {
		return nil
	}

	aux.historyLength = n

	if aux.hasMaxVersion {
		newMin := uint64(0)
		if aux.maxVersion+1 > n {
			newMin = aux.maxVersion + 1 - n
		}
		if newMin > aux.minValidVersion {
			for i := range aux.ring {
				if aux.ring[i].Valid && aux.ring[i].Version < newMin {
					aux.ring[i].Valid = false
				}
			}
			aux.minValidVersion = newMin
		}
	}

	return aux.persist()
}

// MoveTrieVersionForward copies ring[src] into ring[dst] (dst > src),
// invalidating every slot strictly between them and advancing the
// retention window from dst. The gap this opens between src and dst is
// allowed but opaque: no API enumerates which versions inside it remain
// individually addressable.
func (aux *UpdateAux) MoveTrieVersionForward(src, dst uint64) error {
	aux.mu.Lock()
	defer aux.mu.Unlock()

	if dst <= src {
		return fmt.Errorf("%w: src=%d dst=%d", ErrMoveNotForward, src, dst)
	}
	srcSlot := src % aux.ringCapacity
	srcEntry := aux.ring[srcSlot]
	if !srcEntry.Valid || srcEntry.Version != src {
		return fmt.Errorf("%w: src=%d", ErrSourceVersionInvalid, src)
	}

	for u := src + 1; u < dst; u++ {
		slot := u % aux.ringCapacity
		if aux.ring[slot].Valid && aux.ring[slot].Version == u {
			aux.ring[slot].Valid = false
		}
	}

	dstSlot := dst % aux.ringCapacity
	aux.ring[dstSlot] = metadata.RingEntry{Root: srcEntry.Root, Version: dst, Valid: true}
	aux.maxVersion = dst
	aux.hasMaxVersion = true

	if srcEntry.Root.IsValid() {
		ref, err := aux.loadRootRef(srcEntry.Root)
		if err != nil {
			return err
		}
		aux.root = ref
	} else {
		aux.root = nil
	}

	newMin := uint64(0)
	if dst+1 > aux.historyLength {
		newMin = dst + 1 - aux.historyLength
	}
	if newMin > aux.minValidVersion {
		for i := range aux.ring {
			if aux.ring[i].Valid && aux.ring[i].Version < newMin {
				aux.ring[i].Valid = false
			}
		}
		aux.minValidVersion = newMin
	}

	return aux.persist()
}
