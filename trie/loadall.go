package trie

import (
	"context"

	"github.com/erigontech/mpt/nibble"
	"github.com/erigontech/mpt/node"
)

// Entry is one key/value pair surfaced by LoadAll.
type Entry struct {
	Path  nibble.Path
	Value []byte
}

type collectVisitor struct {
	out *[]Entry
}

func (v *collectVisitor) Visit(ctx context.Context, path nibble.Path, n *node.Node) (bool, error) {
	if n.HasValue {
		*v.out = append(*v.out, Entry{Path: path.Materialize(), Value: append([]byte(nil), n.Value...)})
	}
	return true, nil
}

// LoadAll eagerly resolves every node reachable from root and returns every
// key/value pair found, forcing every on-disk node along the way into the
// node cache.
func LoadAll(ctx context.Context, loader *Loader, root *node.ChildRef) ([]Entry, error) {
	var out []Entry
	if err := Traverse(ctx, loader, root, &collectVisitor{out: &out}); err != nil {
		return nil, err
	}
	return out, nil
}
