package statetree

import (
	"fmt"

	"github.com/wI2L/jsondiff"
)

// Patch is an RFC 6902 JSON Patch describing how one tree becomes another.
type Patch = jsondiff.Patch

// Diff computes the structural difference between two trees. An empty patch
// means the trees are equal.
func Diff(oldTree, newTree map[string]any) (Patch, error) {
	patch, err := jsondiff.Compare(CloneTree(oldTree), CloneTree(newTree))
	if err != nil {
		return nil, fmt.Errorf("failed to diff state: %w", err)
	}
	return patch, nil
}
