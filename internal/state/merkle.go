package state

import "github.com/Alert17/zkclear-core/internal/crypto"

// RootSize is the byte length of every commitment root.
const RootSize = 32

var (
	leafPrefix = []byte{0x00}
	nodePrefix = []byte{0x01}
)

// merkleTree is a keccak binary tree with domain-separated leaf and node
// hashes. An odd node at any level is paired with itself. The empty tree
// root is all zeroes.
type merkleTree struct {
	leaves [][]byte
}

func newMerkleTree() *merkleTree {
	return &merkleTree{}
}

// AddLeaf hashes raw leaf data into the tree. Leaves are committed in
// insertion order, so callers must feed them deterministically sorted.
func (t *merkleTree) AddLeaf(data []byte) {
	t.leaves = append(t.leaves, crypto.Keccak256(leafPrefix, data))
}

func (t *merkleTree) Root() [RootSize]byte {
	var root [RootSize]byte
	if len(t.leaves) == 0 {
		return root
	}

	level := make([][]byte, len(t.leaves))
	copy(level, t.leaves)

	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, crypto.Keccak256(nodePrefix, left, right))
		}
		level = next
	}

	copy(root[:], level[0])
	return root
}
