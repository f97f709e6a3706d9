// Package assign chooses the owning node for a new primary partition key.
package assign

import (
	"hash/fnv"
	"math/rand"

	"github.com/shardmap/shardmap/internal/catalog"
)

// Assigner maps a primary key to one node of the dimension's current node
// set. The key arrives in its canonical string form so implementations stay
// independent of the key type.
type Assigner interface {
	ChooseNode(nodes []*catalog.Node, key string) (*catalog.Node, error)
}

// Hash assigns keys by hashing the key string over the node set. Given the
// same node set, a key always resolves to the same node.
type Hash struct{}

// NewHash creates the default deterministic assigner.
func NewHash() *Hash {
	return &Hash{}
}

// ChooseNode implements Assigner.
func (h *Hash) ChooseNode(nodes []*catalog.Node, key string) (*catalog.Node, error) {
	if len(nodes) == 0 {
		return nil, catalog.NewNotFoundError("node", "dimension has no nodes")
	}
	hasher := fnv.New64a()
	hasher.Write([]byte(key))
	return nodes[hasher.Sum64()%uint64(len(nodes))], nil
}

// Random assigns keys to a uniformly random node. Useful when key values are
// adversarially clustered; the directory remains the source of truth for
// ownership either way.
type Random struct {
	rng *rand.Rand
}

// NewRandom creates a random assigner with the given seed.
func NewRandom(seed int64) *Random {
	return &Random{rng: rand.New(rand.NewSource(seed))}
}

// ChooseNode implements Assigner.
func (r *Random) ChooseNode(nodes []*catalog.Node, key string) (*catalog.Node, error) {
	if len(nodes) == 0 {
		return nil, catalog.NewNotFoundError("node", "dimension has no nodes")
	}
	return nodes[r.rng.Intn(len(nodes))], nil
}
