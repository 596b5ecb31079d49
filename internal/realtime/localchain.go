package realtime

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/evmindex/realtime-sync-core/pkg/chaintypes"
)

// localChain is the in-memory unfinalized suffix of the canonical chain:
// strictly ascending by number, each consecutive pair linked by parentHash.
// It is mutated only by the queue's single worker goroutine, so it needs
// no locking of its own.
type localChain struct {
	blocks []chaintypes.LightBlock
}

func newLocalChain(seed chaintypes.LightBlock) *localChain {
	return &localChain{blocks: []chaintypes.LightBlock{seed}}
}

func (c *localChain) head() chaintypes.LightBlock {
	return c.blocks[len(c.blocks)-1]
}

func (c *localChain) containsHash(hash common.Hash) bool {
	_, ok := c.findByHash(hash)
	return ok
}

func (c *localChain) findByHash(hash common.Hash) (chaintypes.LightBlock, bool) {
	for _, b := range c.blocks {
		if b.Hash == hash {
			return b, true
		}
	}
	return chaintypes.LightBlock{}, false
}

func (c *localChain) findByNumber(number uint64) (chaintypes.LightBlock, bool) {
	for _, b := range c.blocks {
		if b.Number == number {
			return b, true
		}
	}
	return chaintypes.LightBlock{}, false
}

func (c *localChain) append(b chaintypes.LightBlock) {
	c.blocks = append(c.blocks, b)
}

// truncateToHash discards every block after the one with the given hash,
// which becomes the new head. The hash must be present.
func (c *localChain) truncateToHash(hash common.Hash) bool {
	for i, b := range c.blocks {
		if b.Hash == hash {
			c.blocks = c.blocks[:i+1]
			return true
		}
	}
	return false
}

// pruneBefore discards every block with number < number, which becomes the
// new first element (the new finality floor). number must be present.
func (c *localChain) pruneBefore(number uint64) bool {
	for i, b := range c.blocks {
		if b.Number == number {
			c.blocks = c.blocks[i:]
			return true
		}
	}
	return false
}
