// Package idgen issues batch and message identifiers.
package idgen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Generator hands out time-ordered ids unique to this node.
type Generator struct {
	node *snowflake.Node
}

// New creates a generator for node (0..1023).
func New(node int64) (*Generator, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", node, err)
	}
	return &Generator{node: n}, nil
}

// BatchID returns a new batch identifier.
func (g *Generator) BatchID() string {
	return g.node.Generate().String()
}

// MsgIDs returns n message ids in increasing order.
func (g *Generator) MsgIDs(n int) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = g.node.Generate().Int64()
	}
	return ids
}
