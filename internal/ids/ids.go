// Package ids generates identifiers for persisted entities.
package ids

import (
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

var (
	nodeOnce sync.Once
	node     *snowflake.Node
	nodeErr  error
)

// Init configures the snowflake node used for message ids. It must be called
// before the first MessageID when more than one process writes messages.
func Init(nodeID int64) error {
	nodeOnce.Do(func() {
		node, nodeErr = snowflake.NewNode(nodeID)
	})
	return nodeErr
}

// New returns a random opaque id for users, conversations, requests and calls.
func New() string {
	return uuid.NewString()
}

// Code returns a short shareable user code.
func Code() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:8])
}

// MessageID returns a time-ordered id. Ids from one node strictly increase,
// which makes them a stable tie-breaker for equal message timestamps.
func MessageID() int64 {
	if err := Init(1); err != nil {
		panic(fmt.Sprintf("snowflake node: %v", err))
	}
	return node.Generate().Int64()
}
