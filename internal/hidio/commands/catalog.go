package commands

import (
	"sort"

	"github.com/hid-io/hidio-go/internal/hidio"
)

// Catalog assembles a command registry. Register the handlers a peer
// supports, then call Registry; the Supported IDs command (0x00) is wired
// in automatically and reflects the final set.
type Catalog struct {
	handlers map[uint32]hidio.Handler
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{handlers: make(map[uint32]hidio.Handler)}
}

// Register adds (or replaces) the handler for id and returns the catalog
// for chaining.
func (c *Catalog) Register(id uint32, h hidio.Handler) *Catalog {
	c.handlers[id] = h
	return c
}

// Registry freezes the catalog into an immutable registry. Unless 0x00 was
// registered explicitly, a Supported IDs handler answering with every
// 16-bit ID of the final set is added.
func (c *Catalog) Registry() *hidio.Registry {
	handlers := make(map[uint32]hidio.Handler, len(c.handlers)+1)
	for id, h := range c.handlers {
		handlers[id] = h
	}

	if _, ok := handlers[IDSupportedIDs]; !ok {
		ids := make([]uint16, 0, len(handlers)+1)
		ids = append(ids, uint16(IDSupportedIDs))
		for id := range handlers {
			if id <= 0xFFFF {
				ids = append(ids, uint16(id))
			}
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		handlers[IDSupportedIDs] = SupportedIDs{
			Cmd: func() (SupportedIDsAck, error) {
				return SupportedIDsAck{IDs: ids}, nil
			},
		}
	}

	return hidio.NewRegistry(handlers)
}
