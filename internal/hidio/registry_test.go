package hidio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type nopHandler struct{}

func (nopHandler) HandleCommand(_ []byte) ([]byte, error) { return nil, nil }
func (nopHandler) HandleNoAck(_ []byte)                   {}
func (nopHandler) HandleAck(_ []byte) error               { return nil }
func (nopHandler) HandleNak(_ []byte) error               { return nil }

func TestRegistry_Supported(t *testing.T) {
	r := NewRegistry(map[uint32]Handler{
		0x02: nopHandler{},
		0x17: nopHandler{},
	})

	assert.True(t, r.Supported(0x02))
	assert.True(t, r.Supported(0x17))
	assert.False(t, r.Supported(0x01))
	assert.False(t, r.Supported(0xFFFF))
}

func TestRegistry_IDsSorted(t *testing.T) {
	r := NewRegistry(map[uint32]Handler{
		0x50: nopHandler{},
		0x00: nopHandler{},
		0x17: nopHandler{},
		0x02: nopHandler{},
	})

	assert.Equal(t, []uint32{0x00, 0x02, 0x17, 0x50}, r.IDs())
}

func TestRegistry_IDsReturnsCopy(t *testing.T) {
	r := NewRegistry(map[uint32]Handler{0x02: nopHandler{}})

	ids := r.IDs()
	ids[0] = 0xFFFF
	assert.Equal(t, []uint32{0x02}, r.IDs())
}

func TestRegistry_Empty(t *testing.T) {
	r := NewRegistry(nil)
	assert.Empty(t, r.IDs())
	assert.False(t, r.Supported(0x00))
}
