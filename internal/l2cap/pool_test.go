package l2cap_test

import (
	"testing"

	"github.com/srg/blecm/internal/device"
	"github.com/srg/blecm/internal/l2cap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolPut(t *testing.T) {
	// GOAL: Verify the pool only takes back buffers it handed out
	//
	// TEST SCENARIO: Get → Put → Put again → rejected, InUse stays 0
	//   → foreign buffer → rejected → free list still holds exactly n buffers

	pool, err := l2cap.NewPool(2, 16)
	require.NoError(t, err)

	buf, err := pool.Get()
	require.NoError(t, err)
	assert.Equal(t, 1, pool.InUse())

	require.NoError(t, pool.Put(buf[:3]), "resliced buffer MUST be accepted")
	assert.Equal(t, 0, pool.InUse())

	assert.ErrorIs(t, pool.Put(buf), device.ErrInvalidArgument, "double put MUST be rejected")
	assert.Equal(t, 0, pool.InUse(), "double put MUST not drive InUse negative")

	assert.ErrorIs(t, pool.Put(make([]byte, 16)), device.ErrInvalidArgument, "foreign buffer MUST be rejected")
	assert.NoError(t, pool.Put(nil))

	for i := 0; i < 2; i++ {
		_, err := pool.Get()
		require.NoError(t, err)
	}
	_, err = pool.Get()
	assert.ErrorIs(t, err, device.ErrNoMemory, "rejected puts MUST not add buffers to the free list")
}
