package inspect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReplayBuffer(t *testing.T) {
	r := replayBuffer{size: 3}
	for seq := uint64(1); seq <= 5; seq++ {
		r.push(seq, []byte{byte(seq)})
	}
	assert.Equal(t, 3, r.len())

	frames, missed := r.since(0)
	assert.False(t, missed)
	assert.Equal(t, [][]byte{{3}, {4}, {5}}, frames)

	frames, missed = r.since(2)
	assert.False(t, missed)
	assert.Len(t, frames, 3)

	frames, missed = r.since(4)
	assert.False(t, missed)
	assert.Equal(t, [][]byte{{5}}, frames)

	frames, missed = r.since(1)
	assert.True(t, missed)
	assert.Len(t, frames, 3)

	frames, _ = r.since(5)
	assert.Empty(t, frames)
}

func TestReplayBuffer_Disabled(t *testing.T) {
	r := replayBuffer{}
	r.push(1, []byte("x"))

	frames, missed := r.since(0)
	assert.Zero(t, r.len())
	assert.Empty(t, frames)
	assert.False(t, missed)
}
