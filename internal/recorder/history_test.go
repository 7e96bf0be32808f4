package recorder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryKeepsNewestFrames(t *testing.T) {
	t.Parallel()

	// One second at 4 Hz stereo holds four frames.
	h := NewHistory(time.Second, 4, 2)
	require.NotNil(t, h)
	assert.Nil(t, h.Samples())

	h.Write(pcm(1, 2, 3, 4))
	assert.Equal(t, []int16{1, 2, 3, 4}, h.Samples())
	assert.Equal(t, 500*time.Millisecond, h.Duration())

	h.Write(pcm(5, 6, 7, 8, 9, 10))
	assert.Equal(t, []int16{3, 4, 5, 6, 7, 8, 9, 10}, h.Samples())
	assert.Equal(t, time.Second, h.Duration())

	// Reading does not consume.
	assert.Equal(t, []int16{3, 4, 5, 6, 7, 8, 9, 10}, h.Samples())
}

func TestHistoryOversizedAndPartialWrites(t *testing.T) {
	t.Parallel()

	h := NewHistory(time.Second, 2, 1)
	h.Write(pcm(1, 2, 3, 4, 5))
	assert.Equal(t, []int16{4, 5}, h.Samples())

	// The odd trailing byte is dropped.
	h.Write(append(pcm(6), 0x01))
	assert.Equal(t, []int16{5, 6}, h.Samples())

	h.Write([]byte{0x01})
	assert.Equal(t, []int16{5, 6}, h.Samples())

	h.Reset()
	assert.Nil(t, h.Samples())
	assert.Zero(t, h.Duration())
}

func TestNewHistoryDisabled(t *testing.T) {
	t.Parallel()

	assert.Nil(t, NewHistory(0, 48000, 1))
	assert.Nil(t, NewHistory(time.Second, 0, 1))
}
