package bagplay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMultiPlayerMergeOrder merges two bags whose earliest messages differ
// and expects global playback order with aligned origins.
func TestMultiPlayerMergeOrder(t *testing.T) {
	bag1 := newBagBuilder("#ROSBAG V1.2").
		msgData("/b1", testMD5, "pkg/T", 5, 0, []byte{1}).
		msgData("/b1", testMD5, "pkg/T", 7, 0, []byte{2}).
		write(t)
	bag2 := newBagBuilder("#ROSBAG V1.2").
		msgData("/b2", testMD5, "pkg/T", 3, 0, []byte{3}).
		msgData("/b2", testMD5, "pkg/T", 10, 0, []byte{4}).
		write(t)

	mp := &MultiPlayer{}
	var got []delivered
	mp.AddRawHandler("*", recordingHandler(&got))

	require.NoError(t, mp.Open([]string{bag1, bag2}, Time{}, 1.0, false))
	defer mp.Close()

	for mp.Advance() {
	}

	require.Len(t, got, 4)
	assert.Equal(t, "/b2", got[0].topic)
	assert.Equal(t, Time{Sec: 0}, got[0].playback)
	assert.Equal(t, "/b1", got[1].topic)
	assert.Equal(t, Time{Sec: 2}, got[1].playback)
	assert.Equal(t, "/b1", got[2].topic)
	assert.Equal(t, Time{Sec: 4}, got[2].playback)
	assert.Equal(t, "/b2", got[3].topic)
	assert.Equal(t, Time{Sec: 7}, got[3].playback)
}

// TestMultiPlayerNonDecreasing plays interleaved bags and only checks the
// merge invariant: delivered playback times never go backwards.
func TestMultiPlayerNonDecreasing(t *testing.T) {
	bag1 := newBagBuilder("#ROSBAG V1.2").
		msgData("/b1", testMD5, "pkg/T", 1, 0, []byte{1}).
		msgData("/b1", testMD5, "pkg/T", 4, 0, []byte{1}).
		msgData("/b1", testMD5, "pkg/T", 9, 0, []byte{1}).
		write(t)
	bag2 := newBagBuilder("#ROSBAG V1.2").
		msgData("/b2", testMD5, "pkg/T", 2, 0, []byte{1}).
		msgData("/b2", testMD5, "pkg/T", 3, 0, []byte{1}).
		msgData("/b2", testMD5, "pkg/T", 8, 0, []byte{1}).
		write(t)

	mp := &MultiPlayer{}
	var got []delivered
	mp.AddRawHandler("*", recordingHandler(&got))

	require.NoError(t, mp.Open([]string{bag1, bag2}, Time{Sec: 10}, 1.0, false))
	defer mp.Close()

	for mp.Advance() {
	}

	require.Len(t, got, 6)
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].playback.Before(got[i-1].playback),
			"playback time went backwards at %d", i)
	}
}

// TestMultiPlayerTieBreak prefers the earlier bag in the open list on
// equal playback times.
func TestMultiPlayerTieBreak(t *testing.T) {
	bag1 := newBagBuilder("#ROSBAG V1.2").
		msgData("/b1", testMD5, "pkg/T", 5, 0, []byte{1}).
		write(t)
	bag2 := newBagBuilder("#ROSBAG V1.2").
		msgData("/b2", testMD5, "pkg/T", 5, 0, []byte{2}).
		write(t)

	mp := &MultiPlayer{}
	var got []delivered
	mp.AddRawHandler("*", recordingHandler(&got))

	require.NoError(t, mp.Open([]string{bag1, bag2}, Time{}, 1.0, false))
	defer mp.Close()

	for mp.Advance() {
	}

	require.Len(t, got, 2)
	assert.Equal(t, "/b1", got[0].topic)
	assert.Equal(t, "/b2", got[1].topic)
}

func TestMultiPlayerOpenFailure(t *testing.T) {
	bag1 := newBagBuilder("#ROSBAG V1.2").
		msgData("/b1", testMD5, "pkg/T", 5, 0, []byte{1}).
		write(t)

	mp := &MultiPlayer{}
	err := mp.Open([]string{bag1, "/nonexistent/missing.bag"}, Time{}, 1.0, false)
	assert.Error(t, err)

	// The partially opened set was destroyed
	_, ok := mp.NextTime()
	assert.False(t, ok)
	assert.False(t, mp.Advance())
}

func TestMultiPlayerShiftFansOut(t *testing.T) {
	bag1 := newBagBuilder("#ROSBAG V1.2").
		msgData("/b1", testMD5, "pkg/T", 5, 0, []byte{1}).
		write(t)
	bag2 := newBagBuilder("#ROSBAG V1.2").
		msgData("/b2", testMD5, "pkg/T", 5, 0, []byte{2}).
		write(t)

	mp := &MultiPlayer{}
	require.NoError(t, mp.Open([]string{bag1, bag2}, Time{Sec: 100}, 1.0, false))
	defer mp.Close()

	mp.Shift(3 * time.Second)
	next, ok := mp.NextTime()
	require.True(t, ok)
	assert.Equal(t, Time{Sec: 103}, next)
}

func TestMultiPlayerHandlersAfterOpen(t *testing.T) {
	bag1 := newBagBuilder("#ROSBAG V1.2").
		msgData("/b1", testMD5, "pkg/T", 5, 0, []byte{1}).
		write(t)

	mp := &MultiPlayer{}
	require.NoError(t, mp.Open([]string{bag1}, Time{}, 1.0, false))
	defer mp.Close()

	// Registration after open still reaches the players
	var got []delivered
	mp.AddRawHandler("*", recordingHandler(&got))

	for mp.Advance() {
	}
	assert.Len(t, got, 1)
}

func TestMultiPlayerDuration(t *testing.T) {
	bag1 := newBagBuilder("#ROSBAG V1.2").
		msgData("/b1", testMD5, "pkg/T", 5, 0, []byte{1}).
		msgData("/b1", testMD5, "pkg/T", 9, 0, []byte{1}).
		write(t)
	bag2 := newBagBuilder("#ROSBAG V1.2").
		msgData("/b2", testMD5, "pkg/T", 3, 0, []byte{1}).
		write(t)

	mp := &MultiPlayer{}
	require.NoError(t, mp.Open([]string{bag1, bag2}, Time{}, 1.0, false))
	defer mp.Close()

	for mp.Advance() {
	}
	assert.Equal(t, Duration{Sec: 4}, mp.Duration())
}
