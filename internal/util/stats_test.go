package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, " 0.0   B"},
		{99, "99.0   B"},
		{1536, " 1.5 KiB"},
		{3 * 1024 * 1024, " 3.0 MiB"},
	}
	for _, tt := range tests {
		got := formatBytes(tt.in)
		assert.Equal(t, tt.want, got)
		assert.Len(t, got, 8)
	}
}

func TestFormatDelta(t *testing.T) {
	prev := Snapshot{Opens: 1, MsgsSent: 4, BytesSent: 400}

	_, ok := formatDelta(prev, prev, time.Second)
	assert.False(t, ok, "quiet period must be skipped")

	cur := prev
	cur.MsgsSent += 2
	cur.BytesSent += 2048
	cur.Drops++

	line, ok := formatDelta(prev, cur, 2*time.Second)
	assert.True(t, ok)
	assert.Contains(t, line, "Out:  1.0 KiB/s   2 msg")
	assert.Contains(t, line, "Link:  0↑  1↓")
}

func TestStatsCounters(t *testing.T) {
	before := Stats.Snapshot()
	Stats.AddOpen()
	Stats.AddSent(10)
	Stats.AddRecv(3)
	Stats.AddDrop()
	after := Stats.Snapshot()

	assert.Equal(t, int64(1), after.Opens-before.Opens)
	assert.Equal(t, int64(1), after.Drops-before.Drops)
	assert.Equal(t, int64(10), after.BytesSent-before.BytesSent)
	assert.Equal(t, int64(3), after.BytesRecv-before.BytesRecv)
	assert.Equal(t, int64(1), after.MsgsRecv-before.MsgsRecv)
}
