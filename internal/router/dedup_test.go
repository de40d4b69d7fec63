package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedupWindowSeen(t *testing.T) {
	w := newDedupWindow(10, time.Minute)

	assert.False(t, w.Seen("t1", "m1"))
	assert.True(t, w.Seen("t1", "m1"), "redelivery within the window is a duplicate")
	assert.False(t, w.Seen("t2", "m1"), "message ids are scoped per tenant")
}

func TestDedupWindowForget(t *testing.T) {
	w := newDedupWindow(10, time.Minute)

	assert.False(t, w.Seen("t1", "m1"))
	w.Forget("t1", "m1")
	assert.False(t, w.Seen("t1", "m1"), "a forgotten entry is processed again")
	assert.True(t, w.Seen("t1", "m1"))
}

func TestDedupWindowTTL(t *testing.T) {
	w := newDedupWindow(10, 50*time.Millisecond)
	current := time.Now()
	w.now = func() time.Time { return current }

	assert.False(t, w.Seen("t1", "m1"))
	current = current.Add(100 * time.Millisecond)
	assert.False(t, w.Seen("t1", "m1"), "expired entries are forgotten")
}

func TestDedupWindowSizeBound(t *testing.T) {
	w := newDedupWindow(3, time.Hour)

	assert.False(t, w.Seen("t1", "m1"))
	assert.False(t, w.Seen("t1", "m2"))
	assert.False(t, w.Seen("t1", "m3"))
	assert.False(t, w.Seen("t1", "m4"), "exceeds the bound, evicting m1")
	assert.False(t, w.Seen("t1", "m1"), "evicted entry no longer counts as seen")
	assert.True(t, w.Seen("t1", "m4"))
}
