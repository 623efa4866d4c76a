package buffer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTupleBufferStampIsImmutableMetadata(t *testing.T) {
	seg := newSegment(64, nil)
	seg.retain()
	b := &TupleBuffer{seg: seg, byteLength: 64, rowSize: 16, createdAt: time.Now()}

	now := time.Now()
	b.Stamp(now, 42, 7)

	assert.Equal(t, now, b.Watermark())
	assert.EqualValues(t, 42, b.SequenceNumber())
	assert.EqualValues(t, 7, b.OriginID())
	assert.Equal(t, 4, b.Capacity())
}

func TestSetTupleCountAndBytesSpan(t *testing.T) {
	seg := newSegment(32, nil)
	seg.retain()
	b := &TupleBuffer{seg: seg, byteLength: 32, rowSize: 8}

	assert.Equal(t, 0, b.TupleCount())
	b.SetTupleCount(3)
	assert.Equal(t, 3, b.TupleCount())
	assert.Len(t, b.Bytes(), 32)
}

func TestReleaseWithoutPoolFreesUnpooledSegment(t *testing.T) {
	seg := newSegment(16, nil)
	seg.retain()
	b := &TupleBuffer{seg: seg, byteLength: 16, rowSize: 4}

	// Releasing an unpooled buffer's last reference is a no-op recycle (no
	// pool to return to); it must not panic.
	assert.NotPanics(t, func() { b.Release() })
}
