package bufpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetLength(t *testing.T) {
	p := NewPool()

	tests := []struct {
		size    int
		wantCap int
	}{
		{1, SmallSize},
		{SmallSize, SmallSize},
		{SmallSize + 1, MediumSize},
		{MediumSize, MediumSize},
		{MediumSize + 1, LargeSize},
		{LargeSize, LargeSize},
	}
	for _, tt := range tests {
		buf := p.Get(tt.size)
		assert.Len(t, buf, tt.size)
		assert.Equal(t, tt.wantCap, cap(buf))
		p.Put(buf)
	}
}

func TestOversizedNotPooled(t *testing.T) {
	p := NewPool()

	buf := p.Get(LargeSize + 1)
	assert.Len(t, buf, LargeSize+1)
	assert.Equal(t, LargeSize+1, cap(buf))
	p.Put(buf) // no-op, must not panic
}

func TestPutNil(t *testing.T) {
	p := NewPool()
	p.Put(nil)
}

func TestReuse(t *testing.T) {
	p := NewPool()

	buf := p.Get(100)
	buf[0] = 0xff
	p.Put(buf)

	// A reused buffer keeps its tier capacity.
	again := p.Get(200)
	assert.Len(t, again, 200)
	assert.Equal(t, SmallSize, cap(again))
}

func TestGlobalHelpers(t *testing.T) {
	buf := GetUint32(512)
	assert.Len(t, buf, 512)
	Put(buf)
}
