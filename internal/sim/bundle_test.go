package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSegmentationCoversBundle(t *testing.T) {
	cases := []struct {
		size, segSize, want int
	}{
		{2048, 1024, 2},
		{2049, 1024, 3},
		{1, 1024, 1},
		{1024, 1024, 1},
		{5000, 1400, 4},
	}
	for _, tc := range cases {
		b := createBundle(1, 0, 1, tc.size, Normal, 0.0, 100.0, 0)
		n := b.segmentCount(tc.segSize)
		assert.Equal(t, tc.want, n, "size %d seg %d", tc.size, tc.segSize)

		// re-segmenting yields segments whose summed payload equals the size
		total := 0
		for idx := 0; idx < n; idx++ {
			sb := b.segmentBytes(idx, tc.segSize)
			assert.Greater(t, sb, 0)
			assert.LessOrEqual(t, sb, tc.segSize)
			total += sb
		}
		assert.Equal(t, tc.size, total)
	}
}

func TestBundleVisitGrowsOnce(t *testing.T) {
	b := createBundle(1, 3, 7, 512, High, 0.0, 60.0, 0)
	assert.True(t, b.visited(3))

	b.visit(5)
	b.visit(5)
	assert.True(t, b.visited(5))
	assert.Len(t, b.Visited, 2)
}

func TestBundleCloneIsIndependent(t *testing.T) {
	b := createBundle(1, 0, 4, 512, Low, 0.0, 60.0, 4)
	nb := b.clone()

	nb.visit(2)
	nb.HopCount++
	nb.Tokens = 2

	assert.False(t, b.visited(2))
	assert.Equal(t, 0, b.HopCount)
	assert.Equal(t, 4, b.Tokens)
	assert.Equal(t, b.ID, nb.ID)
}

func TestBundleTotalOrder(t *testing.T) {
	hi := createBundle(1, 0, 1, 10, High, 0.0, 100.0, 0)
	lo := createBundle(2, 0, 1, 10, Low, 0.0, 10.0, 0)
	assert.True(t, hi.before(lo))
	assert.False(t, lo.before(hi))

	// same class, earlier deadline wins
	a := createBundle(3, 0, 1, 10, Normal, 0.0, 50.0, 0)
	b := createBundle(4, 0, 1, 10, Normal, 0.0, 60.0, 0)
	assert.True(t, a.before(b))

	// full tie decided by id
	c := createBundle(5, 0, 1, 10, Normal, 0.0, 50.0, 0)
	assert.True(t, a.before(c))
}
