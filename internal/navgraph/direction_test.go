package navgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOppositeDirection(t *testing.T) {
	for dir := 0; dir < 8; dir++ {
		opp := OppositeDirection(dir)
		assert.Equal(t, dir, OppositeDirection(opp))

		dx, dz := DirectionOffset(dir)
		ox, oz := DirectionOffset(opp)
		assert.Equal(t, -dx, ox, "направление %d", dir)
		assert.Equal(t, -dz, oz, "направление %d", dir)
	}
}

func TestDiagonalFlanks(t *testing.T) {
	for dir := 4; dir < 8; dir++ {
		dx, dz := DirectionOffset(dir)
		ax, az := DirectionOffset(dir - 4)
		bx, bz := DirectionOffset((dir - 3) & 3)
		assert.Equal(t, dx, ax+bx, "диагональ %d", dir)
		assert.Equal(t, dz, az+bz, "диагональ %d", dir)
	}
}

func TestDirectionMask(t *testing.T) {
	assert.Equal(t, uint8(0x0F), NeighboursFour.DirectionMask())
	assert.Equal(t, uint8(0xFF), NeighboursEight.DirectionMask())
	assert.Equal(t, uint8(1<<0|1<<1|1<<2|1<<3|1<<5|1<<7), NeighboursSix.DirectionMask())
}

func TestErosionDirectionsFollowMode(t *testing.T) {
	assert.Equal(t, []int{0, 1, 2, 3}, NeighboursFour.erosionDirections())
	assert.Equal(t, []int{0, 1, 2, 3, 5, 7}, NeighboursSix.erosionDirections())
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, NeighboursEight.erosionDirections())
}

func TestDirectionCosts(t *testing.T) {
	costs := DirectionCosts(NeighboursEight, 1, false)
	assert.Equal(t, uint32(1000), costs[DirNorth])
	assert.Equal(t, uint32(1414), costs[DirNorthEast])

	costs = DirectionCosts(NeighboursEight, 2, true)
	assert.Equal(t, uint32(2000), costs[DirWest])
	assert.Equal(t, uint32(2000), costs[DirSouthWest])

	costs = DirectionCosts(NeighboursSix, 1, false)
	assert.Equal(t, uint32(816), costs[DirEast])
	assert.Equal(t, uint32(1155), costs[DirSouthEast])
}
