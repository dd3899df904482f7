package service

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistributeProportional(t *testing.T) {
	assert.Equal(t, []int64{5000, -1000}, Distribute(4000, []int64{10000, -2000}))
	assert.Equal(t, []int64{34, 33, 33}, Distribute(100, []int64{1, 1, 1}))
	assert.Equal(t, []int64{10000, -2000}, Distribute(8000, []int64{10000, -2000}))
	assert.Equal(t, []int64{0, 0}, Distribute(100, []int64{5, -5}))
}

func TestDistributeAlwaysSumsToAmount(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		n := 1 + rng.Intn(6)
		weights := make([]int64, n)
		var total int64
		for j := range weights {
			weights[j] = int64(rng.Intn(20000))
			if j > 0 && rng.Intn(3) == 0 {
				weights[j] = -int64(rng.Intn(int(weights[0]/2) + 1))
			}
			total += weights[j]
		}
		if total <= 0 {
			continue
		}
		amount := int64(rng.Intn(int(total) + 1))

		var sum int64
		for _, part := range Distribute(amount, weights) {
			sum += part
		}
		if sum != amount {
			t.Fatalf("weights %v amount %d: parts sum to %d", weights, amount, sum)
		}
	}
}
