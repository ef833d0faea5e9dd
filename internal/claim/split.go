package claim

import (
	"crypto/rand"
	"math/big"
)

// RandInt returns a uniform integer in [0, max).
type RandInt func(max *big.Int) (*big.Int, error)

// CryptoRand draws from crypto/rand.
func CryptoRand(max *big.Int) (*big.Int, error) {
	return rand.Int(rand.Reader, max)
}

// Split computes the amount of the next claim.
//
// Fixed packets give remaining/count. Random packets draw uniformly from
// [1, 2*remaining/count], keeping at least one base unit for every later claim. The last
// claim always takes what is left.
func Split(remaining *big.Int, count uint32, random bool, rnd RandInt) (*big.Int, error) {
	if count == 0 || remaining.Sign() <= 0 {
		return new(big.Int), nil
	}
	if count == 1 {
		return new(big.Int).Set(remaining), nil
	}
	n := new(big.Int).SetUint64(uint64(count))

	if !random {
		amount := new(big.Int).Quo(remaining, n)
		if amount.Sign() == 0 {
			amount.SetInt64(1)
		}
		return amount, nil
	}

	// upper = min(2*remaining/count, remaining - (count-1)), at least 1
	upper := new(big.Int).Lsh(remaining, 1)
	upper.Quo(upper, n)
	reserve := new(big.Int).Sub(remaining, new(big.Int).SetUint64(uint64(count-1)))
	if reserve.Sign() > 0 && upper.Cmp(reserve) > 0 {
		upper = reserve
	}
	if upper.Sign() <= 0 {
		return big.NewInt(1), nil
	}

	draw, err := rnd(upper)
	if err != nil {
		return nil, err
	}
	return draw.Add(draw, big.NewInt(1)), nil
}
