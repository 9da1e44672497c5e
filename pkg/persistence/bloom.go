package persistence

import (
	"hash/fnv"
	"math"
)

const maxHashCount = 10

// BloomFilter answers "definitely absent" for keys never added to a
// generation. It lives in memory only and is rebuilt on open.
type BloomFilter struct {
	bits   []uint64
	size   uint32
	hashes int
}

func NewBloomFilter(expectedItems int, falsePositiveRate float64) *BloomFilter {
	size := optimalSize(expectedItems, falsePositiveRate)
	return &BloomFilter{
		bits:   make([]uint64, (size+63)/64),
		size:   size,
		hashes: optimalHashCount(expectedItems, size),
	}
}

func (bf *BloomFilter) Add(key string) {
	h1, h2 := bloomHash(key)
	for i := 0; i < bf.hashes; i++ {
		idx := (h1 + uint32(i)*h2) % bf.size
		bf.bits[idx/64] |= 1 << (idx % 64)
	}
}

func (bf *BloomFilter) MayContain(key string) bool {
	h1, h2 := bloomHash(key)
	for i := 0; i < bf.hashes; i++ {
		idx := (h1 + uint32(i)*h2) % bf.size
		if bf.bits[idx/64]&(1<<(idx%64)) == 0 {
			return false
		}
	}
	return true
}

// bloomHash derives two hashes for double hashing from one 64-bit FNV-1a sum.
func bloomHash(key string) (uint32, uint32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	sum := h.Sum64()
	return uint32(sum), uint32(sum>>32) | 1
}

// m = -n*ln(p) / ln(2)^2
func optimalSize(n int, p float64) uint32 {
	if n < 1 {
		n = 1
	}
	if p <= 0 || p >= 1 {
		p = 0.01
	}
	m := math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2))
	if m < 64 {
		m = 64
	}
	if m > math.MaxUint32 {
		m = math.MaxUint32
	}
	return uint32(m)
}

// k = m/n * ln(2)
func optimalHashCount(n int, m uint32) int {
	if n < 1 {
		n = 1
	}
	k := int(math.Round(float64(m) / float64(n) * math.Ln2))
	if k < 1 {
		k = 1
	}
	if k > maxHashCount {
		k = maxHashCount
	}
	return k
}
