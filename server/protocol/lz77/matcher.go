package lz77

// A Match is one step of LZ77 parsing: Unmatched literal bytes followed by a
// back-reference of Length bytes reaching Distance back. Length is zero for
// the trailing literals at the end of input.
type Match struct {
	Unmatched int
	Length    int
	Distance  int
}

const (
	hashBits  = 13
	hashSize  = 1 << hashBits
	maxChain  = 64
	noEntry   = -1
	hashShift = 32 - hashBits
)

// matcher finds greedy longest matches using hash chains over three-byte
// prefixes. The zero value is ready to use.
type matcher struct {
	head [hashSize]int32
	prev []int32
}

func hash3(b []byte) uint32 {
	v := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	return (v * 0x1e35a7bd) >> hashShift
}

func (m *matcher) reset(n int) {
	for i := range m.head {
		m.head[i] = noEntry
	}
	if cap(m.prev) < n {
		m.prev = make([]int32, n)
	}
	m.prev = m.prev[:n]
}

func (m *matcher) insert(src []byte, i int) {
	if i+MinMatch > len(src) {
		return
	}
	h := hash3(src[i:])
	m.prev[i] = m.head[h]
	m.head[h] = int32(i)
}

// FindMatches appends the parse of src to dst.
func (m *matcher) FindMatches(dst []Match, src []byte) []Match {
	m.reset(len(src))

	unmatched := 0
	for i := 0; i < len(src); {
		length, distance := m.longest(src, i)
		if length < MinMatch {
			m.insert(src, i)
			unmatched++
			i++
			continue
		}

		dst = append(dst, Match{Unmatched: unmatched, Length: length, Distance: distance})
		unmatched = 0
		for j := 0; j < length; j++ {
			m.insert(src, i+j)
		}
		i += length
	}
	if unmatched > 0 {
		dst = append(dst, Match{Unmatched: unmatched})
	}
	return dst
}

func (m *matcher) longest(src []byte, i int) (int, int) {
	if i+MinMatch > len(src) {
		return 0, 0
	}
	limit := len(src) - i
	if limit > MaxMatch {
		limit = MaxMatch
	}

	bestLen, bestDist := 0, 0
	cand := m.head[hash3(src[i:])]
	for steps := 0; cand != noEntry && steps < maxChain; steps++ {
		distance := i - int(cand)
		if distance > MaxOffset {
			break
		}
		n := 0
		for n < limit && src[int(cand)+n] == src[i+n] {
			n++
		}
		if n > bestLen {
			bestLen, bestDist = n, distance
			if n == limit {
				break
			}
		}
		cand = m.prev[cand]
	}
	return bestLen, bestDist
}
