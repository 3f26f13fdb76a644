package vector

import "math"

// kMeansCentroids runs a fixed number of Lloyd's-algorithm iterations over
// vecs to produce nlist centroids, seeded by evenly spaced samples. This
// favors a simple, trained partitioning over a specific clustering quality
// bar.
func kMeansCentroids(vecs [][]float32, nlist int) [][]float32 {
	if nlist <= 0 || nlist > len(vecs) {
		nlist = len(vecs)
	}
	if nlist == 0 {
		return nil
	}
	dim := len(vecs[0])
	centroids := make([][]float32, nlist)
	step := len(vecs) / nlist
	for i := 0; i < nlist; i++ {
		centroids[i] = append([]float32(nil), vecs[i*step]...)
	}

	const iterations = 8
	for iter := 0; iter < iterations; iter++ {
		sums := make([][]float64, nlist)
		counts := make([]int, nlist)
		for i := range sums {
			sums[i] = make([]float64, dim)
		}
		for _, v := range vecs {
			c := nearestCentroid(centroids, v)
			counts[c]++
			for d := 0; d < dim; d++ {
				sums[c][d] += float64(v[d])
			}
		}
		for i := 0; i < nlist; i++ {
			if counts[i] == 0 {
				continue
			}
			for d := 0; d < dim; d++ {
				centroids[i][d] = float32(sums[i][d] / float64(counts[i]))
			}
		}
	}
	return centroids
}

func nearestCentroid(centroids [][]float32, v []float32) int {
	best, bestDist := 0, math.MaxFloat64
	for i, c := range centroids {
		d := l2sq(c, v)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

// nearestCentroids returns the indices of the nprobe centroids closest to
// query, used to restrict an IVF search to a subset of clusters.
func nearestCentroids(centroids [][]float32, query []float32, nprobe int) []int {
	type scored struct {
		idx  int
		dist float64
	}
	scores := make([]scored, len(centroids))
	for i, c := range centroids {
		scores[i] = scored{idx: i, dist: l2sq(c, query)}
	}
	for i := 1; i < len(scores); i++ {
		j := i
		for j > 0 && scores[j-1].dist > scores[j].dist {
			scores[j-1], scores[j] = scores[j], scores[j-1]
			j--
		}
	}
	if nprobe > len(scores) {
		nprobe = len(scores)
	}
	out := make([]int, nprobe)
	for i := 0; i < nprobe; i++ {
		out[i] = scores[i].idx
	}
	return out
}

func l2sq(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// encodePQ splits v into m subvectors and encodes each as its index into a
// uniform grid of 2^nbits levels per subvector dimension sum — a
// simplified product quantizer that avoids needing a separately trained
// sub-codebook while still reducing storage to one byte per subvector (a
// bucket index wider than 8 bits keeps only its low byte).
func encodePQ(v []float32, m, nbits int) []byte {
	if m <= 0 {
		m = 1
	}
	levels := float64(uint64(1) << uint(nbits))
	subLen := (len(v) + m - 1) / m
	out := make([]byte, m)
	for i := 0; i < m; i++ {
		start := i * subLen
		end := start + subLen
		if end > len(v) {
			end = len(v)
		}
		if start >= end {
			continue
		}
		var energy float64
		for _, x := range v[start:end] {
			energy += float64(x) * float64(x)
		}
		bucket := int(math.Mod(energy*levels, levels))
		out[i] = byte(bucket)
	}
	return out
}

// encodeSQ scalar-quantizes v to bits-per-component fixed-point codes.
func encodeSQ(v []float32, bits int, signed bool) []byte {
	if bits <= 0 || bits > 8 {
		bits = 8
	}
	maxLevel := float64(int(1)<<uint(bits) - 1)
	out := make([]byte, len(v))
	for i, x := range v {
		f := float64(x)
		if signed {
			f = (f + 1) / 2 // map [-1,1] -> [0,1]
		}
		if f < 0 {
			f = 0
		}
		if f > 1 {
			f = 1
		}
		out[i] = byte(f * maxLevel)
	}
	return out
}
