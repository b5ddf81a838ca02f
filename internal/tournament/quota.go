package tournament

import (
	"math"
	"sort"

	"github.com/kozaktomas/album-curator/internal/constants"
)

// PreferenceRatios converts elo ratings into keep ratios. The learned
// softmax over (elo - mean) / temperature is blended with a uniform prior,
// trusting it fully after BlendMatches matches. Ratios sum to 1.
func PreferenceRatios(elos []float64, totalMatches int) (ratios []float64, beta float64) {
	n := len(elos)
	if n == 0 {
		return nil, 0
	}

	var mean float64
	for _, e := range elos {
		mean += e
	}
	mean /= float64(n)

	weights := make([]float64, n)
	var total float64
	for i, e := range elos {
		weights[i] = math.Exp((e - mean) / constants.RatioTemperature)
		total += weights[i]
	}
	if math.IsNaN(total) || math.IsInf(total, 0) || total <= 0 {
		for i := range weights {
			weights[i] = 1
		}
		total = float64(n)
	}

	beta = clamp(float64(totalMatches)/constants.BlendMatches, 0, 1)
	uniform := 1 / float64(n)
	ratios = make([]float64, n)
	var sum float64
	for i := range weights {
		ratios[i] = beta*(weights[i]/total) + (1-beta)*uniform
		sum += ratios[i]
	}
	if math.IsNaN(sum) || sum <= 0 {
		for i := range ratios {
			ratios[i] = uniform
		}
		return ratios, beta
	}
	for i := range ratios {
		ratios[i] /= sum
	}
	return ratios, beta
}

// LargestRemainder splits total into integer parts proportional to ratios.
// Leftover units go to the largest fractional remainders, ties to the
// smaller id. The parts always sum to total.
func LargestRemainder(ratios []float64, ids []int, total int) []int {
	n := len(ratios)
	parts := make([]int, n)
	if n == 0 || total <= 0 {
		return parts
	}

	var ratioSum float64
	for _, r := range ratios {
		if r > 0 && !math.IsInf(r, 0) {
			ratioSum += r
		}
	}

	raw := make([]float64, n)
	assigned := 0
	for i, r := range ratios {
		if ratioSum > 0 && r > 0 && !math.IsInf(r, 0) {
			raw[i] = r / ratioSum * float64(total)
		} else if ratioSum <= 0 {
			raw[i] = float64(total) / float64(n)
		}
		parts[i] = int(math.Floor(raw[i]))
		assigned += parts[i]
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		fa := raw[order[a]] - float64(parts[order[a]])
		fb := raw[order[b]] - float64(parts[order[b]])
		if fa != fb {
			return fa > fb
		}
		return ids[order[a]] < ids[order[b]]
	})

	// Floating error can leave more than n units; cycle until exact.
	for remain := total - assigned; remain > 0; {
		for _, idx := range order {
			if remain == 0 {
				break
			}
			parts[idx]++
			remain--
		}
	}
	return parts
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Allocation is the keep quota of one cluster.
type Allocation struct {
	Requested int
	Keep      int
	Capped    bool
}

// Apportion distributes total keeps by ratio with largest remainder and
// caps each cluster at its size. Requested counts always sum to total.
func Apportion(ratios []float64, ids, sizes []int, total int) []Allocation {
	parts := LargestRemainder(ratios, ids, total)
	out := make([]Allocation, len(parts))
	for i, req := range parts {
		keep := min(req, max(0, sizes[i]))
		out[i] = Allocation{Requested: req, Keep: keep, Capped: keep < req}
	}
	return out
}
