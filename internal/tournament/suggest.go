package tournament

import (
	"math"
	"sort"
)

// Pair is the next two clusters to show side by side.
type Pair struct {
	Left  int `json:"left_cluster_id"`
	Right int `json:"right_cluster_id"`
}

// Suggest picks the next pair. During warmup the least played clusters
// meet; afterwards neighbours in the current ranking with the fewest games
// and the closest ratings. The previous pair is avoided when possible.
func Suggest(s *State) (Pair, bool) {
	if s.Done || len(s.Clusters) < 2 {
		return Pair{}, false
	}

	var candidates []Pair
	if s.TotalMatches < s.MaxWarmupMatches {
		candidates = warmupPairs(s)
	} else {
		candidates = neighbourPairs(s)
	}

	if len(s.Matches) > 0 {
		last := s.Matches[len(s.Matches)-1]
		for _, p := range candidates {
			if !samePair(p, last.Left, last.Right) {
				return p, true
			}
		}
	}
	return candidates[0], true
}

func warmupPairs(s *State) []Pair {
	order := make([]ClusterState, len(s.Clusters))
	copy(order, s.Clusters)
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].Games != order[j].Games {
			return order[i].Games < order[j].Games
		}
		return order[i].ClusterID < order[j].ClusterID
	})

	first := order[0]
	rest := order[1:]
	sort.SliceStable(rest, func(i, j int) bool {
		if rest[i].Games != rest[j].Games {
			return rest[i].Games < rest[j].Games
		}
		di := math.Abs(rest[i].Elo - first.Elo)
		dj := math.Abs(rest[j].Elo - first.Elo)
		if di != dj {
			return di < dj
		}
		return rest[i].ClusterID < rest[j].ClusterID
	})

	pairs := make([]Pair, 0, len(rest))
	for _, c := range rest {
		pairs = append(pairs, Pair{Left: first.ClusterID, Right: c.ClusterID})
	}
	return pairs
}

func neighbourPairs(s *State) []Pair {
	ranking := s.Ranking()
	type scored struct {
		pair  Pair
		games int
		gap   float64
		rank  int
	}
	list := make([]scored, 0, len(ranking)-1)
	for i := 0; i+1 < len(ranking); i++ {
		a, _ := s.Cluster(ranking[i])
		b, _ := s.Cluster(ranking[i+1])
		list = append(list, scored{
			pair:  Pair{Left: a.ClusterID, Right: b.ClusterID},
			games: a.Games + b.Games,
			gap:   math.Abs(a.Elo - b.Elo),
			rank:  i,
		})
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].games != list[j].games {
			return list[i].games < list[j].games
		}
		if list[i].gap != list[j].gap {
			return list[i].gap < list[j].gap
		}
		return list[i].rank < list[j].rank
	})
	pairs := make([]Pair, len(list))
	for i, sc := range list {
		pairs[i] = sc.pair
	}
	return pairs
}

func samePair(p Pair, a, b int) bool {
	return (p.Left == a && p.Right == b) || (p.Left == b && p.Right == a)
}
