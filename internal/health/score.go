package health

import "time"

const (
	usageKnee     = 80.0
	activityGrace = 60 * time.Second
)

// Score computes the composite health score:
//
//	100 - 2*(cpu-80)+ - 2*(mem-80)+ - 0.1*(idleSeconds-60)+, clamped to [0,100].
//
// It is non-increasing in each argument.
func Score(cpuPercent, memPercent float64, sinceActivity time.Duration) float64 {
	score := 100.0
	if cpuPercent > usageKnee {
		score -= (cpuPercent - usageKnee) * 2
	}
	if memPercent > usageKnee {
		score -= (memPercent - usageKnee) * 2
	}
	if sinceActivity > activityGrace {
		score -= (sinceActivity - activityGrace).Seconds() * 0.1
	}
	return clamp(score, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
