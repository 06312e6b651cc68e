package resolver

// Preference boost deltas. Affinity is the listener's [0,1] score for the
// genre; 0.5 is neutral.
const (
	StrongAffinity     = 0.7
	StrongAffinityGain = 0.15
	MildAffinity       = 0.6
	MildAffinityGain   = 0.08
	StrongAversion     = 0.3
	StrongAversionLoss = 0.15
	MildAversion       = 0.4
	MildAversionLoss   = 0.08
	HighSkipRate       = 0.5
	HighSkipLoss       = 0.10
)

// Boost adjusts an ML confidence by listener preference and clamps the
// result to [0,1].
func Boost(conf, affinity, skipRate float64) float64 {
	switch {
	case affinity >= StrongAffinity:
		conf += StrongAffinityGain
	case affinity >= MildAffinity:
		conf += MildAffinityGain
	case affinity <= StrongAversion:
		conf -= StrongAversionLoss
	case affinity <= MildAversion:
		conf -= MildAversionLoss
	}
	if skipRate > HighSkipRate {
		conf -= HighSkipLoss
	}
	return clamp01(conf)
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
