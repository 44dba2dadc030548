package cache

var (
	HitsTotal   = hitsTotal
	MissesTotal = missesTotal
)
