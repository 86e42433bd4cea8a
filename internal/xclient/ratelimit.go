package xclient

import (
	"os"
	"strconv"

	"golang.org/x/time/rate"
)

// Limit is a token-bucket setting.
type Limit struct {
	RPS   float64
	Burst int
}

var (
	defaultReadLimit  = Limit{RPS: 2, Burst: 10}
	defaultWriteLimit = Limit{RPS: 0.5, Burst: 3}
)

// limitFromEnv applies <prefix>_RPS and <prefix>_BURST overrides to def.
func limitFromEnv(prefix string, def Limit) Limit {
	if v := os.Getenv(prefix + "_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			def.RPS = f
		}
	}
	if v := os.Getenv(prefix + "_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			def.Burst = n
		}
	}
	return def
}

func (l Limit) limiter() *rate.Limiter { return rate.NewLimiter(rate.Limit(l.RPS), l.Burst) }
