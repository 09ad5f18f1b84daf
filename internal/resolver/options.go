// Package resolver decides, for every face without a confirmed person, whether
// it matches a known person, joins a cluster of look-alike faces, or stays
// unresolved.
package resolver

import (
	"github.com/kozaktomas/face-resolver/internal/config"
	"github.com/kozaktomas/face-resolver/internal/constants"
)

// Options holds the tuning of a resolution pass. Distances are squared L2.
type Options struct {
	KNearest         int
	RelativeSlack    float64
	MaxCandidates    int
	ClusterThreshold float64
	Workers          int
}

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{
		KNearest:         5,
		RelativeSlack:    0.10,
		MaxCandidates:    3,
		ClusterThreshold: 10,
		Workers:          constants.WorkerPoolSize,
	}
}

// OptionsFromConfig copies the resolver section of the configuration.
func OptionsFromConfig(cfg config.ResolverConfig) Options {
	opts := Options{
		KNearest:         cfg.KNearest,
		RelativeSlack:    cfg.RelativeSlack,
		MaxCandidates:    cfg.MaxCandidates,
		ClusterThreshold: cfg.ClusterThreshold,
		Workers:          cfg.Workers,
	}
	if opts.Workers <= 0 {
		opts.Workers = constants.WorkerPoolSize
	}
	return opts
}
