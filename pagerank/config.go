package pagerank

import (
	"fmt"
	"io"
	"runtime"

	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"

	"github.com/mycok/blockrank/dataset"
)

//go:generate mockgen -package mocks -destination mocks/mock_store.go github.com/mycok/blockrank/dataset Store

const (
	defaultDivisions         = 2
	defaultEpsilon           = 1e-5
	defaultTeleportationRate = 0.15
	defaultMaxIterations     = 300
)

// Config encapsulates the configuration options for creating a Calculator.
type Config struct {
	// Store holds every dataset produced while computing the scores.
	Store dataset.Store

	// The number of blocks the page ID space is split into. It also
	// controls the number of reduce tasks used by the block multiplication
	// stage. If not specified, a default value of 2 will be used instead.
	Divisions int

	// The sum of absolute differences between two successive rank vectors
	// below which the scores are considered converged. If not specified, a
	// default value of 1e-5 will be used instead.
	Epsilon float64

	// The probability that a random surfer jumps to a random page instead of
	// following a link. If not specified, a default value of 0.15 will be
	// used instead.
	TeleportationRate float64

	// The maximum number of iterations to run before giving up on
	// convergence. If not specified, a default value of 300 will be used
	// instead.
	MaxIterations int

	// The number of map and reduce tasks to run concurrently. If not
	// specified, runtime.NumCPU() will be used instead.
	Workers int

	// A clock instance for measuring stage durations. If not specified,
	// the default wall-clock will be used instead.
	Clock clock.Clock

	// The logger to use. If not defined an output-discarding logger will
	// be used instead.
	Logger *logrus.Entry
}

func (cfg *Config) validate() error {
	var err error

	if cfg.Store == nil {
		err = multierror.Append(err, fmt.Errorf("dataset store not provided"))
	}

	if cfg.Divisions < 0 {
		err = multierror.Append(err, fmt.Errorf("invalid value for divisions, must be > 0"))
	} else if cfg.Divisions == 0 {
		cfg.Divisions = defaultDivisions
	}

	if cfg.Epsilon < 0 {
		err = multierror.Append(err, fmt.Errorf("invalid value for epsilon, must be > 0"))
	} else if cfg.Epsilon == 0 {
		cfg.Epsilon = defaultEpsilon
	}

	if cfg.TeleportationRate < 0 || cfg.TeleportationRate >= 1 {
		err = multierror.Append(err, fmt.Errorf("invalid value for teleportation rate, must be in [0, 1)"))
	} else if cfg.TeleportationRate == 0 {
		cfg.TeleportationRate = defaultTeleportationRate
	}

	if cfg.MaxIterations < 0 {
		err = multierror.Append(err, fmt.Errorf("invalid value for max iterations, must be > 0"))
	} else if cfg.MaxIterations == 0 {
		cfg.MaxIterations = defaultMaxIterations
	}

	if cfg.Workers < 0 {
		err = multierror.Append(err, fmt.Errorf("invalid value for workers, must be > 0"))
	} else if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}

	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}

	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard})
	}

	return err
}
