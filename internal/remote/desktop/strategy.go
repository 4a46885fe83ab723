package desktop

import (
	"slices"
	"sync"
)

// Strategy is one entry of the capture strategy table. Lower Priority values
// are tried first.
type Strategy struct {
	Name     string
	Priority int

	// Available reports whether the readout primitive exists on this host
	Available func() error

	// Bind resolves the strategy's auxiliary parameters for dev and returns
	// a ready reader
	Bind func(dev ScreenDevice) (PixelReader, error)
}

var (
	strategyMu sync.Mutex
	strategies []Strategy
)

// registerStrategy is called from platform init functions.
func registerStrategy(s Strategy) {
	strategyMu.Lock()
	defer strategyMu.Unlock()
	strategies = append(strategies, s)
}

// DefaultStrategies returns the strategies compiled in for this platform,
// in priority order.
func DefaultStrategies() []Strategy {
	strategyMu.Lock()
	out := slices.Clone(strategies)
	strategyMu.Unlock()

	slices.SortStableFunc(out, func(a, b Strategy) int {
		return a.Priority - b.Priority
	})
	return out
}

// SelectStrategies restricts list to the named strategies, keeping priority
// order. An empty names list returns list unchanged.
func SelectStrategies(list []Strategy, names []string) []Strategy {
	if len(names) == 0 {
		return list
	}
	out := make([]Strategy, 0, len(names))
	for _, s := range list {
		if slices.Contains(names, s.Name) {
			out = append(out, s)
		}
	}
	return out
}

// StrategyNames returns the names of list, in order.
func StrategyNames(list []Strategy) []string {
	names := make([]string, len(list))
	for i, s := range list {
		names[i] = s.Name
	}
	return names
}
