package availability

import (
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultGridCacheSize = 128

// GenerateGrid lists the bookable time points between start (inclusive) and
// end (exclusive) every interval minutes, formatted HH:MM.
func GenerateGrid(start, end string, interval int) ([]string, error) {
	from, err := parseClock(start)
	if err != nil {
		return nil, err
	}
	to, err := parseClock(end)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		return nil, fmt.Errorf("%w: interval must be positive, got %d", ErrInvalidSchedule, interval)
	}
	if from >= to {
		return nil, fmt.Errorf("%w: start %s is not before end %s", ErrInvalidSchedule, start, end)
	}

	grid := make([]string, 0, (to-from+interval-1)/interval)
	for m := from; m < to; m += interval {
		grid = append(grid, formatClock(m))
	}
	return grid, nil
}

// parseClock turns "HH:MM" into minutes after midnight.
func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, fmt.Errorf("%w: time %q must be HH:MM", ErrInvalidSchedule, s)
	}
	h, errH := strconv.Atoi(hh)
	m, errM := strconv.Atoi(mm)
	if errH != nil || errM != nil || h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("%w: time %q out of range", ErrInvalidSchedule, s)
	}
	return h*60 + m, nil
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

type gridKey struct {
	start    string
	end      string
	interval int
}

// GridCache memoises GenerateGrid. The key is the full working-hours triple,
// so a reconfigured interval always misses and builds a new grid.
type GridCache struct {
	cache *lru.Cache[gridKey, []string]
}

func NewGridCache(size int) *GridCache {
	if size <= 0 {
		size = DefaultGridCacheSize
	}
	// lru.New only fails for non-positive sizes.
	c, _ := lru.New[gridKey, []string](size)
	return &GridCache{cache: c}
}

// Grid returns a copy of the grid for the given working hours.
func (g *GridCache) Grid(start, end string, interval int) ([]string, error) {
	key := gridKey{start: start, end: end, interval: interval}
	if grid, ok := g.cache.Get(key); ok {
		return append([]string(nil), grid...), nil
	}

	grid, err := GenerateGrid(start, end, interval)
	if err != nil {
		return nil, err
	}
	g.cache.Add(key, grid)
	return append([]string(nil), grid...), nil
}

func (g *GridCache) Len() int {
	return g.cache.Len()
}
