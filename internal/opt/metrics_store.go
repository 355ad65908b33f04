package opt

import (
	"sort"
	"sync"
	"time"
)

// RunMetrics summarizes one finished optimization run.
type RunMetrics struct {
	RunID        string        `json:"runId"`
	SolutionID   string        `json:"solutionId,omitempty"`
	Generations  int           `json:"generations"`
	BestFitness  float64       `json:"bestFitness"`
	StopReason   StopReason    `json:"stopReason"`
	Served       int           `json:"served"`
	Total        int           `json:"total"`
	Rejected     int           `json:"rejected"`
	Seed         int64         `json:"seed"`
	Elapsed      time.Duration `json:"elapsedNs"`
	RecordedAt   time.Time     `json:"recordedAt"`
	MatrixSource string        `json:"matrixSource,omitempty"`
}

// maxRunMetrics bounds the store; the oldest run is dropped first.
const maxRunMetrics = 256

var (
	mu    sync.Mutex
	runs  = map[string]RunMetrics{}
	order []string // run ids, oldest first
)

func RecordRunMetrics(m RunMetrics) {
	if m.RecordedAt.IsZero() {
		m.RecordedAt = time.Now().UTC()
	}
	mu.Lock()
	defer mu.Unlock()
	if _, ok := runs[m.RunID]; !ok {
		for len(order) >= maxRunMetrics {
			delete(runs, order[0])
			order = order[1:]
		}
		order = append(order, m.RunID)
	}
	runs[m.RunID] = m
}

func GetRunMetrics(runID string) (RunMetrics, bool) {
	mu.Lock()
	defer mu.Unlock()
	m, ok := runs[runID]
	return m, ok
}

// RecentRunMetrics returns up to limit runs, newest first.
func RecentRunMetrics(limit int) []RunMetrics {
	mu.Lock()
	out := make([]RunMetrics, 0, len(runs))
	for _, m := range runs {
		out = append(out, m)
	}
	mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.After(out[j].RecordedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
