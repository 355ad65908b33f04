package opt

import (
	"context"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Params tune the generational search.
type Params struct {
	PopulationSize  int
	MaxGenerations  int
	CrossoverRate   float64
	MutationRate    float64
	ElitismRate     float64
	TournamentSize  int
	StagnationLimit int           // generations without improvement before stopping; 0 disables
	Seed            int64         // 0 seeds from the clock; the seed used is reported in the Result
	TimeBudget      time.Duration // 0 means no deadline
	Workers         int           // parallel evaluations; 0 means GOMAXPROCS
}

// DefaultTimeBudget bounds a run started with default parameters.
const DefaultTimeBudget = 30 * time.Second

func DefaultParams() Params {
	return Params{
		PopulationSize:  50,
		MaxGenerations:  100,
		CrossoverRate:   0.8,
		MutationRate:    0.2,
		ElitismRate:     0.1,
		TournamentSize:  3,
		StagnationLimit: 20,
		TimeBudget:      DefaultTimeBudget,
	}
}

func (p Params) normalized() Params {
	d := DefaultParams()
	if p.PopulationSize < 1 {
		p.PopulationSize = d.PopulationSize
	}
	if p.MaxGenerations < 1 {
		p.MaxGenerations = d.MaxGenerations
	}
	if p.TournamentSize < 1 {
		p.TournamentSize = d.TournamentSize
	}
	if p.StagnationLimit < 0 {
		p.StagnationLimit = 0
	}
	if p.Workers < 1 {
		p.Workers = runtime.GOMAXPROCS(0)
	}
	p.CrossoverRate = clamp01(p.CrossoverRate)
	p.MutationRate = clamp01(p.MutationRate)
	p.ElitismRate = clamp01(p.ElitismRate)
	return p
}

func clamp01(v float64) float64 { return math.Max(0, math.Min(1, v)) }

type StopReason string

const (
	StopMaxGenerations StopReason = "max_generations"
	StopStagnation     StopReason = "stagnation"
	StopDeadline       StopReason = "deadline"
	StopCancelled      StopReason = "cancelled"
)

// Progress is reported once per generation.
type Progress struct {
	Generation     int
	BestFitness    float64
	GenerationBest float64
	Improved       bool
}

type Result struct {
	Best        *Solution
	Breakdown   Breakdown
	Generations int
	StopReason  StopReason
	History     []float64 // best-ever fitness after each generation
	Rejected    []Rejection
	Seed        int64
	Elapsed     time.Duration
}

// Search runs the genetic algorithm over one problem.
type Search struct {
	Problem    *Problem
	Params     Params
	Config     Config
	Logger     logrus.FieldLogger
	OnProgress func(Progress)
}

// Run executes generations until the generation cap, stagnation, the time
// budget or ctx cancellation stops it. Only ErrEmptyPopulation and a context
// error before the first generation completes are returned as errors.
func (s *Search) Run(ctx context.Context) (*Result, error) {
	params := s.Params.normalized()
	log := s.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	seed := params.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	start := time.Now()
	var deadline time.Time
	if params.TimeBudget > 0 {
		deadline = start.Add(params.TimeBudget)
	}

	builder := NewBuilder(s.Config, rng)
	ops := NewOperators(builder, rng)
	eval := NewEvaluator(s.Config)

	pop := builder.Population(s.Problem, params.PopulationSize)
	if len(pop) == 0 {
		return nil, ErrEmptyPopulation
	}

	res := &Result{Seed: seed}
	var best *Solution
	stagnant := 0
	for gen := 1; ; gen++ {
		scores, err := evaluateAll(ctx, eval, pop, params.Workers)
		if err != nil {
			if best == nil {
				return nil, err
			}
			res.StopReason = StopCancelled
			break
		}
		top := 0
		for i := range scores {
			if scores[i] < scores[top] {
				top = i
			}
		}
		improved := best == nil || scores[top] < best.Fitness
		if improved {
			best = pop[top].Clone()
			stagnant = 0
		} else {
			stagnant++
		}
		res.Generations = gen
		res.History = append(res.History, best.Fitness)
		if s.OnProgress != nil {
			s.OnProgress(Progress{Generation: gen, BestFitness: best.Fitness, GenerationBest: scores[top], Improved: improved})
		}
		log.WithFields(logrus.Fields{"generation": gen, "best": best.Fitness, "stagnant": stagnant}).Debug("generation evaluated")

		if gen >= params.MaxGenerations {
			res.StopReason = StopMaxGenerations
			break
		}
		if params.StagnationLimit > 0 && stagnant >= params.StagnationLimit {
			res.StopReason = StopStagnation
			break
		}
		if ctx.Err() != nil {
			res.StopReason = StopCancelled
			break
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			res.StopReason = StopDeadline
			break
		}
		pop = nextGeneration(pop, scores, params, ops)
	}

	res.Best = best
	res.Breakdown = best.Breakdown
	res.Elapsed = time.Since(start)
	log.WithFields(logrus.Fields{
		"generations": res.Generations,
		"fitness":     best.Fitness,
		"served":      len(best.Assignment),
		"unserved":    best.Breakdown.Unserved,
		"stop":        res.StopReason,
		"seed":        seed,
	}).Info("search finished")
	return res, nil
}

// evaluateAll scores every individual in parallel. Individuals own their
// routes and the problem is read-only, so no locking is needed.
func evaluateAll(ctx context.Context, e *Evaluator, pop []*Solution, workers int) ([]float64, error) {
	scores := make([]float64, len(pop))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, ind := range pop {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			scores[i], _ = e.Evaluate(ind)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

func nextGeneration(pop []*Solution, scores []float64, params Params, ops *Operators) []*Solution {
	size := params.PopulationSize
	order := make([]int, len(pop))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] < scores[order[b]] })

	elite := int(math.Ceil(float64(size) * params.ElitismRate))
	if elite > len(order) {
		elite = len(order)
	}
	next := make([]*Solution, 0, size)
	for _, i := range order[:elite] {
		next = append(next, pop[i].Clone())
	}
	for len(next) < size {
		p1 := ops.Tournament(pop, scores, params.TournamentSize)
		p2 := ops.Tournament(pop, scores, params.TournamentSize)
		c1, c2 := ops.Crossover(p1, p2, params.CrossoverRate)
		ops.Mutate(c1, params.MutationRate)
		ops.Mutate(c2, params.MutationRate)
		next = append(next, c1)
		if len(next) < size {
			next = append(next, c2)
		}
	}
	return next
}
