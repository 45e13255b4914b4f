package loom

// scheduler.go implements the dependency-ordered, phase-based system
// scheduler of spec.md §4.7. There is no teacher analog for this piece —
// TheBitDrifter/warehouse has no scheduler at all — so it is grounded in
// the wider pack's concurrency idiom instead: Voskan-arena-cache's go.mod
// pulls in golang.org/x/sync, there used for singleflight; here its
// sibling package errgroup supplies the fixed-size worker pool and the
// barrier between scheduler levels ((*errgroup.Group).Wait). Read/write
// conflict detection uses github.com/TheBitDrifter/mask's Mask256, the
// teacher's fixed-width bitset, which is a good fit here because a
// system's declared component sets are a small, closed set known at
// registration time (unlike ArchetypeSignature, which must grow without
// bound — see signature.go and DESIGN.md).

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/TheBitDrifter/bark"
	"github.com/TheBitDrifter/mask"
	"golang.org/x/sync/errgroup"
)

// Phase tags when in a frame a system runs. The three named phases are
// conventional; callers may declare additional custom phases.
type Phase string

const (
	PhaseEarlyUpdate Phase = "EarlyUpdate"
	PhaseUpdate      Phase = "Update"
	PhaseLateUpdate  Phase = "LateUpdate"
)

// SystemFunc is the unit of work a System runs.
type SystemFunc func(ctx context.Context, w *World) error

// SystemSpec declares one system's scheduling contract.
type SystemSpec struct {
	Name     string
	Phase    Phase
	RunAfter []string
	Reads    []ComponentTypeID
	Writes   []ComponentTypeID
	Run      SystemFunc
}

type registeredSystem struct {
	spec  SystemSpec
	order int
	reads mask.Mask256
	writes mask.Mask256
}

func conflictMask(ids []ComponentTypeID) mask.Mask256 {
	var m mask.Mask256
	for _, id := range ids {
		m.Mark(uint32(id))
	}
	return m
}

// conflicts reports whether a and b must not run concurrently: either
// declares a write to something the other reads or writes.
func (a *registeredSystem) conflicts(b *registeredSystem) bool {
	if a.writes.ContainsAny(b.writes) || a.writes.ContainsAny(b.reads) || b.writes.ContainsAny(a.reads) {
		return true
	}
	return false
}

// SystemScheduler orders registered systems by explicit run-after edges
// plus implicit edges derived from read/write conflicts, grouping
// non-conflicting systems into parallel batches ("levels") per phase.
type SystemScheduler struct {
	world   *World
	workers int

	mu        sync.Mutex
	systems   map[string]*registeredSystem
	order     []string // registration order, for deterministic tiebreaks
	phaseList []Phase  // phases in first-seen order

	levelsDirty bool
	levels      map[Phase][][]*registeredSystem
}

func newSystemScheduler(world *World, workers int) *SystemScheduler {
	return &SystemScheduler{
		world:   world,
		workers: workers,
		systems: make(map[string]*registeredSystem, 16),
	}
}

// Register adds a system. Registration fails (the system is not added)
// if spec.RunAfter names an unknown system or the resulting run_after
// graph contains a cycle.
func (s *SystemScheduler) Register(spec SystemSpec) error {
	if spec.Name == "" {
		return InvalidOperationError{Reason: "system name must not be empty"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.systems[spec.Name]; exists {
		return InvalidOperationError{Reason: fmt.Sprintf("system %q already registered", spec.Name)}
	}
	for _, dep := range spec.RunAfter {
		if _, ok := s.systems[dep]; !ok {
			return InvalidOperationError{Reason: fmt.Sprintf("system %q run_after unknown system %q", spec.Name, dep)}
		}
	}

	rs := &registeredSystem{
		spec:   spec,
		order:  len(s.order),
		reads:  conflictMask(spec.Reads),
		writes: conflictMask(spec.Writes),
	}

	s.systems[spec.Name] = rs
	s.order = append(s.order, spec.Name)
	if !s.hasPhase(spec.Phase) {
		s.phaseList = append(s.phaseList, spec.Phase)
	}

	if err := s.detectCycleLocked(); err != nil {
		// Roll back: this registration introduced the cycle.
		delete(s.systems, spec.Name)
		s.order = s.order[:len(s.order)-1]
		return err
	}
	s.levelsDirty = true
	return nil
}

func (s *SystemScheduler) hasPhase(p Phase) bool {
	for _, existing := range s.phaseList {
		if existing == p {
			return true
		}
	}
	return false
}

func (s *SystemScheduler) detectCycleLocked() error {
	const (white = 0
		gray = 1
		black = 2
	)
	color := make(map[string]int, len(s.systems))
	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			return InvalidOperationError{Reason: fmt.Sprintf("cycle in run_after graph at system %q", name)}
		}
		color[name] = gray
		for _, dep := range s.systems[name].spec.RunAfter {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[name] = black
		return nil
	}
	for name := range s.systems {
		if color[name] == white {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// buildLevels computes, per phase, the toposorted levels of systems:
// explicit run_after edges plus implicit read/write conflict edges
// determine precedence; systems with no pairwise conflict sharing the
// same "wave" are grouped into one level and may run concurrently.
// Ties are broken by registration order for determinism (spec.md §4.7).
func (s *SystemScheduler) buildLevels() map[Phase][][]*registeredSystem {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.levelsDirty && s.levels != nil {
		return s.levels
	}

	byPhase := make(map[Phase][]*registeredSystem)
	for _, name := range s.order {
		rs := s.systems[name]
		byPhase[rs.spec.Phase] = append(byPhase[rs.spec.Phase], rs)
	}

	levels := make(map[Phase][][]*registeredSystem, len(byPhase))
	for phase, members := range byPhase {
		levels[phase] = levelizePhase(members)
	}

	s.levels = levels
	s.levelsDirty = false
	return levels
}

func levelizePhase(members []*registeredSystem) [][]*registeredSystem {
	n := len(members)
	indexOf := make(map[string]int, n)
	for i, rs := range members {
		indexOf[rs.spec.Name] = i
	}

	// deps[i] = set of j that must complete before i runs: explicit
	// run_after plus implicit conflict edges (earlier registration order
	// first, per the deterministic tiebreak rule).
	deps := make([][]int, n)
	for i, rs := range members {
		for _, dep := range rs.spec.RunAfter {
			if j, ok := indexOf[dep]; ok {
				deps[i] = append(deps[i], j)
			}
		}
		for j, other := range members {
			if j == i {
				continue
			}
			if other.order < rs.order && rs.conflicts(other) {
				deps[i] = append(deps[i], j)
			}
		}
	}

	done := make([]bool, n)
	var result [][]*registeredSystem
	remaining := n
	for remaining > 0 {
		var wave []int
		for i := 0; i < n; i++ {
			if done[i] {
				continue
			}
			ready := true
			for _, d := range deps[i] {
				if !done[d] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, i)
			}
		}
		if len(wave) == 0 {
			// Unreachable given cycle detection at registration time.
			panic(bark.AddTrace(fmt.Errorf("loom: scheduler deadlock building levels")))
		}
		sort.Slice(wave, func(a, b int) bool { return members[wave[a]].order < members[wave[b]].order })
		level := make([]*registeredSystem, len(wave))
		for i, idx := range wave {
			level[i] = members[idx]
			done[idx] = true
		}
		result = append(result, level)
		remaining -= len(wave)
	}
	return result
}

// canonicalPhaseRank orders the three conventional phases before any
// custom phase, regardless of registration order (spec.md §4.7: frames
// always run EarlyUpdate, then Update, then LateUpdate).
func canonicalPhaseRank(p Phase) int {
	switch p {
	case PhaseEarlyUpdate:
		return 0
	case PhaseUpdate:
		return 1
	case PhaseLateUpdate:
		return 2
	default:
		return 3
	}
}

// Phases returns every phase with at least one registered system, ordered
// EarlyUpdate, Update, LateUpdate, then any custom phases in the order
// they were first registered.
func (s *SystemScheduler) Phases() []Phase {
	s.mu.Lock()
	out := make([]Phase, len(s.phaseList))
	copy(out, s.phaseList)
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return canonicalPhaseRank(out[i]) < canonicalPhaseRank(out[j])
	})
	return out
}

// SystemError pairs a failing system's name with the error it produced.
type SystemError struct {
	System string
	Err    error
}

func (e SystemError) Error() string { return fmt.Sprintf("system %q: %v", e.System, e.Err) }

// PhaseError aggregates every system failure observed while running one
// phase. Sibling systems still run even when some fail (spec.md §4.7).
type PhaseError struct {
	Phase  Phase
	Errors []SystemError
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("loom: phase %s had %d failing system(s): %v", e.Phase, len(e.Errors), e.Errors)
}

// RunPhase executes every level of phase in order, dispatching each
// level's systems onto the worker pool and waiting at a barrier before
// the next level starts.
func (s *SystemScheduler) RunPhase(ctx context.Context, phase Phase) error {
	levels := s.buildLevels()[phase]
	var faults []SystemError
	var faultMu sync.Mutex

	for _, level := range levels {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.workers)
		for _, rs := range level {
			rs := rs
			g.Go(func() error {
				if err := runSystemSafely(gctx, s.world, rs.spec); err != nil {
					faultMu.Lock()
					faults = append(faults, SystemError{System: rs.spec.Name, Err: err})
					faultMu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	if len(faults) > 0 {
		return &PhaseError{Phase: phase, Errors: faults}
	}
	return nil
}

func runSystemSafely(ctx context.Context, w *World, spec SystemSpec) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return spec.Run(ctx, w)
}

// RunAll executes every phase in the order Phases returns and returns
// the first phase's aggregate error, if any — every phase still runs
// regardless of earlier phase failures, matching the "sibling systems
// still run" guarantee at the phase level.
func (s *SystemScheduler) RunAll(ctx context.Context) error {
	var first error
	for _, phase := range s.Phases() {
		if err := s.RunPhase(ctx, phase); err != nil && first == nil {
			first = err
		}
	}
	return first
}
