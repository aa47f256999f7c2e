package scenario

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/embedmem/tagmem/memutils/heap"
	"github.com/embedmem/tagmem/tagmem"
	"github.com/embedmem/tagmem/trace"
	"golang.org/x/exp/slog"
)

// StepResult describes what happened when a step ran
type StepResult struct {
	Step    Step
	Outcome string
}

// Result is the outcome of a replayed scenario. Allocator is left alive so the caller can report on
// it, and must be destroyed by the caller.
type Result struct {
	Allocator *tagmem.Allocator
	Heap      *heap.LimitedHeap
	Steps     []StepResult
	// Fatal is set when a strict step escalated. The steps after it were not run.
	Fatal *trace.FatalError
}

type runner struct {
	allocator *tagmem.Allocator
	regions   map[string][]byte
	result    *Result
}

// Run replays s against a fresh allocator over a heap limited to s.HeapLimit. Fatal escalations do
// not end the process: the steps stop and the escalation is returned in Result.Fatal.
func Run(logger *slog.Logger, s *Scenario, transport trace.Transport) (*Result, error) {
	limited := heap.NewLimitedHeap(nil, int(s.HeapLimit))

	var flags tagmem.CreateFlags
	if s.EnforceBudget {
		flags |= tagmem.AllocatorCreateEnforceBudget
	}

	allocator, err := tagmem.New(logger, limited, tagmem.CreateOptions{
		Flags:     flags,
		Budget:    int(s.Budget),
		Transport: transport,
		// Returning hands control back to RaiseFatal, which unwinds to the step runner
		Terminator: func(code trace.CrashCode) {},
	})
	if err != nil {
		return nil, err
	}

	r := &runner{
		allocator: allocator,
		regions:   make(map[string][]byte),
		result: &Result{
			Allocator: allocator,
			Heap:      limited,
		},
	}

	for i, step := range s.Steps {
		outcome, err := r.execute(step)
		if err != nil {
			return r.result, errors.Wrapf(err, "step %d", i+1)
		}

		r.result.Steps = append(r.result.Steps, StepResult{Step: step, Outcome: outcome})
		if r.result.Fatal != nil {
			break
		}
	}

	return r.result, nil
}

func (r *runner) execute(step Step) (outcome string, err error) {
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}

		fatal, ok := recovered.(*trace.FatalError)
		if !ok {
			panic(recovered)
		}

		r.result.Fatal = fatal
		outcome = fmt.Sprintf("fatal: %s", fatal.Code)
	}()

	category, err := step.ResolveCategory()
	if err != nil {
		return "", err
	}

	switch step.Op {
	case OpAlloc:
		r.regions[step.ID] = r.allocator.Allocate(int(step.Size), category)
		return "ok", nil
	case OpTryAlloc:
		region, err := r.allocator.TryAllocate(int(step.Size), category)
		if err != nil {
			return fmt.Sprintf("failed: %v", err), nil
		}
		r.regions[step.ID] = region
		return "ok", nil
	case OpStrdup:
		r.regions[step.ID] = r.allocator.DuplicateString(step.Text, category)
		return "ok", nil
	}

	region, ok := r.regions[step.ID]
	if !ok {
		return "", errors.Newf("%s of unknown id %q", step.Op, step.ID)
	}

	switch step.Op {
	case OpRealloc:
		r.regions[step.ID] = r.allocator.Reallocate(region, int(step.Size), category)
	case OpTryRealloc:
		resized, err := r.allocator.TryReallocate(region, int(step.Size), category)
		if err != nil {
			return fmt.Sprintf("failed: %v", err), nil
		}
		r.regions[step.ID] = resized
	case OpRelease:
		r.allocator.Release(region)
		delete(r.regions, step.ID)
	}

	return "ok", nil
}
