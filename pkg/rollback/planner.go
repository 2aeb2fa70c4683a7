package rollback

import (
	"fmt"
	"time"

	"github.com/cuemby/fleetctl/pkg/errs"
	"github.com/cuemby/fleetctl/pkg/types"
)

// Group is one parallel group of a ScheduledPlan: every instruction in
// it may run concurrently because none depends on another.
type Group struct {
	Instructions []types.Instruction
}

// ScheduledPlan is the Planner's output: the raw Instructions arranged
// into dependency-respecting parallel groups, plus the estimates the
// CLI's dry-run surfaces.
type ScheduledPlan struct {
	Groups              []Group
	EstimatedDuration   time.Duration
	ParallelizationGain float64
}

// Planner turns a Version's raw Instructions into a ScheduledPlan.
type Planner struct{}

// NewPlanner returns a Planner. It holds no state; every call to Plan
// is independent.
func NewPlanner() *Planner {
	return &Planner{}
}

// Plan builds the dependency DAG described in the rollback planner
// contract and compresses it into the maximal antichain schedule:
// start-service(X) depends on every preceding stop-service(X) (or
// stop-service("all")) and every restore-*(X); validate-service(X)
// depends on start-service(X); a service that depends on another
// (ServiceRecord.DependsOn) has its start ordered after that other
// service's validation. stop-service("all") and restore-database are
// exclusive and never share a group with anything else.
func (p *Planner) Plan(instructions []types.Instruction, services []types.ServiceRecord) (ScheduledPlan, error) {
	n := len(instructions)
	deps := make([][]int, n)

	stopByTarget := map[string][]int{}
	restoreFilesByTarget := map[string][]int{}
	var globalRestoreIdx []int
	startByTarget := map[string]int{}
	validateByTarget := map[string]int{}

	for i, instr := range instructions {
		switch instr.Action {
		case types.ActionStopService:
			stopByTarget[instr.Target] = append(stopByTarget[instr.Target], i)
		case types.ActionRestoreFiles:
			restoreFilesByTarget[instr.Target] = append(restoreFilesByTarget[instr.Target], i)
		case types.ActionRestoreConfig, types.ActionRestoreDatabase:
			globalRestoreIdx = append(globalRestoreIdx, i)
		case types.ActionStartService:
			startByTarget[instr.Target] = i
		case types.ActionValidateService:
			validateByTarget[instr.Target] = i
		}
	}

	dependsOn := map[string][]string{}
	for _, svc := range services {
		dependsOn[svc.Name] = svc.DependsOn
	}

	allStops := append([]int{}, stopByTarget[types.TargetAll]...)

	for i, instr := range instructions {
		switch instr.Action {
		case types.ActionRestoreFiles:
			d := append([]int{}, stopByTarget[instr.Target]...)
			d = append(d, allStops...)
			deps[i] = dedupe(d)

		case types.ActionRestoreConfig, types.ActionRestoreDatabase:
			deps[i] = dedupe(append([]int{}, allStops...))

		case types.ActionStartService:
			target := instr.Target
			resolvable := append([]int{}, stopByTarget[target]...)
			resolvable = append(resolvable, stopByTarget[types.TargetAll]...)
			resolvable = append(resolvable, restoreFilesByTarget[target]...)
			if len(resolvable) == 0 {
				return ScheduledPlan{}, errs.New(errs.KindInvalidArgument,
					fmt.Sprintf("unresolvable dependency: start-service(%s) has no corresponding stop or restore", target))
			}

			d := append([]int{}, resolvable...)
			d = append(d, globalRestoreIdx...)
			for _, dep := range dependsOn[target] {
				if vi, ok := validateByTarget[dep]; ok {
					d = append(d, vi)
				} else if si, ok := startByTarget[dep]; ok {
					d = append(d, si)
				}
			}
			deps[i] = dedupe(d)

		case types.ActionValidateService:
			si, ok := startByTarget[instr.Target]
			if !ok {
				return ScheduledPlan{}, errs.New(errs.KindInvalidArgument,
					fmt.Sprintf("unresolvable dependency: validate-service(%s) has no corresponding start-service", instr.Target))
			}
			deps[i] = []int{si}
		}
	}

	levels := make([]int, n)
	state := make([]int, n) // 0 unvisited, 1 visiting, 2 done
	var computeLevel func(i int) (int, error)
	computeLevel = func(i int) (int, error) {
		if state[i] == 2 {
			return levels[i], nil
		}
		if state[i] == 1 {
			return 0, errs.New(errs.KindInvalidArgument, "cycle detected in rollback plan dependencies")
		}
		state[i] = 1
		level := 0
		for _, d := range deps[i] {
			dl, err := computeLevel(d)
			if err != nil {
				return 0, err
			}
			if dl+1 > level {
				level = dl + 1
			}
		}
		levels[i] = level
		state[i] = 2
		return level, nil
	}

	maxLevel := 0
	for i := range instructions {
		l, err := computeLevel(i)
		if err != nil {
			return ScheduledPlan{}, err
		}
		if l > maxLevel {
			maxLevel = l
		}
	}

	byLevel := make([][]int, maxLevel+1)
	for i := 0; i < n; i++ {
		byLevel[levels[i]] = append(byLevel[levels[i]], i)
	}

	var groups []Group
	var sequential time.Duration
	for _, indices := range byLevel {
		var levelGroups [][]int
		for _, idx := range indices {
			instr := instructions[idx]
			sequential += instr.Timeout
			if isExclusive(instr) {
				levelGroups = append(levelGroups, []int{idx})
				continue
			}
			placed := false
			for gi, group := range levelGroups {
				if compatibleWithGroup(instr, group, instructions) {
					levelGroups[gi] = append(levelGroups[gi], idx)
					placed = true
					break
				}
			}
			if !placed {
				levelGroups = append(levelGroups, []int{idx})
			}
		}
		for _, group := range levelGroups {
			g := Group{}
			for _, idx := range group {
				g.Instructions = append(g.Instructions, instructions[idx])
			}
			groups = append(groups, g)
		}
	}

	var estimated time.Duration
	for _, g := range groups {
		estimated += groupDuration(g)
	}

	gain := 1.0
	if estimated > 0 {
		gain = float64(sequential) / float64(estimated)
	}

	return ScheduledPlan{Groups: groups, EstimatedDuration: estimated, ParallelizationGain: gain}, nil
}

func groupDuration(g Group) time.Duration {
	var max time.Duration
	for _, instr := range g.Instructions {
		if instr.Timeout > max {
			max = instr.Timeout
		}
	}
	return max
}

func isExclusive(instr types.Instruction) bool {
	if instr.Action == types.ActionStopService && instr.Target == types.TargetAll {
		return true
	}
	return instr.Action == types.ActionRestoreDatabase
}

func isStartOrValidate(action types.InstructionAction) bool {
	return action == types.ActionStartService || action == types.ActionValidateService
}

// compatible reports whether a and b may share a parallel group.
func compatible(a, b types.Instruction) bool {
	if isExclusive(a) || isExclusive(b) {
		return false
	}
	if a.Action == types.ActionRestoreFiles && b.Action == types.ActionRestoreFiles {
		return a.Target != b.Target
	}
	if isStartOrValidate(a.Action) && isStartOrValidate(b.Action) {
		return a.Target != b.Target
	}
	return false
}

func compatibleWithGroup(instr types.Instruction, group []int, instructions []types.Instruction) bool {
	for _, idx := range group {
		if !compatible(instr, instructions[idx]) {
			return false
		}
	}
	return true
}

func dedupe(indices []int) []int {
	seen := make(map[int]bool, len(indices))
	out := make([]int, 0, len(indices))
	for _, i := range indices {
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	return out
}
