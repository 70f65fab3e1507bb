package planner_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/jervis-ai/jervis/internal/domain"
	"github.com/jervis-ai/jervis/internal/ids"
	"github.com/jervis-ai/jervis/internal/planner"
)

// TestPlanOrdersStepsAfterTheirDependencies verifies the topological-sort
// invariant the executor relies on: for any acyclic chain of goals,
// every produced PlanStep's dependencies resolve to Order values strictly
// lower than its own, and step Order values stay contiguous starting from
// the plan's next free order.
func TestPlanOrdersStepsAfterTheirDependencies(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("acyclic chains of goals always resolve to a valid topological step order", prop.ForAll(
		func(n int, seed int) bool {
			if n < 1 {
				n = 1
			}
			if n > 12 {
				n = 12
			}

			phase1, phase2 := buildScriptedChain(n, seed)
			client := &scriptedClient{responses: []string{phase1, phase2}}
			gateway := newTestGateway(client)
			p := planner.New(gateway)

			taskCtx := domain.NewTaskContext(ids.NewClientID(), ids.NewProjectID(), false)
			plan := domain.NewPlan(taskCtx.ID, "q", "q", time.Now())

			base := plan.NextOrder()
			steps, err := p.Plan(context.Background(), taskCtx, plan, "q", "", nil)
			if err != nil {
				return false
			}
			if len(steps) != n {
				return false
			}

			seen := map[int]bool{}
			for i, s := range steps {
				if s.Order != base+i {
					return false // orders must be contiguous from the next free order
				}
				if seen[s.Order] {
					return false // duplicate order
				}
				seen[s.Order] = true
				for _, dep := range s.DependsOn {
					if dep >= s.Order {
						return false // dependency must precede dependent
					}
				}
			}
			return true
		},
		gen.IntRange(1, 12),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}

// buildScriptedChain constructs a deterministic acyclic chain of n goals
// (goal i depends on goal i-1) and the matching phase-1/phase-2 JSON
// payloads a fake LLM client would return for it.
func buildScriptedChain(n, seed int) (phase1, phase2 string) {
	var steps, goals, selections string
	for i := 0; i < n; i++ {
		if i > 0 {
			steps += ","
			goals += ","
			selections += ","
		}
		steps += fmt.Sprintf(`{"description":"step %d"}`, i)
		dep := "[]"
		if i > 0 {
			dep = fmt.Sprintf(`["g%d"]`, i-1)
		}
		goals += fmt.Sprintf(`{"goalId":"g%d","goalIntent":"intent %d (seed %d)","dependsOn":%s}`, i, i, seed, dep)
		selections += fmt.Sprintf(`{"toolName":"tool_%d","reasoning":"r","parameters":{}}`, i)
	}
	phase1 = fmt.Sprintf(`{"nextSteps":[%s],"goals":[%s]}`, steps, goals)
	phase2 = fmt.Sprintf(`{"selections":[%s]}`, selections)
	return phase1, phase2
}
