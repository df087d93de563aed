package engine

import (
	"fmt"
	"strings"

	"github.com/forgeworks/foundry/internal/pipeline/contract"
	"github.com/forgeworks/foundry/internal/pipeline/graph"
	"github.com/forgeworks/foundry/internal/pipeline/heal"
	"github.com/forgeworks/foundry/internal/pipeline/structural"
)

// Step names of the fixed pipeline.
const (
	StepAnalysis       = "analysis"
	StepArchitecture   = "architecture"
	StepBackendModels  = "backend_models"
	StepBackendRouters = "backend_routers"
	StepIntegration    = "integration"
	StepTesting        = "testing"
	StepPreview        = "preview"
)

// DefaultGraph builds the fixed seven-step pipeline. Critical steps are the
// ones whose output feeds directly into the generated application's build.
func DefaultGraph() (*graph.Graph, error) {
	return graph.New([]graph.Step{
		{
			Name:   StepAnalysis,
			Policy: graph.Policy{MaxAttempts: 3, EstimatedInputUnits: 2000, EstimatedOutputUnits: 1200},
		},
		{
			Name:      StepArchitecture,
			DependsOn: []string{StepAnalysis},
			Policy:    graph.Policy{MaxAttempts: 3, EstimatedInputUnits: 2500, EstimatedOutputUnits: 1500},
		},
		{
			Name:      StepBackendModels,
			DependsOn: []string{StepArchitecture},
			Critical:  true,
			Policy:    graph.Policy{MaxAttempts: 3, EstimatedInputUnits: 3000, EstimatedOutputUnits: 2500},
		},
		{
			Name:      StepBackendRouters,
			DependsOn: []string{StepBackendModels},
			Critical:  true,
			Policy:    graph.Policy{MaxAttempts: 3, EstimatedInputUnits: 3500, EstimatedOutputUnits: 3000},
		},
		{
			Name:      StepIntegration,
			DependsOn: []string{StepBackendRouters},
			Critical:  true,
			Policy:    graph.Policy{MaxAttempts: 3, EstimatedInputUnits: 4000, EstimatedOutputUnits: 3000},
		},
		{
			Name:      StepTesting,
			DependsOn: []string{StepIntegration},
			Policy:    graph.Policy{Skippable: true, MaxAttempts: 2, EstimatedInputUnits: 3000, EstimatedOutputUnits: 2000},
		},
		{
			Name:      StepPreview,
			DependsOn: []string{StepIntegration},
			Policy:    graph.Policy{Skippable: true, MaxAttempts: 1, EstimatedInputUnits: 500, EstimatedOutputUnits: 200},
		},
	})
}

// RouterPath and ClientPath are where the critical generated modules live
// in the workspace.
func RouterPath(entity string) string {
	return "app/routers/" + structural.Plural(entity) + ".py"
}

func ClientPath() string { return "frontend/client.js" }

// DefaultContracts derives the per-step output contracts from the entity.
func DefaultContracts(entity string) *contract.Registry {
	plural := structural.Plural(entity)
	return contract.NewRegistry([]contract.Contract{
		{
			Step:            StepAnalysis,
			RequiredContent: []string{entity},
			RequiredPaths:   []string{"docs/plan.md"},
		},
		{
			Step:          StepArchitecture,
			RequiredPaths: []string{"docs/architecture.md"},
		},
		{
			Step:            StepBackendModels,
			RequiredContent: []string{"class"},
			RequiredPaths:   []string{"app/models/**"},
			Critical:        true,
		},
		{
			Step:            StepBackendRouters,
			RequiredContent: []string{"router"},
			RequiredPaths:   []string{"app/routers/" + plural + ".py"},
			Critical:        true,
		},
		{
			Step:            StepIntegration,
			RequiredContent: []string{"include_router"},
			RequiredPaths:   []string{"app/main.py", "frontend/client.js"},
			Critical:        true,
		},
		{
			Step:          StepTesting,
			RequiredPaths: []string{"tests/**"},
		},
	})
}

// healTarget maps critical steps to the artifact the repairer can rebuild.
// backend_models has no deterministic template; a contract failure there
// skips the heal attempt and goes straight to checkpoint restore.
func healTarget(step, entity string) (heal.Kind, string, bool) {
	switch step {
	case StepBackendRouters:
		return heal.KindRouter, RouterPath(entity), true
	case StepIntegration:
		return heal.KindClient, ClientPath(), true
	default:
		return "", "", false
	}
}

const wireInstructions = `Emit every file wrapped in artifact markers, nothing else:
<<<FILE path="relative/path">>>
<exact file content>
<<<END_FILE>>>
No prose before the first marker.`

const generatorSystem = "You are a code generator inside an automated application pipeline. " +
	"Output only complete files in the requested marker format."

func stepBriefs(entity string) map[string]string {
	plural := structural.Plural(entity)
	client := strings.Join(structural.ClientEntryPoints(entity), ", ")
	return map[string]string{
		StepAnalysis: fmt.Sprintf(
			"Analyze the requirements for a CRUD application managing %s records. "+
				"Write docs/plan.md describing the data shape, endpoints, and UI needs.", entity),
		StepArchitecture: "Design the application architecture. Write docs/architecture.md " +
			"covering backend layout (FastAPI), data storage, and frontend client structure.",
		StepBackendModels: fmt.Sprintf(
			"Generate the backend data models for the %s entity under app/models/. "+
				"Each model is a class with typed fields and an integer id.", entity),
		StepBackendRouters: fmt.Sprintf(
			"Generate the request-handling module app/routers/%s.py exposing all five CRUD "+
				"operations for %s: create, list, get by id, update, delete.", plural, entity),
		StepIntegration: fmt.Sprintf(
			"Generate app/main.py wiring the routers into the application (include_router) and "+
				"the frontend client module frontend/client.js exporting %s.", client),
		StepTesting: fmt.Sprintf(
			"Generate API tests under tests/ covering every CRUD endpoint for %s.", plural),
	}
}
