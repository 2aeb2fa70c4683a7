package drtest

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/fleetctl/pkg/ports"
	"github.com/cuemby/fleetctl/pkg/ports/fakes"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisorInjector_StopServiceStopsAndHeals(t *testing.T) {
	supervisor := fakes.NewSupervisor()
	supervisor.Seed("A", ports.ProcessRunning)
	injector := NewSupervisorInjector(supervisor)

	scenario := types.Scenario{
		Name:             "stop-a",
		Failure:          types.FailureStopService,
		TargetComponents: []string{"A"},
		FailureDuration:  time.Millisecond,
	}

	require.NoError(t, injector.Inject(context.Background(), scenario))
	assert.Contains(t, supervisor.StopCalls, "A")

	require.NoError(t, injector.Heal(context.Background(), scenario))
	assert.Contains(t, supervisor.StartCalls, "A")
}

func TestSupervisorInjector_SimulatedKindsAreNoOps(t *testing.T) {
	supervisor := fakes.NewSupervisor()
	injector := NewSupervisorInjector(supervisor)

	scenario := types.Scenario{
		Name:             "disk-full",
		Failure:          types.FailureFillDisk,
		TargetComponents: []string{"A"},
	}

	require.NoError(t, injector.Inject(context.Background(), scenario))
	require.NoError(t, injector.Heal(context.Background(), scenario))
	assert.Empty(t, supervisor.StopCalls)
	assert.Empty(t, supervisor.StartCalls)
}
