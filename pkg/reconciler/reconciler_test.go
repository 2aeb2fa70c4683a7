package reconciler

import (
	"testing"
	"time"

	"github.com/cuemby/fleetctl/pkg/metrics"
	"github.com/cuemby/fleetctl/pkg/ports/fakes"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/stretchr/testify/assert"
)

type fakeVersionSource struct {
	active *types.Version
	ok     bool
}

func (f fakeVersionSource) Active() (*types.Version, bool) { return f.active, f.ok }

func TestAggregator_SweepNoActiveVersionNoOp(t *testing.T) {
	supervisor := fakes.NewSupervisor()
	probe := fakes.NewProbe()
	a := New(fakeVersionSource{}, supervisor, probe, time.Second)
	a.sweep()
}

func TestAggregator_SweepMarksStoppedProcessUnhealthy(t *testing.T) {
	supervisor := fakes.NewSupervisor()
	probe := fakes.NewProbe()
	versions := fakeVersionSource{
		ok: true,
		active: &types.Version{
			Services: []types.ServiceRecord{{Name: "api"}},
		},
	}

	a := New(versions, supervisor, probe, time.Second)
	a.sweep()

	health := metrics.GetHealth()
	assert.Equal(t, "unhealthy: process not running", health.Components["api"])
}

func TestAggregator_SweepReflectsProbeResult(t *testing.T) {
	supervisor := fakes.NewSupervisor()
	supervisor.Seed("api", "running")
	probe := fakes.NewProbe()
	probe.Healthy["api"] = true

	versions := fakeVersionSource{
		ok: true,
		active: &types.Version{
			Services: []types.ServiceRecord{{Name: "api"}},
		},
	}

	a := New(versions, supervisor, probe, time.Second)
	a.sweep()

	health := metrics.GetHealth()
	assert.Equal(t, "healthy", health.Components["api"])
}
