package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcsp/pgautoscale/internal/clusterview"
	"github.com/jcsp/pgautoscale/internal/manager"
)

type autoAckManager struct{}

func (a *autoAckManager) Get(name string) ([]byte, error) { return nil, nil }
func (a *autoAckManager) SendCommand(target, prefix string, args map[string]interface{}) *manager.Command {
	cmd := manager.NewCommand()
	cmd.Complete(0, "", "")
	return cmd
}
func (a *autoAckManager) SetHealthChecks(checks map[string]manager.HealthCheck) {}
func (a *autoAckManager) GetConfigJSON(key string) ([]byte, error)             { return nil, nil }
func (a *autoAckManager) SetConfigJSON(key string, value []byte) error        { return nil }

func fixtureView(pgNum, pgpNum int) *clusterview.ClusterView {
	view := clusterview.New(nil)
	view.OSDMap = clusterview.OSDMap{Pools: []clusterview.Pool{
		{ID: 1, Name: "rbd", PGNum: pgNum, PGPNum: pgpNum},
	}}
	view.PGSummary = clusterview.PGSummary{ByPool: map[string]map[string]int{
		"1": {"active+clean": pgNum},
	}}
	return view
}

// TestAdvanceChunksPGNumThenPGPNumToCompletion reproduces spec.md §8
// scenario 1: growing pool "rbd" from pg_num 64 to 128 in chunks of 10
// steps pg_num 64->74->...->128, then sets pgp_num to 128, then
// reaches Phase done. Each call represents one tick where the osd map
// has caught up to the previously-issued value.
func TestAdvanceChunksPGNumThenPGPNumToCompletion(t *testing.T) {
	d := New(&autoAckManager{})
	ai := Start("rbd", 64, 128, 10)
	ctx := context.Background()

	// pg_num observed at the start of each call, and the pendingVal it
	// must produce.
	type step struct{ observedPGNum, wantPending int }
	steps := []step{
		{64, 74}, {74, 84}, {84, 94}, {94, 104}, {104, 114}, {114, 124}, {124, 128},
	}
	for _, s := range steps {
		view := fixtureView(s.observedPGNum, s.observedPGNum)
		done, err := d.Advance(ctx, ai, view)
		require.NoError(t, err)
		assert.False(t, done)
		assert.Equal(t, PhaseWaitOSDMap, ai.Phase)
		assert.Equal(t, s.wantPending, ai.pendingVal)
	}

	// pg_num has reached 128 but pgp_num is still lagging; this call
	// must issue pgp_num=128.
	view := fixtureView(128, 64)
	done, err := d.Advance(ctx, ai, view)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, PhaseWaitOSDMap, ai.Phase)
	assert.Equal(t, 128, ai.pendingVal)

	// Once the osd map reflects pgp_num=128 too, the adjustment completes.
	view2 := fixtureView(128, 128)
	done, err = d.Advance(ctx, ai, view2)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, PhaseDone, ai.Phase)
}

func TestAdvanceAbortsOnRepairState(t *testing.T) {
	d := New(&autoAckManager{})
	ai := Start("rbd", 64, 128, 10)

	view := clusterview.New(nil)
	view.OSDMap = clusterview.OSDMap{Pools: []clusterview.Pool{{ID: 1, Name: "rbd", PGNum: 64}}}
	view.PGSummary = clusterview.PGSummary{ByPool: map[string]map[string]int{
		"1": {"active+clean+repair": 64},
	}}

	done, err := d.Advance(context.Background(), ai, view)
	assert.False(t, done)
	assert.Error(t, err)
}

func TestAdvanceAbortsWhenPoolGone(t *testing.T) {
	d := New(&autoAckManager{})
	ai := Start("rbd", 64, 128, 10)
	view := clusterview.New(nil)

	done, err := d.Advance(context.Background(), ai, view)
	assert.False(t, done)
	assert.Error(t, err)
}

func TestMessageFormatsPoolAndRange(t *testing.T) {
	ai := Start("rbd", 64, 128, 10)
	assert.Equal(t, "rbd pg_num from 64 to 128", ai.Message())
}
