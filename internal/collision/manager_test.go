package collision

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"robotcell/internal/alarm"
	"robotcell/internal/robot/sim"
	"robotcell/internal/state"
	"robotcell/pkg/types"
)

type rows []types.CollisionProfile

func (r rows) GetCollisionProfiles() ([]types.CollisionProfile, error) { return r, nil }

type brokenSource struct{}

func (brokenSource) GetCollisionProfiles() ([]types.CollisionProfile, error) {
	return nil, errors.New("store offline")
}

func setup(t *testing.T, src Source) (*Manager, *sim.Robot, *alarm.Hub, *state.RobotState) {
	t.Helper()
	r := sim.New(sim.Options{})
	_, err := r.OpenChannel(context.Background(), "sim")
	require.NoError(t, err)
	st := state.New()
	hub := alarm.NewHub(st, nil)
	return NewManager(src, r, hub, st), r, hub, st
}

func TestBuildCatalogFallbacks(t *testing.T) {
	catalog := BuildCatalog([]types.CollisionProfile{
		{ID: 1, Mode: 1, Levels: [6]float64{10, 20, 30, 40, 50, 60}, Config: 0},
		{ID: 12, Mode: 0, Levels: [6]float64{2, 2, 2, 2, 2, 2}, Config: 1},
	})

	require.Len(t, catalog, 9)
	assert.Equal(t, 20.0, catalog[1].Levels[1], "stored row wins over fallback")
	assert.Equal(t, [6]float64{6, 6, 6, 6, 6, 6}, catalog[6].Levels)
	assert.Equal(t, 1, catalog[6].Config)
	assert.Contains(t, catalog, 12)
}

func TestChangeProfileIdempotent(t *testing.T) {
	m, r, hub, st := setup(t, rows{})
	require.NoError(t, m.Load())
	ctx := context.Background()

	require.NoError(t, m.ChangeProfile(ctx, 6))
	require.NoError(t, m.ChangeProfile(ctx, 6))

	assert.Equal(t, 1, r.Calls("SetCollisionProfile"))
	assert.Equal(t, 6, m.Active())
	assert.Equal(t, 6, st.Collision())
	assert.Equal(t, []float64{6, 6, 6, 6, 6, 6}, r.CollisionLevels())
	assert.Empty(t, hub.Active())
}

func TestChangeProfileFailures(t *testing.T) {
	tests := []struct {
		name    string
		id      int
		prepare func(r *sim.Robot)
		want    error
	}{
		{name: "negative id", id: -1, want: ErrInvalidID},
		{name: "unknown id", id: 42, want: ErrNotFound},
		{name: "rejected", id: 3, prepare: func(r *sim.Robot) { r.SetCollisionResult(14) }, want: ErrApply},
		{name: "channel closed", id: 3, prepare: func(r *sim.Robot) { _ = r.CloseChannel() }, want: ErrApply},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, r, hub, st := setup(t, rows{})
			if tt.prepare != nil {
				tt.prepare(r)
			}

			err := m.ChangeProfile(context.Background(), tt.id)
			require.ErrorIs(t, err, tt.want)
			assert.True(t, IsBlocking(err))
			assert.True(t, hub.IsSignaled(alarm.KeyCollisionChange))
			assert.True(t, st.BlockingAlarm())
			assert.Equal(t, -1, m.Active())
		})
	}
}

func TestReloadForcesReapply(t *testing.T) {
	m, r, _, _ := setup(t, rows{{ID: 2, Mode: 1, Levels: [6]float64{9, 9, 9, 9, 9, 9}, Config: 0}})
	ctx := context.Background()

	require.NoError(t, m.Reload(ctx))
	assert.Equal(t, 0, r.Calls("SetCollisionProfile"), "nothing active yet")

	require.NoError(t, m.ChangeProfile(ctx, 2))
	require.NoError(t, m.Reload(ctx))
	assert.Equal(t, 2, r.Calls("SetCollisionProfile"))
	assert.Equal(t, []float64{9, 9, 9, 9, 9, 9}, r.CollisionLevels())
}

func TestLoadError(t *testing.T) {
	m, _, _, _ := setup(t, brokenSource{})
	assert.Error(t, m.Load())
	assert.Len(t, m.Catalog(), FallbackLevels)
	assert.False(t, IsBlocking(nil))
}
