// Package collision manages the controller's collision sensitivity profiles. Applying the
// profile that is already active is a successful no-op.
package collision

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"robotcell/internal/alarm"
	"robotcell/internal/logging"
	"robotcell/internal/metrics"
	"robotcell/internal/robot"
	"robotcell/internal/state"
	"robotcell/pkg/types"
)

var (
	ErrInvalidID = errors.New("invalid collision profile id")
	ErrNotFound  = errors.New("collision profile not found")
	ErrApply     = errors.New("collision profile rejected by controller")
)

// FallbackLevels is the number of built-in uniform profiles.
const FallbackLevels = 8

const (
	fallbackMode   = 0
	fallbackConfig = 1
)

// IsBlocking classifies a ChangeProfile error. Every failure is blocking; the already-active
// case is not a failure and returns nil.
func IsBlocking(err error) bool {
	return err != nil
}

// Source loads the persisted catalog rows.
type Source interface {
	GetCollisionProfiles() ([]types.CollisionProfile, error)
}

// BuildCatalog indexes rows by id and adds a uniform profile for every level 1..8 the rows do
// not define.
func BuildCatalog(rows []types.CollisionProfile) map[int]types.CollisionProfile {
	catalog := make(map[int]types.CollisionProfile, len(rows)+FallbackLevels)
	for _, row := range rows {
		catalog[row.ID] = row
	}
	for level := 1; level <= FallbackLevels; level++ {
		if _, ok := catalog[level]; ok {
			continue
		}
		p := types.CollisionProfile{ID: level, Mode: fallbackMode, Config: fallbackConfig}
		for j := range p.Levels {
			p.Levels[j] = float64(level)
		}
		catalog[level] = p
	}
	return catalog
}

// Manager 碰撞等级管理器
type Manager struct {
	source Source
	api    robot.CollisionApplier
	alarms alarm.Raiser
	robot  *state.RobotState

	mu      sync.Mutex
	catalog map[int]types.CollisionProfile
	active  int

	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewManager 创建碰撞等级管理器, 目录仅含内置等级直到Load
func NewManager(source Source, api robot.CollisionApplier, alarms alarm.Raiser, st *state.RobotState) *Manager {
	return &Manager{
		source:  source,
		api:     api,
		alarms:  alarms,
		robot:   st,
		catalog: BuildCatalog(nil),
		active:  -1,
		logger:  logging.GetLogger("collision"),
		metrics: metrics.Default(),
	}
}

// Load rebuilds the catalog from the source.
func (m *Manager) Load() error {
	rows, err := m.source.GetCollisionProfiles()
	if err != nil {
		return fmt.Errorf("load collision profiles: %w", err)
	}
	catalog := BuildCatalog(rows)

	m.mu.Lock()
	m.catalog = catalog
	m.mu.Unlock()

	m.logger.Info("Collision catalog loaded", "stored", len(rows), "total", len(catalog))
	return nil
}

// Catalog returns every profile ordered by id.
func (m *Manager) Catalog() []types.CollisionProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.CollisionProfile, 0, len(m.catalog))
	for _, p := range m.catalog {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Active returns the applied profile id, -1 before the first apply.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// ChangeProfile applies profile id. A failure raises the blocking collision alarm.
func (m *Manager) ChangeProfile(ctx context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.changeLocked(ctx, id, false)
	if err != nil {
		m.fail(id, err)
	}
	return err
}

// Reload rebuilds the catalog and re-applies the active profile. The controller forgets its
// collision settings across a channel reopen, so the apply is forced.
func (m *Manager) Reload(ctx context.Context) error {
	if err := m.Load(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active < 0 {
		return nil
	}
	err := m.changeLocked(ctx, m.active, true)
	if err != nil {
		m.fail(m.active, err)
	}
	return err
}

func (m *Manager) changeLocked(ctx context.Context, id int, force bool) error {
	if id < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	p, ok := m.catalog[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if id == m.active && !force {
		m.logger.Debug("Collision profile already active", "id", id)
		return nil
	}

	code, err := m.api.SetCollisionProfile(ctx, p.Mode, p.Levels, p.Config)
	if err != nil {
		return fmt.Errorf("%w: profile %d: %v", ErrApply, id, err)
	}
	if code != 0 {
		return fmt.Errorf("%w: profile %d: result code %d", ErrApply, id, code)
	}

	m.active = id
	m.robot.SetCollision(id)
	m.metrics.CollisionAppliesTotal.WithLabelValues("ok").Inc()
	m.logger.Info("Collision profile applied", "id", id, "mode", p.Mode, "levels", p.Levels, "config", p.Config)
	return nil
}

func (m *Manager) fail(id int, err error) {
	m.metrics.CollisionAppliesTotal.WithLabelValues("failed").Inc()
	m.logger.Error("Collision profile change failed", "id", id, "error", err)
	if IsBlocking(err) {
		m.alarms.Raise(alarm.KeyCollisionChange, alarm.Details{
			ID:          "3",
			Description: "Collision level change failed",
			Device:      alarm.DeviceRobot,
			Severity:    alarm.Blocking,
		})
	}
}
