package cycle

import (
	"context"

	"robotcell/internal/events"
)

// Cycle names.
const (
	NameMain = "main"
	NameHome = "home"
)

// addHomeSteps defines the home-return sub-sequence, leaving through next. When the TCP is
// beyond the safe-zone boundary the robot first moves straight back onto the boundary.
func (m *Machine) addHomeSteps(d *Definition, next Step) {
	d.Define(StepHomeApproach, StepSpec{Action: m.homeApproach}).
		On(StepHomeApproach, Advance, StepHomeApproachWait).
		On(StepHomeApproach, Skip, StepHomeMove)

	d.Define(StepHomeApproachWait, StepSpec{Action: m.waitArrived}).
		On(StepHomeApproachWait, Advance, StepHomeMove)

	d.Define(StepHomeMove, StepSpec{Action: m.homeMove}).
		On(StepHomeMove, Advance, StepHomeMoveWait)

	d.Define(StepHomeMoveWait, StepSpec{Action: m.homeArrived}).
		On(StepHomeMoveWait, Advance, next)
}

func (m *Machine) homeApproach(ctx context.Context) (Event, error) {
	if _, err := m.pose(PoseHome); err != nil {
		return Wait, err
	}
	safe, err := m.pose(PoseSafeZone)
	if err != nil {
		return Wait, err
	}

	tcp := m.deps.State.Pose()
	boundary := m.safeAxis.Value(safe)
	if m.safeAxis.Value(tcp) < boundary {
		return Skip, nil
	}

	approach := m.safeAxis.Set(tcp, boundary)
	ev, err := m.run(ctx, move{
		name: "home approach",
		pose: approach,
		vel:  m.deps.Home.Velocity,
		acc:  m.deps.Home.Acceleration,
	})
	if ev == Advance {
		m.target(approach)
	}
	return ev, err
}

func (m *Machine) homeMove(ctx context.Context) (Event, error) {
	home, err := m.pose(PoseHome)
	if err != nil {
		return Wait, err
	}
	if err := m.setSpeed(ctx, m.deps.Home.Speed); err != nil {
		return Wait, err
	}
	ev, err := m.run(ctx, move{
		name: PoseHome,
		pose: home,
		vel:  m.deps.Home.Velocity,
		acc:  m.deps.Home.Acceleration,
	})
	if ev == Advance {
		m.target(home)
	}
	return ev, err
}

func (m *Machine) homeArrived(ctx context.Context) (Event, error) {
	if !m.arrived() {
		return Wait, nil
	}
	if err := m.setSpeed(ctx, m.defaults().Speed); err != nil {
		return Wait, err
	}
	return Advance, nil
}

func (m *Machine) waitArrived(context.Context) (Event, error) {
	if m.arrived() {
		return Advance, nil
	}
	return Wait, nil
}

// NewHomeDefinition 回原点循环定义
func NewHomeDefinition(m *Machine) *Definition {
	d := NewDefinition(NameHome, StepHomeApproach, StepDone)
	m.addHomeSteps(d, StepDone)
	return d
}

// NewHome builds the home-return cycle engine.
func NewHome(deps Deps, bus events.Publisher) (*Engine, error) {
	m, err := NewMachine(deps)
	if err != nil {
		return nil, err
	}
	return NewEngine(NewHomeDefinition(m), m.pollInterval(true), deps.State, bus)
}
