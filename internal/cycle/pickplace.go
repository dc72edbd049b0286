package cycle

import (
	"context"
	"fmt"

	"robotcell/internal/events"
	"robotcell/internal/plantio"
	"robotcell/pkg/types"
)

// points are the computed poses of one pick-and-place pass.
type points struct {
	approachPick types.Pose
	pick         types.Pose
	postPick     types.Pose
	retract      types.Pose
	transfer     types.Pose
	prePlace     types.Pose
	place        types.Pose
	leavePlace   types.Pose
}

type pickPlace struct {
	*Machine
	pts points
}

// NewPickPlaceDefinition 取放主循环定义
func NewPickPlaceDefinition(m *Machine) *Definition {
	c := &pickPlace{Machine: m}
	d := NewDefinition(NameMain, StepInit, StepDone)

	d.Define(StepInit, StepSpec{Action: c.init, Interruptible: true}).
		On(StepInit, Advance, StepCheckRequest).
		On(StepInit, Stop, StepHomeApproach)

	d.Define(StepCheckRequest, StepSpec{Action: c.checkRequest, Interruptible: true}).
		On(StepCheckRequest, Advance, StepComputePoints).
		On(StepCheckRequest, Stop, StepHomeApproach)

	d.Define(StepComputePoints, StepSpec{Action: c.computePoints}).
		On(StepComputePoints, Advance, StepMoveToPick)

	d.Define(StepMoveToPick, StepSpec{Action: c.moveToPick}).
		On(StepMoveToPick, Advance, StepWaitPickInPosition)

	d.Define(StepWaitPickInPosition, StepSpec{Action: c.waitPick}).
		On(StepWaitPickInPosition, Advance, StepWaitGripperClosed)

	d.Define(StepWaitGripperClosed, StepSpec{Action: c.waitGripperClosed}).
		On(StepWaitGripperClosed, Advance, StepLeavePick)

	d.Define(StepLeavePick, StepSpec{Action: c.leavePick}).
		On(StepLeavePick, Advance, StepWaitTransfer)

	d.Define(StepWaitTransfer, StepSpec{Action: c.waitArrived}).
		On(StepWaitTransfer, Advance, StepMoveToPlace)

	d.Define(StepMoveToPlace, StepSpec{Action: c.moveToPlace}).
		On(StepMoveToPlace, Advance, StepWaitPlaceInPosition)

	d.Define(StepWaitPlaceInPosition, StepSpec{Action: c.waitPlace}).
		On(StepWaitPlaceInPosition, Advance, StepWaitGripperOpened)

	d.Define(StepWaitGripperOpened, StepSpec{Action: c.waitGripperOpened}).
		On(StepWaitGripperOpened, Advance, StepLeavePlace)

	d.Define(StepLeavePlace, StepSpec{Action: c.leavePlace}).
		On(StepLeavePlace, Advance, StepCheckRequest)

	m.addHomeSteps(d, StepDone)
	return d
}

// NewPickPlace builds the main pick-and-place cycle engine.
func NewPickPlace(deps Deps, bus events.Publisher) (*Engine, error) {
	m, err := NewMachine(deps)
	if err != nil {
		return nil, err
	}
	return NewEngine(NewPickPlaceDefinition(m), m.pollInterval(false), deps.State, bus)
}

func (c *pickPlace) init(ctx context.Context) (Event, error) {
	if err := c.setSpeed(ctx, c.defaults().Speed); err != nil {
		return Wait, err
	}
	return Advance, nil
}

// checkRequest waits for a pick request with both consents from the PLC.
func (c *pickPlace) checkRequest(ctx context.Context) (Event, error) {
	plant := c.deps.Plant
	if plant == nil || !plant.Connected() {
		return Wait, nil
	}
	for _, tag := range []string{plantio.TagCmdPick, plantio.TagEnableToPick, plantio.TagEnableToPlace} {
		on, err := plantio.ReadBool(ctx, plant, tag)
		if err != nil {
			c.logger.Warn("PLC request read failed", "tag", tag, "error", err)
			return Wait, nil
		}
		if !on {
			return Wait, nil
		}
	}
	return Advance, nil
}

// pickPoseName selects the taught pick point of the format requested by the PLC.
func (c *pickPlace) pickPoseName(ctx context.Context) string {
	format, err := c.deps.Plant.ReadTag(ctx, plantio.TagSelectedFormat)
	if err != nil || format <= 0 {
		return PosePick
	}
	return fmt.Sprintf("%s_%d", PosePick, format)
}

func (c *pickPlace) computePoints(ctx context.Context) (Event, error) {
	cfg := c.deps.Cycle
	pickName := c.pickPoseName(ctx)

	pick, err := c.pose(pickName)
	if err != nil {
		return Wait, err
	}
	transfer, err := c.pose(PoseTransfer)
	if err != nil {
		return Wait, err
	}
	place, err := c.pose(PosePlace)
	if err != nil {
		return Wait, err
	}

	postPick := pick.Translate(0, 0, cfg.ZPostPick)
	pts := points{
		approachPick: pick.Translate(-cfg.Approach, 0, cfg.ZPrePick),
		pick:         pick,
		postPick:     postPick,
		retract:      postPick.Translate(-cfg.Retract, 0, 0),
		transfer:     transfer,
		prePlace:     place.Translate(-cfg.PrePlace, 0, cfg.ZPrePlace).Rotate(cfg.PlaceRXOffset, 0, 0),
		place:        place,
		leavePlace:   place.Translate(-cfg.PostPlaceRetract, 0, 0),
	}

	// solve every point before the first motion so an unreachable point never strands the
	// robot mid-pass
	c.joints = make(map[types.Pose]types.JointConfiguration)
	for _, p := range []struct {
		name string
		pose types.Pose
	}{
		{"approach pick", pts.approachPick},
		{pickName, pts.pick},
		{"post pick", pts.postPick},
		{"retract pick", pts.retract},
		{PoseTransfer, pts.transfer},
		{"pre place", pts.prePlace},
		{PosePlace, pts.place},
		{"leave place", pts.leavePlace},
	} {
		if _, err := c.solve(ctx, p.name, p.pose); err != nil {
			return Wait, err
		}
	}

	c.pts = pts
	c.logger.Info("Pick-and-place points computed", "pick", pickName, "approach", pts.approachPick, "place", pts.place)
	return Advance, nil
}

func (c *pickPlace) pickSpeed() (vel, acc float64) {
	d := c.defaults()
	return d.Velocity * c.deps.Cycle.PickVelocityScale, d.Acceleration * c.deps.Cycle.PickAccelerationScale
}

func (c *pickPlace) moveToPick(ctx context.Context) (Event, error) {
	vel, acc := c.pickSpeed()
	ev, err := c.run(ctx,
		move{name: "approach pick", pose: c.pts.approachPick, blend: c.deps.Cycle.ApproachBlend},
		move{name: "pick", pose: c.pts.pick, vel: vel, acc: acc, blend: -1},
	)
	if ev == Advance {
		c.target(c.pts.pick)
	}
	return ev, err
}

func (c *pickPlace) waitPick(ctx context.Context) (Event, error) {
	if !c.arrived() {
		return Wait, nil
	}
	if err := c.setOutput(ctx, c.deps.Cycle.PickOutput, true); err != nil {
		return Wait, err
	}
	return Advance, nil
}

func (c *pickPlace) waitGripperClosed(ctx context.Context) (Event, error) {
	return c.feedback(ctx, c.deps.Cycle.PickFeedback, c.deps.Cycle.PickOutput)
}

func (c *pickPlace) leavePick(ctx context.Context) (Event, error) {
	vel, acc := c.pickSpeed()
	ev, err := c.run(ctx,
		move{name: "post pick", pose: c.pts.postPick, vel: vel, acc: acc, blend: -1},
		move{name: "retract pick", pose: c.pts.retract, blend: c.deps.Cycle.ApproachBlend},
		move{name: PoseTransfer, pose: c.pts.transfer, joint: true, blend: c.deps.Cycle.ApproachBlend},
	)
	if ev == Advance {
		c.target(c.pts.transfer)
	}
	return ev, err
}

func (c *pickPlace) moveToPlace(ctx context.Context) (Event, error) {
	ev, err := c.run(ctx,
		move{name: "pre place", pose: c.pts.prePlace, joint: true, blend: c.deps.Cycle.ApproachBlend},
		move{name: PosePlace, pose: c.pts.place, blend: -1},
	)
	if ev == Advance {
		c.target(c.pts.place)
	}
	return ev, err
}

func (c *pickPlace) waitPlace(ctx context.Context) (Event, error) {
	if !c.arrived() {
		return Wait, nil
	}
	if err := c.setOutput(ctx, c.deps.Cycle.PlaceOutput, true); err != nil {
		return Wait, err
	}
	return Advance, nil
}

func (c *pickPlace) waitGripperOpened(ctx context.Context) (Event, error) {
	return c.feedback(ctx, c.deps.Cycle.PlaceFeedback, c.deps.Cycle.PlaceOutput)
}

func (c *pickPlace) leavePlace(ctx context.Context) (Event, error) {
	ev, err := c.run(ctx, move{name: "leave place", pose: c.pts.leavePlace, blend: -1})
	if ev == Advance {
		c.target(c.pts.leavePlace)
	}
	return ev, err
}
