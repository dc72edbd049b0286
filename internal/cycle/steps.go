package cycle

// Step is a point in a motion cycle.
type Step int

const (
	StepInit Step = iota
	StepCheckRequest
	StepComputePoints
	StepMoveToPick
	StepWaitPickInPosition
	StepWaitGripperClosed
	StepLeavePick
	StepWaitTransfer
	StepMoveToPlace
	StepWaitPlaceInPosition
	StepWaitGripperOpened
	StepLeavePlace
	StepHomeApproach
	StepHomeApproachWait
	StepHomeMove
	StepHomeMoveWait
	StepDone
)

var stepNames = [...]string{
	StepInit:                "init",
	StepCheckRequest:        "check_request",
	StepComputePoints:       "compute_points",
	StepMoveToPick:          "move_to_pick",
	StepWaitPickInPosition:  "wait_pick_in_position",
	StepWaitGripperClosed:   "wait_gripper_closed",
	StepLeavePick:           "leave_pick",
	StepWaitTransfer:        "wait_transfer",
	StepMoveToPlace:         "move_to_place",
	StepWaitPlaceInPosition: "wait_place_in_position",
	StepWaitGripperOpened:   "wait_gripper_opened",
	StepLeavePlace:          "leave_place",
	StepHomeApproach:        "home_approach",
	StepHomeApproachWait:    "home_approach_wait",
	StepHomeMove:            "home_move",
	StepHomeMoveWait:        "home_move_wait",
	StepDone:                "done",
}

func (s Step) String() string {
	if s < 0 || int(s) >= len(stepNames) {
		return "unknown"
	}
	return stepNames[s]
}

// Code is the step number published to the PLC.
func (s Step) Code() int {
	return int(s) * 10
}

// Event is what a step action reports back to the engine.
type Event int

const (
	// Advance: the step's work is complete.
	Advance Event = iota
	// Wait: the step's condition does not hold yet; run it again after the poll interval.
	Wait
	// Skip: the step chose its alternative branch.
	Skip
	// Stop: a stop was requested at an interruptible step.
	Stop
)

func (e Event) String() string {
	return [...]string{"advance", "wait", "skip", "stop"}[e]
}
