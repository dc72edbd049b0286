package plantio

// Tags the PLC writes and the cell reads.
const (
	TagCmdPick        = "CMD_Pick"
	TagCmdPlace       = "CMD_Place"
	TagEnableToPick   = "Enable_To_Pick"
	TagEnableToPlace  = "Enable_To_Place"
	TagSelectedFormat = "CMD_SelectedFormat"
	TagOverrideAuto   = "CMD_OverrideAuto"
	TagEnable         = "Enable"
	TagOperatingMode  = "Operating_Mode"
	TagEmergency      = "Emergency"
	TagCmdStart       = "CMD_Start"
	TagCmdHome        = "CMD_Home"
	TagCmdStop        = "CMD_Stop"
	TagCmdResetAlarms = "CMD_Reset_Alarms"
)

// Tags the cell writes.
const (
	TagComActive      = "ApplicationComRobot_active"
	TagStepMain       = "ACT_Step_MainCycle"
	TagStepHome       = "ACT_Step_Cycle_Home"
	TagCycleRunMain   = "CycleRun_Main"
	TagCycleRunHome   = "CycleRun_Home"
	TagTool           = "ACT_N_Tool"
	TagFrame          = "ACT_N_Frame"
	TagCollision      = "ACT_CollisionLevel"
	TagRobotEnable    = "Robot_enable"
	TagRobotStatus    = "Robot_status"
	TagRobotError     = "Robot_error"
	TagRobotMoving    = "Robot_moving"
	TagZoneHome       = "ACT_Zone_Home_inPos"
	TagZoneSafe       = "ACT_Zone_Safe_inPos"
	TagAlarmPresent   = "Alarm_present"
	TagGripperClosed  = "Gripper_closed"
	TagX              = "x_actual_pos"
	TagY              = "y_actual_pos"
	TagZ              = "z_actual_pos"
	TagRX             = "rx_actual_pos"
	TagRY             = "ry_actual_pos"
	TagRZ             = "rz_actual_pos"
)

// PLC operating mode values.
const (
	PLCModeAuto   = 1
	PLCModeManual = 2
)

var inputTags = []string{
	TagCmdPick, TagCmdPlace, TagEnableToPick, TagEnableToPlace, TagSelectedFormat,
	TagOverrideAuto, TagEnable, TagOperatingMode, TagEmergency,
	TagCmdStart, TagCmdHome, TagCmdStop, TagCmdResetAlarms,
}

var outputTags = []string{
	TagComActive, TagStepMain, TagStepHome, TagCycleRunMain, TagCycleRunHome,
	TagTool, TagFrame, TagCollision, TagRobotEnable, TagRobotStatus, TagRobotError,
	TagRobotMoving, TagZoneHome, TagZoneSafe, TagAlarmPresent, TagGripperClosed,
	TagX, TagY, TagZ, TagRX, TagRY, TagRZ,
}

// DefaultRegisterMap lays the PLC inputs out from holding register 0 and the cell outputs
// from register 100.
func DefaultRegisterMap() map[string]int {
	m := make(map[string]int, len(inputTags)+len(outputTags))
	for i, name := range inputTags {
		m[name] = i
	}
	for i, name := range outputTags {
		m[name] = 100 + i
	}
	return m
}
