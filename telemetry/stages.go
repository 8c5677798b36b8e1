package telemetry

import "strconv"

var stageNames = map[int]string{
	0:  "Printing",
	1:  "Auto bed leveling",
	2:  "Heatbed preheating",
	3:  "Sweeping XY mech mode",
	4:  "Changing filament",
	5:  "M400 pause",
	6:  "Paused due to filament runout",
	7:  "Heating hotend",
	8:  "Calibrating extrusion",
	9:  "Scanning bed surface",
	10: "Inspecting first layer",
	11: "Identifying build plate type",
	12: "Calibrating Micro Lidar",
	13: "Homing toolhead",
	14: "Cleaning nozzle tip",
	15: "Checking extruder temperature",
	16: "Paused by the user",
	17: "Pause of front cover falling",
	18: "Calibrating the micro lidar",
	19: "Calibrating extrusion flow",
	20: "Paused due to nozzle temperature malfunction",
	21: "Paused due to heat bed temperature malfunction",
}

// StageName maps a stg_cur code to display text.
func StageName(code int) string {
	if code == -1 || code == 255 {
		return "Idle"
	}
	if name, ok := stageNames[code]; ok {
		return name
	}
	return "Stage " + strconv.Itoa(code)
}
