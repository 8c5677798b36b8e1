package telemetry

// Message kinds, carried as the sole top-level key of a report.
const (
	KindPrint   = "print"
	KindMcPrint = "mc_print"
)

// Message is one classified inbound report.
type Message struct {
	Kind  string
	Print *Snapshot
}

// Snapshot is one decoded "print" report from the device.
type Snapshot struct {
	ChamberTemper      float64 `json:"chamber_temper"`
	BedTemper          float64 `json:"bed_temper"`
	BedTargetTemper    float64 `json:"bed_target_temper"`
	NozzleTemper       float64 `json:"nozzle_temper"`
	NozzleTargetTemper float64 `json:"nozzle_target_temper"`

	McPercent       int `json:"mc_percent"`
	LayerNum        int `json:"layer_num"`
	TotalLayerNum   int `json:"total_layer_num"`
	McRemainingTime int `json:"mc_remaining_time"` // minutes

	SubtaskName  string `json:"subtask_name"`
	CurrentStage string `json:"current_stage"`
	GcodeState   string `json:"gcode_state"`
	StageCode    *int   `json:"stg_cur,omitempty"`

	CoolingFanSpeed string `json:"cooling_fan_speed"` // part fan
	BigFan1Speed    string `json:"big_fan1_speed"`    // aux fan
	BigFan2Speed    string `json:"big_fan2_speed"`    // chamber fan

	AMS *AMS `json:"ams,omitempty"`
}

// AMS is the automatic material system block.
type AMS struct {
	Units   []AMSUnit `json:"ams"`
	TrayNow string    `json:"tray_now"`
}

// AMSUnit is one material unit holding several trays.
type AMSUnit struct {
	ID    string `json:"id"`
	Trays []Tray `json:"tray"`
}

// Tray is one material slot.
type Tray struct {
	ID    string `json:"id"`
	Type  string `json:"tray_type"`
	Color string `json:"tray_color"` // RRGGBBAA
}

// ActiveJob reports whether the snapshot belongs to a running job.
// Completion is only meaningful when this is true.
func (s *Snapshot) ActiveJob() bool {
	return s.SubtaskName != ""
}

// ActiveTray returns the tray referenced by tray_now. The returned copy has an
// empty material type normalized to "Empty". ok is false when no tray is
// referenced or the reference matches nothing.
func (s *Snapshot) ActiveTray() (Tray, bool) {
	if s.AMS == nil || s.AMS.TrayNow == "" {
		return Tray{}, false
	}
	for _, unit := range s.AMS.Units {
		for _, tray := range unit.Trays {
			if tray.ID != s.AMS.TrayNow {
				continue
			}
			if tray.Type == "" {
				tray.Type = "Empty"
			}
			return tray, true
		}
	}
	return Tray{}, false
}

// Stage returns the current stage text, falling back to the stg_cur code.
func (s *Snapshot) Stage() string {
	if s.CurrentStage != "" || s.StageCode == nil {
		return s.CurrentStage
	}
	return StageName(*s.StageCode)
}
