package overlay

import (
	"fmt"

	"bambuoverlay/telemetry"
)

// Icons lists the image files selected by icon fields.
type Icons struct {
	BedHeating    string
	BedIdle       string
	NozzleHeating string
	NozzleIdle    string
	FanOn         string
	FanOff        string
}

// Mapper turns snapshots into overlay updates. It holds no state between
// calls: the same snapshot always yields the same updates.
type Mapper struct {
	Icons      Icons
	FanPercent FanScaler
}

// NewMapper creates a mapper. A nil scaler selects DefaultFanPercent.
func NewMapper(icons Icons, fan FanScaler) *Mapper {
	if fan == nil {
		fan = DefaultFanPercent
	}
	return &Mapper{Icons: icons, FanPercent: fan}
}

// Map computes the ordered updates reflecting one snapshot.
func (m *Mapper) Map(s *telemetry.Snapshot) []Update {
	out := make([]Update, 0, 24)

	out = append(out, text(ChamberTemp, FormatTemp(s.ChamberTemper)))

	out = append(out,
		text(BedTemp, FormatTemp(s.BedTemper)),
		text(BedTargetTemp, FormatTarget(s.BedTargetTemper)),
		image(BedTempIcon, pick(s.BedTargetTemper != 0, m.Icons.BedHeating, m.Icons.BedIdle)),
	)
	out = append(out,
		text(NozzleTemp, FormatTemp(s.NozzleTemper)),
		text(NozzleTargetTemp, FormatTarget(s.NozzleTargetTemper)),
		image(NozzleTempIcon, pick(s.NozzleTargetTemper != 0, m.Icons.NozzleHeating, m.Icons.NozzleIdle)),
	)

	out = append(out,
		text(PercentComplete, fmt.Sprintf("%d%%", s.McPercent)),
		text(Layers, fmt.Sprintf("Layers: %d/%d", s.LayerNum, s.TotalLayerNum)),
		text(TimeRemaining, FormatRemaining(s.McRemainingTime)),
		text(SubtaskName, s.SubtaskName),
		text(Stage, s.Stage()),
	)

	out = append(out, m.fan(PartFan, PartFanIcon, "Part", s.CoolingFanSpeed)...)
	out = append(out, m.fan(AuxFan, AuxFanIcon, "Aux", s.BigFan1Speed)...)
	out = append(out, m.fan(ChamberFan, ChamberFanIcon, "Cham", s.BigFan2Speed)...)

	if tray, ok := s.ActiveTray(); ok {
		out = append(out, text(Filament, tray.Type))
		if r, g, b, ok := ParseColor(tray.Color); ok {
			out = append(out,
				color(FilamentSwatch, fmt.Sprintf("%02X%02X%02X", r, g, b)),
				color(Filament, Foreground(r, g, b)),
			)
		}
	}

	return out
}

func (m *Mapper) fan(field, icon FieldID, label, raw string) []Update {
	return []Update{
		text(field, FormatFan(label, m.FanPercent(raw))),
		image(icon, pick(FanOff(raw), m.Icons.FanOff, m.Icons.FanOn)),
	}
}

// WeightUpdate renders a fetched job weight.
func WeightUpdate(grams float64) Update {
	return text(PrintWeight, FormatWeight(grams))
}

// ThumbnailUpdate points the preview image at a stored thumbnail.
func ThumbnailUpdate(path string) Update {
	return image(PreviewImage, path)
}

func pick(cond bool, a, b string) string {
	if cond {
		return a
	}
	return b
}
