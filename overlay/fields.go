package overlay

// FieldID identifies one overlay element. By default it is also the name of
// the compositor input that renders it.
type FieldID string

const (
	ChamberTemp      FieldID = "ChamberTemp"
	BedTemp          FieldID = "BedTemp"
	BedTargetTemp    FieldID = "BedTargetTemp"
	BedTempIcon      FieldID = "BedTempIcon"
	NozzleTemp       FieldID = "NozzleTemp"
	NozzleTargetTemp FieldID = "NozzleTargetTemp"
	NozzleTempIcon   FieldID = "NozzleTempIcon"
	PercentComplete  FieldID = "PercentComplete"
	Layers           FieldID = "Layers"
	TimeRemaining    FieldID = "TimeRemaining"
	SubtaskName      FieldID = "SubtaskName"
	Stage            FieldID = "Stage"
	PartFan          FieldID = "PartFan"
	PartFanIcon      FieldID = "PartFanIcon"
	AuxFan           FieldID = "AuxFan"
	AuxFanIcon       FieldID = "AuxFanIcon"
	ChamberFan       FieldID = "ChamberFan"
	ChamberFanIcon   FieldID = "ChamberFanIcon"
	Filament         FieldID = "Filament"
	FilamentSwatch   FieldID = "FilamentSwatch"
	PrintWeight      FieldID = "PrintWeight"
	PreviewImage     FieldID = "PreviewImage"
)

// TextFields are rendered by text inputs.
var TextFields = []FieldID{
	ChamberTemp, BedTemp, BedTargetTemp, NozzleTemp, NozzleTargetTemp,
	PercentComplete, Layers, TimeRemaining, SubtaskName, Stage,
	PartFan, AuxFan, ChamberFan, Filament, PrintWeight,
}

// ImageFields are rendered by image inputs.
var ImageFields = []FieldID{
	BedTempIcon, NozzleTempIcon, PartFanIcon, AuxFanIcon, ChamberFanIcon, PreviewImage,
}

// Kind selects which input property an update sets.
type Kind int

const (
	KindText Kind = iota
	KindImage
	KindColor
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindImage:
		return "image"
	case KindColor:
		return "color"
	}
	return "unknown"
}

// Update is one rendered overlay value. Color values are RRGGBB hex.
type Update struct {
	Field FieldID `json:"field"`
	Kind  Kind    `json:"kind"`
	Value string  `json:"value"`
}

func text(f FieldID, v string) Update  { return Update{Field: f, Kind: KindText, Value: v} }
func image(f FieldID, v string) Update { return Update{Field: f, Kind: KindImage, Value: v} }
func color(f FieldID, v string) Update { return Update{Field: f, Kind: KindColor, Value: v} }
