package telemetry

import (
	"errors"
	"testing"
)

const sampleReport = `{"print":{
	"chamber_temper": 31.5,
	"bed_temper": 60, "bed_target_temper": 0,
	"nozzle_temper": 210, "nozzle_target_temper": 210,
	"mc_percent": 42, "layer_num": 10, "total_layer_num": 50,
	"mc_remaining_time": 75,
	"subtask_name": "Widget", "current_stage": "Printing",
	"cooling_fan_speed": "15", "big_fan1_speed": "0", "big_fan2_speed": "7",
	"ams": {"tray_now": "2", "ams": [{"id": "0", "tray": [
		{"id": "0", "tray_type": "PLA", "tray_color": "FFFFFFFF"},
		{"id": "1", "tray_type": "PETG", "tray_color": "000000FF"},
		{"id": "2", "tray_type": "", "tray_color": ""}
	]}]}
}}`

func TestDecode_Print(t *testing.T) {
	msg, err := Decode([]byte(sampleReport))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Kind != KindPrint {
		t.Fatalf("kind = %q, want print", msg.Kind)
	}
	s := msg.Print
	if s.BedTemper != 60 || s.NozzleTargetTemper != 210 || s.ChamberTemper != 31.5 {
		t.Errorf("temps = %v/%v/%v", s.BedTemper, s.NozzleTargetTemper, s.ChamberTemper)
	}
	if s.McPercent != 42 || s.LayerNum != 10 || s.TotalLayerNum != 50 || s.McRemainingTime != 75 {
		t.Errorf("progress = %d %d/%d %d", s.McPercent, s.LayerNum, s.TotalLayerNum, s.McRemainingTime)
	}
	if s.SubtaskName != "Widget" || !s.ActiveJob() {
		t.Errorf("subtask = %q", s.SubtaskName)
	}
	if s.BigFan1Speed != "0" || s.BigFan2Speed != "7" {
		t.Errorf("fans = %q %q", s.BigFan1Speed, s.BigFan2Speed)
	}
}

func TestDecode_IgnoredAndUnknownKinds(t *testing.T) {
	_, err := Decode([]byte(`{"mc_print":{"sequence_id":"1","param":"x"}}`))
	if !errors.Is(err, ErrIgnoredKind) {
		t.Errorf("mc_print err = %v, want ErrIgnoredKind", err)
	}

	_, err = Decode([]byte(`{"info":{"command":"get_version"}}`))
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("info err = %v, want ErrUnknownKind", err)
	}
}

func TestDecode_Malformed(t *testing.T) {
	cases := map[string]string{
		"truncated":   `{"print":{"bed_temper": 6`,
		"not json":    `hello`,
		"array":       `[1,2,3]`,
		"empty":       ``,
		"empty obj":   `{}`,
		"null body":   `{"print": null}`,
		"wrong types": `{"print":{"mc_percent":"forty"}}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			msg, err := Decode([]byte(payload))
			if err == nil {
				t.Fatalf("expected error, got %+v", msg)
			}
		})
	}
}

func TestActiveTray(t *testing.T) {
	msg, err := Decode([]byte(sampleReport))
	if err != nil {
		t.Fatal(err)
	}
	tray, ok := msg.Print.ActiveTray()
	if !ok {
		t.Fatal("expected active tray")
	}
	if tray.Type != "Empty" {
		t.Errorf("type = %q, want Empty", tray.Type)
	}
	// Normalization happens on the returned copy only.
	if msg.Print.AMS.Units[0].Trays[2].Type != "" {
		t.Error("snapshot tray was mutated")
	}

	msg.Print.AMS.TrayNow = "9"
	if _, ok := msg.Print.ActiveTray(); ok {
		t.Error("unknown tray reference should not match")
	}

	msg.Print.AMS.TrayNow = ""
	if _, ok := msg.Print.ActiveTray(); ok {
		t.Error("empty tray reference should not match")
	}

	msg.Print.AMS = nil
	if _, ok := msg.Print.ActiveTray(); ok {
		t.Error("missing ams should not match")
	}
}

func TestStageFallback(t *testing.T) {
	msg, err := Decode([]byte(`{"print":{"stg_cur":2}}`))
	if err != nil {
		t.Fatal(err)
	}
	if got := msg.Print.Stage(); got != "Heatbed preheating" {
		t.Errorf("stage = %q", got)
	}

	msg, _ = Decode([]byte(`{"print":{"stg_cur":255}}`))
	if got := msg.Print.Stage(); got != "Idle" {
		t.Errorf("stage = %q, want Idle", got)
	}

	msg, _ = Decode([]byte(`{"print":{"stg_cur":2,"current_stage":"Custom"}}`))
	if got := msg.Print.Stage(); got != "Custom" {
		t.Errorf("stage = %q, want Custom", got)
	}

	if got := StageName(99); got != "Stage 99" {
		t.Errorf("StageName(99) = %q", got)
	}
}

type recordingHandler struct {
	NoOpHandler
	got []*Snapshot
}

func (h *recordingHandler) HandlePrint(s *Snapshot) { h.got = append(h.got, s) }

func TestIngestor_DispatchesOnlyPrint(t *testing.T) {
	h := &recordingHandler{}
	ing := NewIngestor(h, true)

	ing.HandleRaw([]byte(`{"mc_print":{}}`))
	ing.HandleRaw([]byte(`{"print":{"bed_temper":`))
	ing.HandleRaw([]byte(`garbage`))
	ing.HandleRaw([]byte(`{"system":{}}`))
	ing.HandleRaw([]byte(sampleReport))

	if len(h.got) != 1 {
		t.Fatalf("handled %d reports, want 1", len(h.got))
	}
	if h.got[0].SubtaskName != "Widget" {
		t.Errorf("subtask = %q", h.got[0].SubtaskName)
	}
}

type panickyHandler struct{ NoOpHandler }

func (panickyHandler) HandlePrint(*Snapshot) { panic("boom") }

func TestIngestor_RecoversHandlerPanic(t *testing.T) {
	ing := NewIngestor(panickyHandler{}, false)
	ing.HandleRaw([]byte(sampleReport)) // must not panic
}

func TestDecodeOnto_MergesDelta(t *testing.T) {
	full, err := Decode([]byte(sampleReport))
	if err != nil {
		t.Fatal(err)
	}
	full.Print.StageCode = new(int)

	msg, err := DecodeOnto([]byte(`{"print":{"mc_percent":43,"stg_cur":3}}`), full.Print)
	if err != nil {
		t.Fatalf("DecodeOnto: %v", err)
	}
	s := msg.Print
	if s.McPercent != 43 {
		t.Errorf("percent = %d, want 43", s.McPercent)
	}
	if s.BedTemper != 60 || s.NozzleTemper != 210 || s.LayerNum != 10 || s.TotalLayerNum != 50 {
		t.Errorf("absent keys not carried over: %+v", s)
	}
	if s.SubtaskName != "Widget" || s.AMS == nil || s.AMS.TrayNow != "2" {
		t.Errorf("subtask = %q ams = %+v", s.SubtaskName, s.AMS)
	}

	// The previous snapshot is left as it was.
	if full.Print.McPercent != 42 || *full.Print.StageCode != 0 {
		t.Errorf("prev mutated: percent=%d stage=%d", full.Print.McPercent, *full.Print.StageCode)
	}
}

func TestDecodeOnto_ExplicitValues(t *testing.T) {
	full, _ := Decode([]byte(sampleReport))

	msg, err := DecodeOnto([]byte(`{"print":{"subtask_name":"","ams":{"tray_now":"255","ams":[]}}}`), full.Print)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Print.SubtaskName != "" || msg.Print.ActiveJob() {
		t.Errorf("explicit empty name not applied: %q", msg.Print.SubtaskName)
	}
	if len(msg.Print.AMS.Units) != 0 || msg.Print.AMS.TrayNow != "255" {
		t.Errorf("ams not replaced: %+v", msg.Print.AMS)
	}
	if len(full.Print.AMS.Units) != 1 {
		t.Error("prev ams mutated")
	}
}

func TestIngestor_MergesIncrementalReports(t *testing.T) {
	h := &recordingHandler{}
	ing := NewIngestor(h, false)

	ing.HandleRaw([]byte(sampleReport))
	ing.HandleRaw([]byte(`{"print":{"mc_percent":`)) // dropped, state kept
	ing.HandleRaw([]byte(`{"print":{"mc_percent":43}}`))
	ing.HandleRaw([]byte(`{"print":{"layer_num":11}}`))

	if len(h.got) != 3 {
		t.Fatalf("handled %d reports, want 3", len(h.got))
	}
	last := h.got[2]
	if last.McPercent != 43 || last.LayerNum != 11 || last.SubtaskName != "Widget" || last.BedTemper != 60 {
		t.Errorf("merged = %+v", last)
	}
	if h.got[1].LayerNum != 10 {
		t.Errorf("earlier snapshot changed: layer %d", h.got[1].LayerNum)
	}
}
