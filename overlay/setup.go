package overlay

import (
	"context"
	"fmt"
	"log"
)

// InputCreator is the setup-time part of the compositor surface.
type InputCreator interface {
	ListInputs(ctx context.Context) ([]string, error)
	CreateInput(ctx context.Context, scene, name, kind string, settings map[string]any) (int, error)
	SetSceneItemTransform(ctx context.Context, scene string, itemID int, x, y float64) error
}

// Position places an input in the scene.
type Position struct {
	X, Y float64
}

// SetupOptions controls which inputs EnsureInputs creates.
type SetupOptions struct {
	Scene     string
	TextKind  string
	ImageKind string
	ColorKind string
	Layout    map[FieldID]Position
	InputName func(FieldID) string
}

// EnsureInputs creates every missing overlay input. Inputs that already exist
// are left alone, so running it on each connect is safe.
func EnsureInputs(ctx context.Context, c InputCreator, opts SetupOptions) (int, error) {
	existing, err := c.ListInputs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list inputs: %w", err)
	}
	have := make(map[string]struct{}, len(existing))
	for _, n := range existing {
		have[n] = struct{}{}
	}

	name := opts.InputName
	if name == nil {
		name = func(f FieldID) string { return string(f) }
	}
	colorKind := opts.ColorKind
	if colorKind == "" {
		colorKind = "color_source_v3"
	}

	type wanted struct {
		field    FieldID
		kind     string
		settings map[string]any
	}
	var inputs []wanted
	for _, f := range TextFields {
		inputs = append(inputs, wanted{f, opts.TextKind, map[string]any{
			"text": "",
			"font": map[string]any{"face": "Arial", "size": 36, "style": "Regular"},
		}})
	}
	for _, f := range ImageFields {
		inputs = append(inputs, wanted{f, opts.ImageKind, map[string]any{"file": ""}})
	}
	inputs = append(inputs, wanted{FilamentSwatch, colorKind, map[string]any{"width": 40, "height": 40}})

	created := 0
	for i, in := range inputs {
		input := name(in.field)
		if _, ok := have[input]; ok {
			continue
		}
		itemID, err := c.CreateInput(ctx, opts.Scene, input, in.kind, in.settings)
		if err != nil {
			log.Printf("overlay: create input %s: %v", input, err)
			continue
		}
		created++

		pos, ok := opts.Layout[in.field]
		if !ok {
			pos = Position{X: 20, Y: 20 + float64(i)*48}
		}
		if err := c.SetSceneItemTransform(ctx, opts.Scene, itemID, pos.X, pos.Y); err != nil {
			log.Printf("overlay: position input %s: %v", input, err)
		}
	}
	return created, nil
}
