package obsws

import (
	"context"
	"fmt"
)

// SetInputSettings overlays settings onto an input's current settings.
func (c *Client) SetInputSettings(ctx context.Context, input string, settings map[string]any) error {
	return c.Request(ctx, "SetInputSettings", map[string]any{
		"inputName":     input,
		"inputSettings": settings,
		"overlay":       true,
	}, nil)
}

// GetInputSettings returns the kind and current settings of an input.
func (c *Client) GetInputSettings(ctx context.Context, input string) (string, map[string]any, error) {
	var resp struct {
		InputKind     string         `json:"inputKind"`
		InputSettings map[string]any `json:"inputSettings"`
	}
	if err := c.Request(ctx, "GetInputSettings", map[string]any{"inputName": input}, &resp); err != nil {
		return "", nil, err
	}
	return resp.InputKind, resp.InputSettings, nil
}

// ListInputs returns the names of every input.
func (c *Client) ListInputs(ctx context.Context) ([]string, error) {
	var resp struct {
		Inputs []struct {
			InputName string `json:"inputName"`
		} `json:"inputs"`
	}
	if err := c.Request(ctx, "GetInputList", nil, &resp); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Inputs))
	for _, in := range resp.Inputs {
		names = append(names, in.InputName)
	}
	return names, nil
}

// CreateInput adds a new input to scene and returns its scene item ID.
func (c *Client) CreateInput(ctx context.Context, scene, name, kind string, settings map[string]any) (int, error) {
	var resp struct {
		SceneItemID int `json:"sceneItemId"`
	}
	err := c.Request(ctx, "CreateInput", map[string]any{
		"sceneName":        scene,
		"inputName":        name,
		"inputKind":        kind,
		"inputSettings":    settings,
		"sceneItemEnabled": true,
	}, &resp)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", name, err)
	}
	return resp.SceneItemID, nil
}

// SetSceneItemTransform moves a scene item.
func (c *Client) SetSceneItemTransform(ctx context.Context, scene string, itemID int, x, y float64) error {
	return c.Request(ctx, "SetSceneItemTransform", map[string]any{
		"sceneName":   scene,
		"sceneItemId": itemID,
		"sceneItemTransform": map[string]any{
			"positionX": x,
			"positionY": y,
		},
	}, nil)
}

// StreamActive reports whether OBS is currently streaming.
func (c *Client) StreamActive(ctx context.Context) (bool, error) {
	var resp struct {
		OutputActive bool `json:"outputActive"`
	}
	if err := c.Request(ctx, "GetStreamStatus", nil, &resp); err != nil {
		return false, err
	}
	return resp.OutputActive, nil
}

// StopStream stops the live stream.
func (c *Client) StopStream(ctx context.Context) error {
	return c.Request(ctx, "StopStream", nil, nil)
}
