// Package addon installs and removes browser extensions over an active
// session.
package addon

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/marionette/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrPayloadRequired  = errors.New("addon: path or data required")
	ErrPayloadAmbiguous = errors.New("addon: path and data are mutually exclusive")
	ErrIDRequired       = errors.New("addon: id required")
)

// Dispatcher is the slice of the session manager the controller needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, params any, timeout time.Duration) (json.RawMessage, error)
}

// Payload is an extension archive, either a path readable by the browser
// host or the archive bytes themselves.
type Payload struct {
	Path string
	Data []byte
}

type installParams struct {
	Path      string `json:"path,omitempty"`
	Addon     string `json:"addon,omitempty"`
	Temporary bool   `json:"temporary"`
}

type uninstallParams struct {
	ID string `json:"id"`
}

type Controller struct {
	disp    Dispatcher
	timeout time.Duration
}

// NewController wraps disp. timeout <= 0 defers to the dispatcher default.
func NewController(disp Dispatcher, timeout time.Duration) *Controller {
	return &Controller{disp: disp, timeout: timeout}
}

// Install sends Addon:Install and returns the extension id the browser
// assigned. Temporary extensions are removed when the browser exits.
func (c *Controller) Install(ctx context.Context, payload Payload, temporary bool) (string, error) {
	params := installParams{Temporary: temporary}
	path := strings.TrimSpace(payload.Path)
	switch {
	case path != "" && len(payload.Data) > 0:
		return "", ErrPayloadAmbiguous
	case path != "":
		params.Path = path
	case len(payload.Data) > 0:
		params.Addon = base64.StdEncoding.EncodeToString(payload.Data)
	default:
		return "", ErrPayloadRequired
	}

	result, err := c.disp.Dispatch(ctx, protocol.CommandAddonInstall, params, c.timeout)
	if err != nil {
		return "", err
	}
	id, err := decodeAddonID(result)
	if err != nil {
		return "", err
	}
	log.Info().Str("addon_id", id).Bool("temporary", temporary).Msg("addon.Install installed")
	return id, nil
}

// Uninstall sends Addon:Uninstall for id.
func (c *Controller) Uninstall(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrIDRequired
	}
	if _, err := c.disp.Dispatch(ctx, protocol.CommandAddonUninstall, uninstallParams{ID: id}, c.timeout); err != nil {
		return err
	}
	log.Info().Str("addon_id", id).Msg("addon.Uninstall removed")
	return nil
}

// decodeAddonID accepts a bare string or {"value": string}.
func decodeAddonID(result json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(result, &id); err == nil && id != "" {
		return id, nil
	}
	var wrapped struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(result, &wrapped); err == nil && wrapped.Value != "" {
		return wrapped.Value, nil
	}
	return "", fmt.Errorf("%w: Addon:Install result has no addon id: %s", protocol.ErrProtocol, result)
}
