package apiclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	apitypes "github.com/dualsense-tools/dsud/apitypes"
)

// Client provides a high-level interface to the dsud API, handling request
// formatting, response parsing, and error handling.
type Client struct{ transport *Transport }

// New constructs a high-level API client using the internal low-level Transport.
// The addr parameter specifies the TCP address (host:port) of the dsud API server.
func New(addr string) *Client { return &Client{transport: NewTransport(addr)} }

// NewWithPassword constructs a client that authenticates with the given password.
func NewWithPassword(addr, password string) *Client {
	return &Client{transport: NewTransportWithPassword(addr, password)}
}

// NewWithConfig constructs a client with custom transport timeouts.
func NewWithConfig(addr string, cfg *Config) *Client {
	return &Client{transport: NewTransportWithConfig(addr, cfg)}
}

// WithTransport constructs a Client using a custom Transport implementation.
// This is primarily useful for testing or when advanced transport configuration is needed.
func WithTransport(t *Transport) *Client { return &Client{transport: t} }

func serialParams(serial string) map[string]string {
	return map[string]string{"serial": serial}
}

// Ping returns the version and identity of the dsud server.
func (c *Client) Ping() (*apitypes.PingResponse, error) {
	return c.PingCtx(context.Background())
}

// PingCtx is the context-aware version of Ping.
func (c *Client) PingCtx(ctx context.Context) (*apitypes.PingResponse, error) {
	raw, err := c.transport.DoCtx(ctx, "ping", nil, nil)
	if err != nil {
		return nil, err
	}
	return parse[apitypes.PingResponse](raw)
}

// ControllerList returns the attached controllers.
func (c *Client) ControllerList() (*apitypes.ControllerListResponse, error) {
	return c.ControllerListCtx(context.Background())
}

func (c *Client) ControllerListCtx(ctx context.Context) (*apitypes.ControllerListResponse, error) {
	raw, err := c.transport.DoCtx(ctx, "controller/list", nil, nil)
	if err != nil {
		return nil, err
	}
	return parse[apitypes.ControllerListResponse](raw)
}

// ControllerInfo describes one controller by its serial handle.
func (c *Client) ControllerInfo(serial string) (*apitypes.Controller, error) {
	return c.ControllerInfoCtx(context.Background(), serial)
}

func (c *Client) ControllerInfoCtx(ctx context.Context, serial string) (*apitypes.Controller, error) {
	raw, err := c.transport.DoCtx(ctx, "controller/{serial}/info", nil, serialParams(serial))
	if err != nil {
		return nil, err
	}
	return parse[apitypes.Controller](raw)
}

// Battery returns the latest battery reading for a controller.
func (c *Client) Battery(serial string) (*apitypes.BatteryResponse, error) {
	return c.BatteryCtx(context.Background(), serial)
}

func (c *Client) BatteryCtx(ctx context.Context, serial string) (*apitypes.BatteryResponse, error) {
	raw, err := c.transport.DoCtx(ctx, "controller/{serial}/battery", nil, serialParams(serial))
	if err != nil {
		return nil, err
	}
	return parse[apitypes.BatteryResponse](raw)
}

// SetLightbar sets the lightbar color and brightness.
func (c *Client) SetLightbar(serial string, r, g, b, brightness uint8) error {
	return c.SetLightbarCtx(context.Background(), serial, r, g, b, brightness)
}

func (c *Client) SetLightbarCtx(ctx context.Context, serial string, r, g, b, brightness uint8) error {
	req := apitypes.LightbarRequest{R: r, G: g, B: b, Brightness: brightness}
	return c.doOK(ctx, "controller/{serial}/led", req, serialParams(serial))
}

// SetLightbarEnabled switches the lightbar on or off.
func (c *Client) SetLightbarEnabled(serial string, enabled bool) error {
	return c.SetLightbarEnabledCtx(context.Background(), serial, enabled)
}

func (c *Client) SetLightbarEnabledCtx(ctx context.Context, serial string, enabled bool) error {
	req := apitypes.LightbarEnabledRequest{Enabled: enabled}
	return c.doOK(ctx, "controller/{serial}/lightbar-enabled", req, serialParams(serial))
}

// SetPlayerLeds selects the player indicator pattern.
func (c *Client) SetPlayerLeds(serial string, player uint8) error {
	return c.SetPlayerLedsCtx(context.Background(), serial, player)
}

func (c *Client) SetPlayerLedsCtx(ctx context.Context, serial string, player uint8) error {
	req := apitypes.PlayerLedsRequest{Player: player}
	return c.doOK(ctx, "controller/{serial}/player-leds", req, serialParams(serial))
}

// SetMic mutes or unmutes the microphone.
func (c *Client) SetMic(serial string, muted bool) error {
	return c.SetMicCtx(context.Background(), serial, muted)
}

func (c *Client) SetMicCtx(ctx context.Context, serial string, muted bool) error {
	req := apitypes.MicRequest{Muted: muted}
	return c.doOK(ctx, "controller/{serial}/mic", req, serialParams(serial))
}

// SetMicLed sets the mute button LED mode: "off", "on" or "pulse".
func (c *Client) SetMicLed(serial, mode string) error {
	return c.SetMicLedCtx(context.Background(), serial, mode)
}

func (c *Client) SetMicLedCtx(ctx context.Context, serial, mode string) error {
	req := apitypes.MicLedRequest{Mode: mode}
	return c.doOK(ctx, "controller/{serial}/mic-led", req, serialParams(serial))
}

// SetVibration sets rumble and trigger attenuation (0 strongest, 7 off).
func (c *Client) SetVibration(serial string, rumble, trigger uint8) error {
	return c.SetVibrationCtx(context.Background(), serial, rumble, trigger)
}

func (c *Client) SetVibrationCtx(ctx context.Context, serial string, rumble, trigger uint8) error {
	req := apitypes.VibrationRequest{Rumble: rumble, Trigger: trigger}
	return c.doOK(ctx, "controller/{serial}/vibration", req, serialParams(serial))
}

// SetSpeaker selects the audio output path: "internal", "headphone" or "both".
func (c *Client) SetSpeaker(serial, mode string) error {
	return c.SetSpeakerCtx(context.Background(), serial, mode)
}

func (c *Client) SetSpeakerCtx(ctx context.Context, serial, mode string) error {
	req := apitypes.SpeakerRequest{Mode: mode}
	return c.doOK(ctx, "controller/{serial}/speaker", req, serialParams(serial))
}

// SetVolume sets headphone and speaker volume from one 0..255 value.
func (c *Client) SetVolume(serial string, volume uint8) error {
	return c.SetVolumeCtx(context.Background(), serial, volume)
}

func (c *Client) SetVolumeCtx(ctx context.Context, serial string, volume uint8) error {
	req := apitypes.VolumeRequest{Volume: volume}
	return c.doOK(ctx, "controller/{serial}/volume", req, serialParams(serial))
}

// SetTriggerEffect programs an adaptive trigger effect on the selected
// triggers. params is the raw 10-byte effect parameter block.
func (c *Client) SetTriggerEffect(serial string, left, right bool, mode uint8, params []byte) error {
	return c.SetTriggerEffectCtx(context.Background(), serial, left, right, mode, params)
}

func (c *Client) SetTriggerEffectCtx(ctx context.Context, serial string, left, right bool, mode uint8, params []byte) error {
	req := apitypes.TriggerEffectRequest{Left: left, Right: right, Mode: mode, Params: params}
	return c.doOK(ctx, "controller/{serial}/trigger-effect", req, serialParams(serial))
}

// FirmwareInfo returns the controller's firmware version and build stamp.
func (c *Client) FirmwareInfo(serial string) (*apitypes.FirmwareInfoResponse, error) {
	return c.FirmwareInfoCtx(context.Background(), serial)
}

func (c *Client) FirmwareInfoCtx(ctx context.Context, serial string) (*apitypes.FirmwareInfoResponse, error) {
	raw, err := c.transport.DoCtx(ctx, "controller/{serial}/firmware/info", nil, serialParams(serial))
	if err != nil {
		return nil, err
	}
	return parse[apitypes.FirmwareInfoResponse](raw)
}

// FirmwareLatest reports the newest firmware version published for the
// controller's product.
func (c *Client) FirmwareLatest(serial string) (*apitypes.FirmwareLatestResponse, error) {
	return c.FirmwareLatestCtx(context.Background(), serial)
}

func (c *Client) FirmwareLatestCtx(ctx context.Context, serial string) (*apitypes.FirmwareLatestResponse, error) {
	raw, err := c.transport.DoCtx(ctx, "controller/{serial}/firmware/latest", nil, serialParams(serial))
	if err != nil {
		return nil, err
	}
	return parse[apitypes.FirmwareLatestResponse](raw)
}

// FirmwareUpdateLatest downloads the newest published image for the
// controller's product from the vendor CDN and starts the update with it.
func (c *Client) FirmwareUpdateLatest(serial string) (*apitypes.FirmwareUpdateLatestResponse, error) {
	return c.FirmwareUpdateLatestCtx(context.Background(), serial)
}

func (c *Client) FirmwareUpdateLatestCtx(ctx context.Context, serial string) (*apitypes.FirmwareUpdateLatestResponse, error) {
	raw, err := c.transport.DoCtx(ctx, "controller/{serial}/firmware/update-latest", nil, serialParams(serial))
	if err != nil {
		return nil, err
	}
	return parse[apitypes.FirmwareUpdateLatestResponse](raw)
}

// FirmwareStart validates image and starts a firmware update. data is the
// raw image; checksum its expected CRC-32.
func (c *Client) FirmwareStart(serial string, data []byte, checksum uint32) (*apitypes.FirmwareStartResponse, error) {
	return c.FirmwareStartCtx(context.Background(), serial, data, checksum)
}

func (c *Client) FirmwareStartCtx(ctx context.Context, serial string, data []byte, checksum uint32) (*apitypes.FirmwareStartResponse, error) {
	req := apitypes.FirmwareStartRequest{
		Size:     len(data),
		Checksum: &checksum,
		Data:     base64.StdEncoding.EncodeToString(data),
	}
	raw, err := c.transport.DoCtx(ctx, "controller/{serial}/firmware/start", req, serialParams(serial))
	if err != nil {
		return nil, err
	}
	return parse[apitypes.FirmwareStartResponse](raw)
}

// FirmwareAbort cancels a running firmware update.
func (c *Client) FirmwareAbort(serial string) error {
	return c.FirmwareAbortCtx(context.Background(), serial)
}

func (c *Client) FirmwareAbortCtx(ctx context.Context, serial string) error {
	return c.doOK(ctx, "controller/{serial}/firmware/abort", nil, serialParams(serial))
}

// Reset clears a faulted controller so it can reconnect.
func (c *Client) Reset(serial string) error {
	return c.ResetCtx(context.Background(), serial)
}

func (c *Client) ResetCtx(ctx context.Context, serial string) error {
	return c.doOK(ctx, "controller/{serial}/reset", nil, serialParams(serial))
}

// ProfileList returns the stored profile names.
func (c *Client) ProfileList() (*apitypes.ProfileListResponse, error) {
	return c.ProfileListCtx(context.Background())
}

func (c *Client) ProfileListCtx(ctx context.Context) (*apitypes.ProfileListResponse, error) {
	raw, err := c.transport.DoCtx(ctx, "profile/list", nil, nil)
	if err != nil {
		return nil, err
	}
	return parse[apitypes.ProfileListResponse](raw)
}

// ProfileSave stores a profile document. profile must marshal to the profile
// JSON schema; saving under an existing name replaces it.
func (c *Client) ProfileSave(profile any) error {
	return c.ProfileSaveCtx(context.Background(), profile)
}

func (c *Client) ProfileSaveCtx(ctx context.Context, profile any) error {
	return c.doOK(ctx, "profile/save", profile, nil)
}

// ProfileDelete removes a stored profile.
func (c *Client) ProfileDelete(name string) error {
	return c.ProfileDeleteCtx(context.Background(), name)
}

func (c *Client) ProfileDeleteCtx(ctx context.Context, name string) error {
	req := apitypes.ProfileApplyRequest{Name: name}
	return c.doOK(ctx, "profile/delete", req, nil)
}

// ProfileApply pushes a stored profile's settings to one controller.
func (c *Client) ProfileApply(serial, name string) error {
	return c.ProfileApplyCtx(context.Background(), serial, name)
}

func (c *Client) ProfileApplyCtx(ctx context.Context, serial, name string) error {
	req := apitypes.ProfileApplyRequest{Name: name}
	return c.doOK(ctx, "controller/{serial}/profile/apply", req, serialParams(serial))
}

func (c *Client) doOK(ctx context.Context, path string, payload any, params map[string]string) error {
	raw, err := c.transport.DoCtx(ctx, path, payload, params)
	if err != nil {
		return err
	}
	_, err = parse[apitypes.OkResponse](raw)
	return err
}

func parse[T any](data string) (*T, error) {
	if data == "" {
		return nil, errors.New("empty response")
	}
	var problem apitypes.ApiError
	if err := json.Unmarshal([]byte(data), &problem); err == nil && (problem.Status != 0 || problem.Title != "") {
		return nil, &problem
	}
	var out T
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &out, nil
}
