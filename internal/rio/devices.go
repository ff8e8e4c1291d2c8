package rio

import (
	"context"
	"fmt"
	"strconv"
)

// MaxVolume is the top of the RIO zone volume scale.
const MaxVolume = 50

// Zone is a handle on one zone. It holds only the client and the zone
// address; all state lives in the client's cache.
type Zone struct {
	client     *Client
	Controller int
	Number     int
}

// Zone returns a handle for zone z on controller c.
func (c *Client) Zone(controller, zone int) *Zone {
	return &Zone{client: c, Controller: controller, Number: zone}
}

// ID returns the zone's device identifier.
func (z *Zone) ID() string {
	return ZoneID(z.Controller, z.Number)
}

// Watch subscribes to push updates for the zone and its current source.
func (z *Zone) Watch(ctx context.Context) error {
	_, err := z.client.Watch(ctx, z.ID())
	return err
}

// Unwatch cancels push updates for the zone.
func (z *Zone) Unwatch(ctx context.Context) error {
	_, err := z.client.Unwatch(ctx, z.ID())
	return err
}

// AddCallback registers fn for zone updates, including its source's updates.
func (z *Zone) AddCallback(fn Callback) CallbackID {
	return z.client.AddCallback(z.ID(), fn)
}

// On turns the zone on.
func (z *Zone) On(ctx context.Context) error {
	return z.event(ctx, "ZoneOn")
}

// Off turns the zone off.
func (z *Zone) Off(ctx context.Context) error {
	return z.event(ctx, "ZoneOff")
}

// Mute mutes the zone.
func (z *Zone) Mute(ctx context.Context) error {
	return z.event(ctx, "ZoneMuteOn")
}

// Unmute unmutes the zone.
func (z *Zone) Unmute(ctx context.Context) error {
	return z.event(ctx, "ZoneMuteOff")
}

// SetVolume sets the zone volume on the 0..MaxVolume scale.
func (z *Zone) SetVolume(ctx context.Context, level int) error {
	if level < 0 || level > MaxVolume {
		return fmt.Errorf("volume %d out of range 0-%d", level, MaxVolume)
	}
	return z.event(ctx, "KeyPress", "Volume", strconv.Itoa(level))
}

// VolumeUp raises the volume by one step.
func (z *Zone) VolumeUp(ctx context.Context) error {
	return z.event(ctx, "KeyPress", "VolumeUp")
}

// VolumeDown lowers the volume by one step.
func (z *Zone) VolumeDown(ctx context.Context) error {
	return z.event(ctx, "KeyPress", "VolumeDown")
}

// SelectSource tunes the zone to source n.
func (z *Zone) SelectSource(ctx context.Context, n int) error {
	return z.event(ctx, "SelectSource", strconv.Itoa(n))
}

// Play sends the Play key to the zone's source.
func (z *Zone) Play(ctx context.Context) error {
	return z.event(ctx, "KeyPress", "Play")
}

// Pause sends the Pause key.
func (z *Zone) Pause(ctx context.Context) error {
	return z.event(ctx, "KeyPress", "Pause")
}

// Stop sends the Stop key.
func (z *Zone) Stop(ctx context.Context) error {
	return z.event(ctx, "KeyPress", "Stop")
}

// Next skips to the next track.
func (z *Zone) Next(ctx context.Context) error {
	return z.event(ctx, "KeyPress", "Next")
}

// Previous returns to the previous track.
func (z *Zone) Previous(ctx context.Context) error {
	return z.event(ctx, "KeyPress", "Previous")
}

func (z *Zone) event(ctx context.Context, name string, args ...string) error {
	_, err := z.client.SendEvent(ctx, z.ID(), name, args...)
	return err
}

// CurrentSource returns the selected source number, "1" until it is known.
func (z *Zone) CurrentSource() string {
	return z.client.GetCachedVariable(z.ID(), "currentSource", "1")
}

// Source returns a handle on the zone's current source.
func (z *Zone) Source() *Source {
	n, err := strconv.Atoi(z.CurrentSource())
	if err != nil {
		n = 1
	}
	return z.client.Source(n)
}

// Volume returns the cached volume, "0" until it is known.
func (z *Zone) Volume() string {
	return z.client.GetCachedVariable(z.ID(), "volume", "0")
}

// Status returns the cached power status, "OFF" until it is known.
func (z *Zone) Status() string {
	return z.client.GetCachedVariable(z.ID(), "status", "OFF")
}

// Get returns a cached zone variable such as "bass" or "partyMode", or "".
func (z *Zone) Get(variable string) string {
	return z.client.GetCachedVariable(z.ID(), variable, "")
}

// Muted reports whether the zone is cached as muted.
func (z *Zone) Muted() bool {
	return z.Get("mute") == "ON"
}

// Name returns the cached zone name.
func (z *Zone) Name() string {
	return z.Get("name")
}

// Source is a handle on one source.
type Source struct {
	client *Client
	Number int
}

// Source returns a handle for source n.
func (c *Client) Source(n int) *Source {
	return &Source{client: c, Number: n}
}

// ID returns the source's device identifier.
func (s *Source) ID() string {
	return SourceID(s.Number)
}

// Watch subscribes to push updates for the source.
func (s *Source) Watch(ctx context.Context) error {
	_, err := s.client.Watch(ctx, s.ID())
	return err
}

// Unwatch cancels push updates for the source.
func (s *Source) Unwatch(ctx context.Context) error {
	_, err := s.client.Unwatch(ctx, s.ID())
	return err
}

// AddCallback registers fn for source updates.
func (s *Source) AddCallback(fn Callback) CallbackID {
	return s.client.AddCallback(s.ID(), fn)
}

// SendEvent sends an event to the source.
func (s *Source) SendEvent(ctx context.Context, name string, args ...string) error {
	_, err := s.client.SendEvent(ctx, s.ID(), name, args...)
	return err
}

// Get returns a cached source variable such as "songName", or "".
func (s *Source) Get(variable string) string {
	return s.client.GetCachedVariable(s.ID(), variable, "")
}

// Name returns the cached source name.
func (s *Source) Name() string {
	return s.Get("name")
}

// Controller is a handle on one controller unit.
type Controller struct {
	client *Client
	Number int
}

// Controller returns a handle for controller n.
func (c *Client) Controller(n int) *Controller {
	return &Controller{client: c, Number: n}
}

// ID returns the controller's device identifier.
func (ct *Controller) ID() string {
	return ControllerID(ct.Number)
}

// Type fetches the controller model, e.g. "MCA-C5".
func (ct *Controller) Type(ctx context.Context) (string, error) {
	return ct.client.GetVariable(ctx, ct.ID(), "type")
}

// FirmwareVersion fetches the controller firmware version.
func (ct *Controller) FirmwareVersion(ctx context.Context) (string, error) {
	return ct.client.GetVariable(ctx, ct.ID(), "firmwareVersion")
}

// MACAddress fetches the controller MAC address.
func (ct *Controller) MACAddress(ctx context.Context) (string, error) {
	return ct.client.GetVariable(ctx, ct.ID(), "macAddress")
}

// Zone returns a handle for zone n on this controller.
func (ct *Controller) Zone(n int) *Zone {
	return ct.client.Zone(ct.Number, n)
}
