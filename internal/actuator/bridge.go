package actuator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mossline/vivarium-core/internal/infrastructure/config"
	"github.com/mossline/vivarium-core/internal/infrastructure/mqtt"
)

// Port is the actuator port consumed by the scheduler.
type Port interface {
	// SetState commands a device to the desired state. Returns an
	// error when delivery to the bridge fails; the device is assumed
	// to remain at its previous state.
	SetState(ctx context.Context, deviceID string, desired DesiredState) error
}

// DesiredState is the setting a command establishes.
type DesiredState struct {
	IsOn  bool `json:"is_on"`
	Level *int `json:"level,omitempty"`
}

// Publisher is the transport dependency of BridgePort. *mqtt.Client
// satisfies it; tests substitute a fake.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// command is the wire format published to a bridge.
type command struct {
	CommandID string    `json:"command_id"`
	DeviceID  string    `json:"device_id"`
	IsOn      bool      `json:"is_on"`
	Level     *int      `json:"level,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
}

// BridgePort publishes actuator commands to hardware bridges over MQTT.
//
// One port serves all devices: the transport tag from the device
// configuration routes each command to the right bridge topic
// (vivarium/command/{transport}/{device}).
type BridgePort struct {
	publisher Publisher
	qos       byte

	// transports maps device ID to its configured transport tag.
	transports map[string]string

	topics mqtt.Topics

	// now is swappable for tests.
	now func() time.Time
}

// NewBridgePort creates a port routing commands for the configured devices.
//
// Parameters:
//   - publisher: MQTT publish dependency
//   - qos: QoS level for command publishes
//   - devices: Device declarations (ID and transport are used)
//
// Returns:
//   - *BridgePort: Port ready for use
func NewBridgePort(publisher Publisher, qos byte, devices []config.DeviceConfig) *BridgePort {
	transports := make(map[string]string, len(devices))
	for _, dev := range devices {
		transports[dev.ID] = dev.Transport
	}

	return &BridgePort{
		publisher:  publisher,
		qos:        qos,
		transports: transports,
		now:        time.Now,
	}
}

// SetState publishes a command establishing the desired state.
//
// Commands carry a UUID so bridges can deduplicate redeliveries (QoS 1
// may deliver twice).
//
// Parameters:
//   - ctx: Context checked for cancellation before publishing
//   - deviceID: Target device, must be configured
//   - desired: Setting to establish
//
// Returns:
//   - error: ErrUnknownDevice for an unconfigured device,
//     ErrCommandFailed (wrapping the transport error) on delivery
//     failure
func (p *BridgePort) SetState(ctx context.Context, deviceID string, desired DesiredState) error {
	transport, ok := p.transports[deviceID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCommandFailed, err)
	}

	cmd := command{
		CommandID: uuid.NewString(),
		DeviceID:  deviceID,
		IsOn:      desired.IsOn,
		Level:     desired.Level,
		IssuedAt:  p.now().UTC(),
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("%w: marshalling command: %w", ErrCommandFailed, err)
	}

	topic := p.topics.DeviceCommand(transport, deviceID)
	if err := p.publisher.Publish(topic, payload, p.qos, false); err != nil {
		return fmt.Errorf("%w: %w", ErrCommandFailed, err)
	}

	return nil
}
