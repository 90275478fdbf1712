package mavlink

import (
	"github.com/bluenviron/gomavlib/v3/pkg/dialect"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/minimal"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

// Message ids of the camstream dialect.
const (
	MessageIDStreamListQuery     = 42401
	MessageIDStreamURI           = 42402
	MessageIDStreamSettingsQuery = 42403
	MessageIDStreamSettings      = 42404
	MessageIDSetStreamSettings   = 42405
)

// Field limits of the camstream dialect.
const (
	nameLen          = 32
	listURILen       = 200
	settingsURILen   = 128
	mountPathLen     = 64
	settingsFormats  = 20
	dialectVersion   = 3
	cameraComponent  = 100 // MAV_COMP_ID_CAMERA
	mavlinkVersionV2 = 3
)

// MessageStreamListQuery asks for the URI of every stream, or of one stream
// when CameraID is non-zero.
type MessageStreamListQuery struct {
	TargetSystem    uint8
	TargetComponent uint8
	CameraID        uint8
}

// GetID implements message.Message.
func (*MessageStreamListQuery) GetID() uint32 { return MessageIDStreamListQuery }

// MessageStreamURI answers MessageStreamListQuery, one per stream.
type MessageStreamURI struct {
	CameraID uint8
	Name     string `mavlen:"32"`
	URI      string `mavlen:"200"`
}

// GetID implements message.Message.
func (*MessageStreamURI) GetID() uint32 { return MessageIDStreamURI }

// MessageStreamSettingsQuery asks for the settings of the first stream
// matching CameraID (0 matches any).
type MessageStreamSettingsQuery struct {
	TargetSystem    uint8
	TargetComponent uint8
	CameraID        uint8
}

// GetID implements message.Message.
func (*MessageStreamSettingsQuery) GetID() uint32 { return MessageIDStreamSettingsQuery }

// MessageStreamSettings answers MessageStreamSettingsQuery.
type MessageStreamSettings struct {
	Capabilities uint32
	Format       uint32
	Formats      [20]uint32
	Width        uint16
	Height       uint16
	CameraID     uint8
	Name         string `mavlen:"32"`
	URI          string `mavlen:"128"`
}

// GetID implements message.Message.
func (*MessageStreamSettings) GetID() uint32 { return MessageIDStreamSettings }

// MessageSetStreamSettings changes the format, frame size and mount path of
// a stream. Zero fields keep the current value.
type MessageSetStreamSettings struct {
	Format          uint32
	Width           uint16
	Height          uint16
	TargetSystem    uint8
	TargetComponent uint8
	CameraID        uint8
	MountPath       string `mavlen:"64"`
}

// GetID implements message.Message.
func (*MessageSetStreamSettings) GetID() uint32 { return MessageIDSetStreamSettings }

// Dialect is the camstream dialect together with the heartbeat and the
// common camera protocol messages.
var Dialect = &dialect.Dialect{
	Version: dialectVersion,
	Messages: []message.Message{
		&minimal.MessageHeartbeat{},
		&common.MessageCommandLong{},
		&common.MessageCommandAck{},
		&common.MessageCameraInformation{},
		&MessageStreamListQuery{},
		&MessageStreamURI{},
		&MessageStreamSettingsQuery{},
		&MessageStreamSettings{},
		&MessageSetStreamSettings{},
	},
}

// heartbeat is the fixed liveness message.
func heartbeat() *minimal.MessageHeartbeat {
	return &minimal.MessageHeartbeat{
		Type:           minimal.MAV_TYPE_GENERIC,
		Autopilot:      minimal.MAV_AUTOPILOT_INVALID,
		BaseMode:       0,
		CustomMode:     0,
		SystemStatus:   minimal.MAV_STATE_ACTIVE,
		MavlinkVersion: mavlinkVersionV2,
	}
}

// targeted is implemented by requests addressed to a system.
type targeted interface {
	targetSystem() uint8
}

func (m *MessageStreamListQuery) targetSystem() uint8     { return m.TargetSystem }
func (m *MessageStreamSettingsQuery) targetSystem() uint8 { return m.TargetSystem }
func (m *MessageSetStreamSettings) targetSystem() uint8   { return m.TargetSystem }

// targetSystemOf returns the system msg is addressed to, if it is a request.
func targetSystemOf(msg message.Message) (uint8, bool) {
	switch m := msg.(type) {
	case targeted:
		return m.targetSystem(), true
	case *common.MessageCommandLong:
		return m.TargetSystem, true
	}
	return 0, false
}

// truncate cuts s to at most n bytes.
func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
