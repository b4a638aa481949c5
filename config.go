package satlink

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/orbitgrid/satlink/frame"
	"github.com/orbitgrid/satlink/ftm"
)

// Role selects which side of the transfer this process drives.
const (
	RoleSender   = "sender"
	RoleReceiver = "receiver"
)

// Transport kinds.
const (
	TransportTCP = "tcp"
	TransportWS  = "ws"
)

// Config carries everything a session needs: the link endpoint, the
// application identity, frame constants and the FTM pass-through
// settings. Loaded from TOML with LoadConfig or built in code from
// DefaultConfig.
type Config struct {
	// Role is "sender" or "receiver".
	Role string `toml:"role"`

	// Transport is "tcp" or "ws".
	Transport string `toml:"transport"`

	// BridgeAddr is the dial target for the sending role. For the "ws"
	// transport it is a full URL, e.g. "ws://127.0.0.1:8129/link".
	BridgeAddr string `toml:"bridge_addr"`

	// ListenAddr is the bind address for the receiving role.
	ListenAddr string `toml:"listen_addr"`

	// WSPath is the upgrade path served by a receiving-role "ws" session.
	WSPath string `toml:"ws_path"`

	// AppID identifies this application to the FTM and, on the wire, in
	// the frame's src/dst marker byte.
	AppID uint16 `toml:"app_id"`

	// DestinationID is written into every outbound frame header.
	DestinationID uint16 `toml:"destination_id"`

	// Control selects the frame message class; defaults to the uplink
	// class for senders and the downlink class for receivers.
	Control uint8 `toml:"control"`

	// MTU bounds the FTM's segment size.
	MTU uint16 `toml:"mtu"`

	// InterPacketDelayMs is the FTM's delay between segments.
	InterPacketDelayMs uint16 `toml:"inter_packet_delay_ms"`

	// AckMode is "ack" or "unack".
	AckMode string `toml:"ack_mode"`

	// FilePath is the file to upload (sender role).
	FilePath string `toml:"file_path"`

	// StoragePath is the download directory (receiver role).
	StoragePath string `toml:"storage_path"`

	// FileID tags the transferred file; zero leaves the FTM default.
	FileID uint8 `toml:"file_id"`

	// RxNodeConnFailureTime is the seconds without peer activity before
	// the FTM declares the receiving node unresponsive. Zero keeps the
	// FTM default.
	RxNodeConnFailureTime uint16 `toml:"rx_node_conn_failure_time"`

	// ActivityCheckWindow is the packet count per liveness check. Zero
	// keeps the FTM default.
	ActivityCheckWindow uint8 `toml:"activity_check_window"`

	// Frame validation bounds for the receive loop.
	TcTmMin    uint8 `toml:"tc_tm_min"`
	TcTmMax    uint8 `toml:"tc_tm_max"`
	PayloadMin int   `toml:"payload_min"`
	PayloadMax int   `toml:"payload_max"`

	// EnforceAppID rejects inbound frames whose src/dst marker does not
	// match AppID.
	EnforceAppID bool `toml:"enforce_app_id"`

	// NoiseEnabled wraps the channel with Noise-XX encryption. Both
	// peers must enable it.
	NoiseEnabled bool `toml:"noise_enabled"`

	// LogLevel is a logrus level name.
	LogLevel string `toml:"log_level"`
}

// DefaultConfig returns the ground-driver defaults for the given role:
// bridge port 8129, application 137 (sender) or 134 (receiver),
// destination 0x8180, MTU 1350.
func DefaultConfig(role string) Config {
	cfg := Config{
		Role:          role,
		Transport:     TransportTCP,
		BridgeAddr:    "127.0.0.1:8129",
		ListenAddr:    "0.0.0.0:8129",
		WSPath:        "/link",
		AppID:         137,
		DestinationID: 0x8180,
		Control:       frame.ControlUplink,
		MTU:           1350,
		AckMode:       "ack",
		TcTmMin:       100,
		TcTmMax:       107,
		PayloadMin:    8,
		PayloadMax:    1350,
		LogLevel:      "info",
	}
	if role == RoleReceiver {
		cfg.AppID = 134
		cfg.Control = frame.ControlDownlink
	}
	return cfg
}

// LoadConfig reads a TOML file over the defaults for the role it names.
// Keys absent from the file keep their default values.
func LoadConfig(path string) (Config, error) {
	// Decode once to learn the role, then again over that role's defaults.
	var probe struct {
		Role string `toml:"role"`
	}
	if _, err := toml.DecodeFile(path, &probe); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}

	role := probe.Role
	if role == "" {
		role = RoleSender
	}

	cfg := DefaultConfig(role)
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the config for values no session can run with.
func (c Config) Validate() error {
	switch c.Role {
	case RoleSender, RoleReceiver:
	default:
		return fmt.Errorf("invalid role %q", c.Role)
	}

	switch c.Transport {
	case TransportTCP, TransportWS:
	default:
		return fmt.Errorf("invalid transport %q", c.Transport)
	}

	if c.Role == RoleSender && strings.TrimSpace(c.BridgeAddr) == "" {
		return fmt.Errorf("sender role requires bridge_addr")
	}
	if c.Role == RoleReceiver && strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("receiver role requires listen_addr")
	}

	if c.AppID == 0 {
		return fmt.Errorf("app_id must be nonzero")
	}

	if c.MTU == 0 || int(c.MTU) > c.PayloadMax {
		return fmt.Errorf("mtu %d outside payload bounds (max %d)", c.MTU, c.PayloadMax)
	}

	if c.TcTmMin > c.TcTmMax {
		return fmt.Errorf("tc_tm_min %d above tc_tm_max %d", c.TcTmMin, c.TcTmMax)
	}
	if c.PayloadMin < 0 || c.PayloadMin > c.PayloadMax {
		return fmt.Errorf("payload bounds %d-%d invalid", c.PayloadMin, c.PayloadMax)
	}
	if c.PayloadMax > frame.MaxPayloadLen {
		return fmt.Errorf("payload_max %d exceeds frame limit %d", c.PayloadMax, frame.MaxPayloadLen)
	}

	switch c.AckMode {
	case "ack", "unack":
	default:
		return fmt.Errorf("invalid ack_mode %q", c.AckMode)
	}

	return nil
}

// ackMode translates the config string into the FTM enum.
func (c Config) ackMode() ftm.AckMode {
	if c.AckMode == "unack" {
		return ftm.AckModeUnack
	}
	return ftm.AckModeAck
}
