package transport

import "time"

// ConnectionState is the WebRTC Connection State enum from §3, with Closed
// as a terminal state.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "Disconnected"
	StateConnecting   ConnectionState = "Connecting"
	StateConnected    ConnectionState = "Connected"
	StateReconnecting ConnectionState = "Reconnecting"
	StateFailed       ConnectionState = "Failed"
	StateClosed       ConnectionState = "Closed"
)

// IsTerminal reports whether s cannot transition further.
func (s ConnectionState) IsTerminal() bool {
	return s == StateClosed
}

// Quality is a coarse connection-health classification derived from stats.
type Quality string

const (
	QualityExcellent Quality = "Excellent"
	QualityGood      Quality = "Good"
	QualityFair      Quality = "Fair"
	QualityPoor      Quality = "Poor"
	QualityFailed    Quality = "Failed"
)

// ErrorCode classifies a transport failure per §4.6.
type ErrorCode string

const (
	ErrAuthenticationFailed ErrorCode = "AuthenticationFailed"
	ErrSdpNegotiationFailed ErrorCode = "SdpNegotiationFailed"
	ErrIceConnectionFailed  ErrorCode = "IceConnectionFailed"
	ErrNetworkTimeout       ErrorCode = "NetworkTimeout"
	ErrDataChannelFailed    ErrorCode = "DataChannelFailed"
	ErrAudioTrackFailed     ErrorCode = "AudioTrackFailed"
	ErrRegionNotSupported   ErrorCode = "RegionNotSupported"
	ErrConfigurationInvalid ErrorCode = "ConfigurationInvalid"
)

// recoverableCodes is the set of codes §4.6 marks recoverable.
var recoverableCodes = map[ErrorCode]bool{
	ErrNetworkTimeout:      true,
	ErrIceConnectionFailed: true,
	ErrDataChannelFailed:   true,
}

// IsRecoverable reports whether code should be handed to the Recovery
// Manager rather than surfaced as a terminal failure.
func (c ErrorCode) IsRecoverable() bool {
	return recoverableCodes[c]
}

// Stats is one statistics sample, per §4.6.
type Stats struct {
	SampledAt      time.Time
	JitterMs       float64
	PacketsLost    int64
	PacketsSent    int64
	PacketsReceived int64
	RoundTripMs    float64
	ICEState       string
	Quality        Quality
}

// ClassifyQuality implements §4.6's "classify quality from ICE state and
// jitter" rule: ICE state dominates (a non-connected link can't be
// Excellent/Good regardless of jitter), then jitter buckets the rest.
func ClassifyQuality(iceState string, jitterMs float64) Quality {
	switch iceState {
	case "failed", "closed":
		return QualityFailed
	case "disconnected":
		return QualityPoor
	}
	switch {
	case jitterMs <= 20:
		return QualityExcellent
	case jitterMs <= 50:
		return QualityGood
	case jitterMs <= 100:
		return QualityFair
	default:
		return QualityPoor
	}
}

// Config configures Establish.
type Config struct {
	ICEServers         []string
	DataChannelName    string
	EndpointURL        string
	Deployment         string
	EphemeralKey       string
	ICEConnectTimeout  time.Duration
	StatsInterval      time.Duration
	FallbackQueueSize  int
}

func (c Config) withDefaults() Config {
	if len(c.ICEServers) == 0 {
		c.ICEServers = []string{"stun:stun.l.google.com:19302"}
	}
	if c.DataChannelName == "" {
		c.DataChannelName = "realtime-channel"
	}
	if c.ICEConnectTimeout <= 0 {
		c.ICEConnectTimeout = 5 * time.Second
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = 5 * time.Second
	}
	if c.FallbackQueueSize <= 0 {
		c.FallbackQueueSize = 64
	}
	return c
}

// AudioTrackAdded is emitted when a remote (or local) audio track arrives.
type AudioTrackAdded struct {
	IsRemote bool
	StreamID string
}

// RemoteAudioPacket is one RTP packet read off a remote audio track, with
// the RTP header stripped. Payload codec is whatever the remote side
// negotiated (Opus by default); callers that need PCM must decode it.
type RemoteAudioPacket struct {
	StreamID       string
	SequenceNumber uint16
	Timestamp      uint32
	Payload        []byte
}
