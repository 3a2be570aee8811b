package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/voxcode/core/pkg/events"
)

const rtpReadBufferSize = 1500

// sessionUpdate is the outbound initial data-channel message, per §6.1.
type sessionUpdate struct {
	Type  string              `json:"type"`
	Event sessionUpdateFields `json:"session"`
}

type sessionUpdateFields struct {
	Modalities       []string          `json:"modalities"`
	Voice            string            `json:"voice,omitempty"`
	InputAudioFormat string            `json:"input_audio_format"`
	OutputAudioFormat string           `json:"output_audio_format"`
	TurnDetection    turnDetectionSpec `json:"turn_detection"`
}

type turnDetectionSpec struct {
	Type              string `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

// SessionUpdateOptions configures the initial session.update message sent
// once the data channel opens, per §6.1.
type SessionUpdateOptions struct {
	Voice             string
	VADThreshold      float64
	PrefixPaddingMs   int
	SilenceDurationMs int
}

// Transport implements the WebRTC Transport (C6): SDP negotiation, ICE
// lifecycle, data-channel fallback, audio track management, and stats
// sampling, built on pion/webrtc/v4.
type Transport struct {
	cfg        Config
	httpClient *http.Client
	logger     events.Logger

	mu      sync.RWMutex
	pc      *webrtc.PeerConnection
	dc      *webrtc.DataChannel
	state   ConnectionState
	senders map[string]*webrtc.RTPSender

	iceConnected chan struct{}
	iceFailed    chan struct{}
	updateOpts   SessionUpdateOptions

	fallback *FallbackQueue

	onStateChange  events.Emitter[ConnectionState]
	onTrackAdded   events.Emitter[AudioTrackAdded]
	onRemoteAudio  events.Emitter[RemoteAudioPacket]
	onDataMessage  events.Emitter[[]byte]
	onStats        events.Emitter[Stats]
	onError        events.Emitter[ErrorCode]

	stopStats context.CancelFunc
}

// New builds a Transport. httpClient may be nil to use http.DefaultClient.
func New(cfg Config, httpClient *http.Client, logger events.Logger) *Transport {
	cfg = cfg.withDefaults()
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = events.NoOpLogger{}
	}
	return &Transport{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger,
		state:      StateDisconnected,
		senders:    make(map[string]*webrtc.RTPSender),
		fallback:   NewFallbackQueue(cfg.FallbackQueueSize),
	}
}

func (t *Transport) OnStateChange(h func(ConnectionState)) events.Disposable {
	return t.onStateChange.Subscribe(h)
}
func (t *Transport) OnTrackAdded(h func(AudioTrackAdded)) events.Disposable {
	return t.onTrackAdded.Subscribe(h)
}
func (t *Transport) OnRemoteAudio(h func(RemoteAudioPacket)) events.Disposable {
	return t.onRemoteAudio.Subscribe(h)
}
func (t *Transport) OnDataMessage(h func([]byte)) events.Disposable {
	return t.onDataMessage.Subscribe(h)
}
func (t *Transport) OnStats(h func(Stats)) events.Disposable { return t.onStats.Subscribe(h) }
func (t *Transport) OnError(h func(ErrorCode)) events.Disposable { return t.onError.Subscribe(h) }

func (t *Transport) setState(s ConnectionState) {
	t.mu.Lock()
	prev := t.state
	t.state = s
	t.mu.Unlock()
	if prev != s {
		t.onStateChange.Emit(s)
	}
}

// State returns the current connection state.
func (t *Transport) State() ConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// IsDataChannelFallbackActive reports whether sends are currently queued
// because the data channel isn't open.
func (t *Transport) IsDataChannelFallbackActive() bool {
	return t.fallback.IsActive()
}

// Establish runs the full negotiation sequence from §4.6: create the peer
// connection and data channel, offer/answer exchange over HTTP, and wait
// for ICE to connect.
func (t *Transport) Establish(ctx context.Context, updateOpts SessionUpdateOptions) error {
	t.setState(StateConnecting)

	iceServers := make([]webrtc.ICEServer, 0, len(t.cfg.ICEServers))
	for _, u := range t.cfg.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{u}})
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return t.fail(events.NewFault(events.DomainTransport, asFaultKind(ErrConfigurationInvalid), err))
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return t.fail(events.NewFault(events.DomainTransport, asFaultKind(ErrConfigurationInvalid), err))
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(registry))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return t.fail(events.NewFault(events.DomainTransport, asFaultKind(ErrConfigurationInvalid), err))
	}

	ordered := true
	dc, err := pc.CreateDataChannel(t.cfg.DataChannelName, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		pc.Close()
		return t.fail(events.NewFault(events.DomainTransport, asFaultKind(ErrDataChannelFailed), err))
	}

	t.mu.Lock()
	t.pc = pc
	t.dc = dc
	t.mu.Unlock()

	t.mu.Lock()
	t.updateOpts = updateOpts
	t.mu.Unlock()

	t.wireDataChannel(dc, updateOpts)
	t.wireTrackHandler(pc)

	iceConnected, iceFailed := t.resetICEWaiters()
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		t.notifyICEState(state)
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return t.fail(events.NewFault(events.DomainTransport, asFaultKind(ErrSdpNegotiationFailed), err))
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return t.fail(events.NewFault(events.DomainTransport, asFaultKind(ErrSdpNegotiationFailed), err))
	}

	answerSDP, err := t.negotiate(ctx, offer.SDP)
	if err != nil {
		return t.fail(err)
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}); err != nil {
		return t.fail(events.NewFault(events.DomainTransport, asFaultKind(ErrSdpNegotiationFailed), err))
	}

	if err := t.waitForICE(ctx, iceConnected, iceFailed); err != nil {
		return t.fail(err)
	}

	t.setState(StateConnected)
	t.startStatsSampling()
	return nil
}

// resetICEWaiters installs fresh connected/failed channels for the next
// ICE negotiation round (initial connect or a restart) and returns them.
func (t *Transport) resetICEWaiters() (chan struct{}, chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.iceConnected = make(chan struct{})
	t.iceFailed = make(chan struct{})
	return t.iceConnected, t.iceFailed
}

func (t *Transport) notifyICEState(state webrtc.ICEConnectionState) {
	t.mu.RLock()
	connected, failed := t.iceConnected, t.iceFailed
	t.mu.RUnlock()
	switch state {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		if connected != nil {
			select {
			case <-connected:
			default:
				close(connected)
			}
		}
	case webrtc.ICEConnectionStateDisconnected:
		// Transient: ICE may recover on its own (the §4.6 Connected ->
		// Reconnecting -> Connected|Failed path). Surface it so callers can
		// start recovery proactively instead of waiting on a hard Failed.
		t.setState(StateReconnecting)
	case webrtc.ICEConnectionStateFailed:
		if failed != nil {
			select {
			case <-failed:
			default:
				close(failed)
			}
		}
	}
}

func (t *Transport) waitForICE(ctx context.Context, connected, failed chan struct{}) error {
	timeout := time.NewTimer(t.cfg.ICEConnectTimeout)
	defer timeout.Stop()
	select {
	case <-connected:
		return nil
	case <-failed:
		return events.NewFault(events.DomainTransport, asFaultKind(ErrIceConnectionFailed), fmt.Errorf("ice connection failed")).WithRetryable(true)
	case <-timeout.C:
		return events.NewFault(events.DomainTransport, asFaultKind(ErrNetworkTimeout), fmt.Errorf("ice connect timeout")).WithRetryable(true)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RestartICE renegotiates the existing peer connection with an ICE restart
// offer, satisfying pkg/recovery.Strategy. Grounded on §4.7's "restart ICE"
// recovery action: same peer connection and data channel, fresh ICE
// candidates.
func (t *Transport) RestartICE() error {
	t.mu.RLock()
	pc := t.pc
	t.mu.RUnlock()
	if pc == nil {
		return fmt.Errorf("transport: cannot restart ice, peer connection not established")
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.ICEConnectTimeout)
	defer cancel()

	connected, failed := t.resetICEWaiters()

	offer, err := pc.CreateOffer(&webrtc.OfferOptions{ICERestart: true})
	if err != nil {
		return events.NewFault(events.DomainTransport, asFaultKind(ErrIceConnectionFailed), err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return events.NewFault(events.DomainTransport, asFaultKind(ErrIceConnectionFailed), err)
	}

	answerSDP, err := t.negotiate(ctx, offer.SDP)
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}); err != nil {
		return events.NewFault(events.DomainTransport, asFaultKind(ErrIceConnectionFailed), err)
	}

	if err := t.waitForICE(ctx, connected, failed); err != nil {
		return err
	}
	t.setState(StateConnected)
	return nil
}

// RecreateDataChannel tears down and recreates the realtime data channel on
// the existing peer connection, satisfying pkg/recovery.Strategy, per
// §4.7's "recreate data channel" recovery action for ErrDataChannelFailed.
func (t *Transport) RecreateDataChannel() error {
	t.mu.Lock()
	pc := t.pc
	oldDC := t.dc
	updateOpts := t.updateOpts
	t.mu.Unlock()
	if pc == nil {
		return fmt.Errorf("transport: cannot recreate data channel, peer connection not established")
	}
	if oldDC != nil {
		_ = oldDC.Close()
	}

	ordered := true
	dc, err := pc.CreateDataChannel(t.cfg.DataChannelName, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return events.NewFault(events.DomainTransport, asFaultKind(ErrDataChannelFailed), err)
	}

	t.mu.Lock()
	t.dc = dc
	t.mu.Unlock()

	t.wireDataChannel(dc, updateOpts)
	return nil
}

// negotiate POSTs the offer SDP and returns the answer SDP, per §6.1.
func (t *Transport) negotiate(ctx context.Context, offerSDP string) (string, error) {
	url := fmt.Sprintf("%s?model=%s", t.cfg.EndpointURL, t.cfg.Deployment)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(offerSDP))
	if err != nil {
		return "", events.NewFault(events.DomainTransport, asFaultKind(ErrSdpNegotiationFailed), err)
	}
	req.Header.Set("Authorization", "Bearer "+t.cfg.EphemeralKey)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", events.NewFault(events.DomainTransport, asFaultKind(ErrNetworkTimeout), err).WithRetryable(true)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", events.NewFault(events.DomainTransport, asFaultKind(ErrAuthenticationFailed), fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode/100 != 2 {
		return "", events.NewFault(events.DomainTransport, asFaultKind(ErrSdpNegotiationFailed), fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}
	return string(body), nil
}

func (t *Transport) wireDataChannel(dc *webrtc.DataChannel, updateOpts SessionUpdateOptions) {
	dc.OnOpen(func() {
		for _, pending := range t.fallback.Drain() {
			_ = dc.Send(pending.Data)
		}
		initial := sessionUpdate{
			Type: "session.update",
			Event: sessionUpdateFields{
				Modalities:        []string{"audio", "text"},
				Voice:             updateOpts.Voice,
				InputAudioFormat:  "pcm16",
				OutputAudioFormat: "pcm16",
				TurnDetection: turnDetectionSpec{
					Type:              "server_vad",
					Threshold:         updateOpts.VADThreshold,
					PrefixPaddingMs:   updateOpts.PrefixPaddingMs,
					SilenceDurationMs: updateOpts.SilenceDurationMs,
				},
			},
		}
		if payload, err := json.Marshal(initial); err == nil {
			_ = dc.Send(payload)
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		t.onDataMessage.Emit(msg.Data)
	})
}

func (t *Transport) wireTrackHandler(pc *webrtc.PeerConnection) {
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		t.onTrackAdded.Emit(AudioTrackAdded{IsRemote: true, StreamID: track.StreamID()})
		go t.readRemoteTrack(track)
	})
}

// readRemoteTrack reads raw RTP packets off a remote track and re-emits
// their payloads, stripped of the RTP header, for consumers (recording,
// diagnostics, an Opus decoder bolted on downstream) to handle. Stops
// silently on EOF or when the track closes.
func (t *Transport) readRemoteTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, rtpReadBufferSize)
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			if err != io.EOF {
				t.logger.Warn("remote track read failed", "error", err)
			}
			return
		}

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		t.onRemoteAudio.Emit(RemoteAudioPacket{
			StreamID:       track.StreamID(),
			SequenceNumber: pkt.SequenceNumber,
			Timestamp:      pkt.Timestamp,
			Payload:        pkt.Payload,
		})
	}
}

// SendDataChannelMessage sends data if the channel is open, or queues it in
// the fallback ring buffer otherwise, per §4.6.
func (t *Transport) SendDataChannelMessage(data []byte, kind MessageKind) error {
	t.mu.RLock()
	dc := t.dc
	t.mu.RUnlock()

	if dc != nil && dc.ReadyState() == webrtc.DataChannelStateOpen {
		return dc.Send(data)
	}
	t.fallback.Push(PendingMessage{Kind: kind, Data: data})
	return nil
}

// AddAudioTrack attaches track to the peer connection.
func (t *Transport) AddAudioTrack(track webrtc.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pc == nil {
		return fmt.Errorf("transport: peer connection not established")
	}
	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return events.NewFault(events.DomainTransport, asFaultKind(ErrAudioTrackFailed), err)
	}
	t.senders[track.ID()] = sender
	return nil
}

// RemoveAudioTrack locates the sender for trackID and removes it.
func (t *Transport) RemoveAudioTrack(trackID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	sender, ok := t.senders[trackID]
	if !ok || t.pc == nil {
		return nil
	}
	delete(t.senders, trackID)
	return t.pc.RemoveTrack(sender)
}

// ReplaceAudioTrack swaps the track behind oldTrackID's sender for
// newTrack, using RTCRtpSender.ReplaceTrack per §4.6.
func (t *Transport) ReplaceAudioTrack(oldTrackID string, newTrack webrtc.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	sender, ok := t.senders[oldTrackID]
	if !ok {
		return fmt.Errorf("transport: no sender for track %s", oldTrackID)
	}
	if err := sender.ReplaceTrack(newTrack); err != nil {
		return events.NewFault(events.DomainTransport, asFaultKind(ErrAudioTrackFailed), err)
	}
	delete(t.senders, oldTrackID)
	t.senders[newTrack.ID()] = sender
	return nil
}

func (t *Transport) startStatsSampling() {
	ctx, cancel := context.WithCancel(context.Background())
	t.stopStats = cancel
	go func() {
		ticker := time.NewTicker(t.cfg.StatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.sampleStats()
			}
		}
	}()
}

func (t *Transport) sampleStats() {
	t.mu.RLock()
	pc := t.pc
	t.mu.RUnlock()
	if pc == nil {
		return
	}

	report := pc.GetStats()
	var jitterMs, rttMs float64
	var lost, sent, received int64
	for _, s := range report {
		switch stat := s.(type) {
		case webrtc.OutboundRTPStreamStats:
			sent += int64(stat.PacketsSent)
		case webrtc.InboundRTPStreamStats:
			received += int64(stat.PacketsReceived)
			lost += int64(stat.PacketsLost)
			jitterMs = stat.Jitter * 1000
		case webrtc.CandidatePairStats:
			if stat.Nominated {
				rttMs = stat.CurrentRoundTripTime * 1000
			}
		}
	}

	iceState := "unknown"
	if pc.ICEConnectionState() != 0 {
		iceState = pc.ICEConnectionState().String()
	}

	stat := Stats{
		SampledAt:       time.Now(),
		JitterMs:        jitterMs,
		PacketsLost:     lost,
		PacketsSent:     sent,
		PacketsReceived: received,
		RoundTripMs:     rttMs,
		ICEState:        iceState,
		Quality:         ClassifyQuality(iceState, jitterMs),
	}
	t.onStats.Emit(stat)
}

func (t *Transport) fail(err error) error {
	t.setState(StateFailed)
	if f, ok := asFault(err); ok {
		t.onError.Emit(ErrorCode(f.Kind))
	}
	return err
}

func asFaultKind(code ErrorCode) events.Kind {
	return events.Kind(code)
}

func asFault(err error) (*events.Fault, bool) {
	f, ok := err.(*events.Fault)
	return f, ok
}

// Close tears the peer connection down, transitioning to Closed (terminal).
func (t *Transport) Close() error {
	t.mu.Lock()
	pc := t.pc
	t.mu.Unlock()
	if t.stopStats != nil {
		t.stopStats()
	}
	t.setState(StateClosed)
	if pc == nil {
		return nil
	}
	return pc.Close()
}
