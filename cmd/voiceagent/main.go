package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/joho/godotenv"

	"github.com/voxcode/core/pkg/audiobuf"
	"github.com/voxcode/core/pkg/config"
	"github.com/voxcode/core/pkg/controller"
	"github.com/voxcode/core/pkg/conversation"
	"github.com/voxcode/core/pkg/copilot"
	"github.com/voxcode/core/pkg/credential"
	"github.com/voxcode/core/pkg/diagnostics"
	"github.com/voxcode/core/pkg/events"
	"github.com/voxcode/core/pkg/interruption"
	"github.com/voxcode/core/pkg/recovery"
	"github.com/voxcode/core/pkg/retry"
	"github.com/voxcode/core/pkg/session"
	"github.com/voxcode/core/pkg/sessiontimer"
	"github.com/voxcode/core/pkg/storage"
	"github.com/voxcode/core/pkg/telemetry"
	"github.com/voxcode/core/pkg/transcript"
	"github.com/voxcode/core/pkg/transport"
)

func main() {
	withDiagnostics := flag.Bool("diagnostics", false, "expose a local websocket diagnostics fan-out")
	diagnosticsAddr := flag.String("diagnostics-addr", ":8787", "address for the diagnostics websocket server")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	azureKey := os.Getenv("AZURE_OPENAI_API_KEY")
	credentialEndpoint := os.Getenv("AZURE_REALTIME_CREDENTIAL_ENDPOINT")
	sdpEndpoint := os.Getenv("AZURE_REALTIME_SDP_ENDPOINT")
	deployment := os.Getenv("AZURE_REALTIME_DEPLOYMENT")
	if azureKey == "" || credentialEndpoint == "" || sdpEndpoint == "" || deployment == "" {
		log.Fatal("AZURE_OPENAI_API_KEY, AZURE_REALTIME_CREDENTIAL_ENDPOINT, AZURE_REALTIME_SDP_ENDPOINT, AZURE_REALTIME_DEPLOYMENT must be set")
	}

	cfg, err := config.Load(os.Getenv("VOXCODE_CONFIG_FILE"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := events.NoOpLogger{}

	recorder, err := telemetry.NewNoopRecorder("voxcode")
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}

	var diagServer *diagnostics.Server
	if *withDiagnostics {
		diagServer = diagnostics.NewServer(slog.Default())
		go func() {
			if err := http.ListenAndServe(*diagnosticsAddr, diagServer.Handler()); err != nil {
				logger.Warn("diagnostics server stopped", "error", err)
			}
		}()
		fmt.Printf("Diagnostics websocket listening on %s\n", *diagnosticsAddr)
	}

	var copilotClient copilot.Client
	if endpoint := os.Getenv("COPILOT_ENDPOINT"); endpoint != "" {
		copilotClient = copilot.NewOpenAICompatibleClient(endpoint, os.Getenv("COPILOT_API_KEY"), os.Getenv("COPILOT_MODEL"))
	}

	issuer := credential.NewHTTPIssuer(credentialEndpoint, azureKey, nil)
	credService := credential.NewService(credential.Config{
		Issuer:   issuer,
		Executor: retry.NewExecutor(),
		Envelope: retry.Envelope{
			Domain:         "auth",
			Policy:         retry.PolicyExponential,
			InitialDelayMs: 500,
			Multiplier:     2,
			MaxDelayMs:     10000,
			MaxAttempts:    cfg.Session.MaxRetryAttempts,
			JitterStrategy: retry.JitterDeterministicEqual,
		},
		Margin: time.Duration(cfg.Session.RenewalMarginSeconds) * time.Second,
		Logger: logger,
	})

	snapshotStore := resolveSnapshotStore()

	sessionManager := session.NewManager(session.ManagerConfig{
		Credentials: credService,
		Timers:      sessiontimer.NewManager(),
		Store:       snapshotStore,
		Logger:      logger,
	})

	sessionInfo, err := sessionManager.StartSession(context.Background(), session.Config{
		RenewalMarginSeconds:     cfg.Session.RenewalMarginSeconds,
		InactivityTimeoutMinutes: cfg.Session.InactivityTimeoutMinutes,
		HeartbeatIntervalSeconds: cfg.Session.HeartbeatIntervalSeconds,
	})
	if err != nil {
		log.Fatalf("start session: %v", err)
	}
	recorder.SessionStarted(context.Background())
	fmt.Printf("Session %s started\n", sessionInfo.SessionID)

	key := credService.GetCurrentKey()
	if key == nil {
		log.Fatal("no ephemeral key issued")
	}

	wt := transport.New(transport.Config{
		ICEServers:   cfg.Transport.ICEServers,
		EndpointURL:  sdpEndpoint,
		Deployment:   deployment,
		EphemeralKey: key.Key,
	}, nil, logger)

	machine := conversation.New(conversation.Config{})
	interruptEngine := interruption.New(interruption.Profile(cfg.Conversation.PolicyProfile))
	recoveryManager := recovery.New(recovery.Config{}, wt, logger)
	aggregator := transcript.NewAggregator(logger)

	ctrl := controller.New()

	voice := os.Getenv("VOXCODE_VOICE")
	if voice == "" {
		voice = "alloy"
	}

	ctrl.AddStep("transport", func(ctx context.Context) (events.Disposable, error) {
		if err := wt.Establish(ctx, transport.SessionUpdateOptions{
			Voice:             voice,
			VADThreshold:      cfg.Audio.TurnDetection.Threshold,
			PrefixPaddingMs:   cfg.Audio.TurnDetection.PrefixPaddingMs,
			SilenceDurationMs: cfg.Audio.TurnDetection.SilenceDurationMs,
		}); err != nil {
			return nil, err
		}
		disposeOnce := events.DisposableFunc(func() { wt.Close() })
		return disposeOnce, nil
	})

	ctrl.AddStep("conversation-machine", func(ctx context.Context) (events.Disposable, error) {
		go machine.Run(ctx)
		return events.DisposableFunc(func() { machine.Stop() }), nil
	})

	if err := ctrl.Start(context.Background()); err != nil {
		log.Fatalf("controller start: %v", err)
	}
	defer ctrl.Dispose()

	wireTransportToAggregator(wt, aggregator)
	wireAggregatorToMachine(aggregator, machine)
	wireInterruptionToMachine(interruptEngine, machine)
	wireRecovery(wt, recoveryManager, recorder)
	wireDiagnostics(diagServer, machine, recoveryManager, aggregator)
	if copilotClient != nil {
		wireCopilot(machine, copilotClient)
	}

	// Microphone capture, bridged to the data channel as input_audio_buffer
	// events: this repo has no Opus encoder dependency in its corpus, so
	// mic audio is appended as base64 PCM16 JSON events rather than as a
	// raw RTP media track (see DESIGN.md's Open Question decision).
	const sampleRate = 24000
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer mctx.Uninit()

	var playbackMu sync.Mutex
	var playbackBytes []byte

	var lastRMSMu sync.Mutex
	lastRMS := 0.0

	onSamples := func(pOutput, pInput []byte, frameCount uint32) {
		if pInput != nil {
			samples := audiobuf.BytesToInt16(pInput)
			var sum float64
			for _, s := range samples {
				f := float64(s) / 32768.0
				sum += f * f
			}
			rms := math.Sqrt(sum / float64(len(samples)))
			lastRMSMu.Lock()
			lastRMS = rms
			lastRMSMu.Unlock()

			interruptEngine.NotifyUserSpeechStarted()
			appendAudio(wt, pInput)
		}
		if pOutput != nil {
			playbackMu.Lock()
			n := copy(pOutput, playbackBytes)
			playbackBytes = playbackBytes[n:]
			for i := n; i < len(pOutput); i++ {
				pOutput[i] = 0
			}
			playbackMu.Unlock()
		}
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = sampleRate

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		log.Fatal(err)
	}
	defer device.Uninit()
	if err := device.Start(); err != nil {
		log.Fatal(err)
	}

	wt.OnDataMessage(func(payload []byte) {
		var env struct {
			Type  string `json:"type"`
			Delta string `json:"delta"`
		}
		if err := json.Unmarshal(payload, &env); err == nil && env.Type == "response.audio.delta" && env.Delta != "" {
			if chunk, err := base64.StdEncoding.DecodeString(env.Delta); err == nil {
				playbackMu.Lock()
				playbackBytes = append(playbackBytes, chunk...)
				playbackMu.Unlock()
			}
		}
	})

	fmt.Println("Voice agent connected. Listening to microphone. Press Ctrl+C to exit.")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Println("\nShutting down...")
	recorder.SessionEnded(context.Background(), "user-ended")
	sessionManager.EndSession(context.Background(), sessionInfo.SessionID)
}

func resolveSnapshotStore() session.SnapshotStore {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		store, err := storage.NewPostgresStore(context.Background(), url)
		if err == nil {
			return store
		}
		log.Printf("postgres snapshot store unavailable (%v), falling back to in-memory", err)
	}
	return storage.NewMemoryStore()
}

func appendAudio(wt *transport.Transport, pcm []byte) {
	payload, err := json.Marshal(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(pcm),
	})
	if err != nil {
		return
	}
	_ = wt.SendDataChannelMessage(payload, transport.KindNonCritical)
}

func wireTransportToAggregator(wt *transport.Transport, agg *transcript.Aggregator) {
	wt.OnDataMessage(func(payload []byte) {
		var env struct {
			Type       string          `json:"type"`
			ResponseID string          `json:"response_id"`
			ItemID     string          `json:"item_id"`
			Delta      json.RawMessage `json:"delta"`
			Transcript string          `json:"transcript"`
		}
		if err := json.Unmarshal(payload, &env); err != nil {
			return
		}
		if transcript.ClassifyKind(env.Type) == transcript.KindUnknown {
			return
		}
		text := transcript.ExtractText(map[string]any{"delta": string(env.Delta), "transcript": env.Transcript})
		agg.HandleEvent(transcript.RawEvent{
			Type:       env.Type,
			ResponseID: env.ResponseID,
			ItemID:     env.ItemID,
			Text:       text,
		})
	})
}

func wireAggregatorToMachine(agg *transcript.Aggregator, machine *conversation.Machine) {
	agg.OnDelta(func(ev transcript.DeltaEvent) {
		_ = machine.Submit(conversation.Input{Kind: conversation.InputSTTPartial, Text: ev.Content})
	})
	agg.OnFinal(func(ev transcript.FinalEvent) {
		_ = machine.Submit(conversation.Input{Kind: conversation.InputSTTFinal, Text: ev.Content, Completed: true})
	})
}

func wireInterruptionToMachine(engine *interruption.Engine, machine *conversation.Machine) {
	engine.OnInterruption(func(interruption.Interruption) {
		_ = machine.Submit(conversation.Input{Kind: conversation.InputUserInterrupt})
	})
	machine.OnStateChanged(func(sc conversation.StateChanged) {
		engine.NotifyAssistantSpeaking(sc.To == conversation.StateSpeaking)
	})
}

func wireRecovery(wt *transport.Transport, rm *recovery.Manager, recorder *telemetry.Recorder) {
	wt.OnError(func(code transport.ErrorCode) {
		go func() {
			recorder.ReconnectAttempted(context.Background(), string(code))
			_, _ = rm.Recover(context.Background(), recovery.ErrorCode(code))
		}()
	})
	// A transient ICE disconnect (Connected -> Reconnecting) doesn't go
	// through OnError, so start recovery proactively instead of waiting
	// for it to escalate into a hard Failed.
	wt.OnStateChange(func(state transport.ConnectionState) {
		if state != transport.StateReconnecting {
			return
		}
		go func() {
			recorder.ReconnectAttempted(context.Background(), string(transport.ErrIceConnectionFailed))
			_, _ = rm.Recover(context.Background(), recovery.ErrorCode(transport.ErrIceConnectionFailed))
		}()
	})
}

func wireDiagnostics(srv *diagnostics.Server, machine *conversation.Machine, rm *recovery.Manager, agg *transcript.Aggregator) {
	if srv == nil {
		return
	}
	machine.OnStateChanged(func(sc conversation.StateChanged) {
		srv.Broadcast(context.Background(), diagnostics.Event{Type: "state-changed", Payload: sc})
	})
	rm.OnAttempt(func(a recovery.ReconnectAttempt) {
		srv.Broadcast(context.Background(), diagnostics.Event{Type: "reconnectAttempt", Payload: a})
	})
	agg.OnFinal(func(f transcript.FinalEvent) {
		srv.Broadcast(context.Background(), diagnostics.Event{Type: "transcript-event", Payload: f})
	})
}

func wireCopilot(machine *conversation.Machine, client copilot.Client) {
	machine.OnStateChanged(func(sc conversation.StateChanged) {
		if sc.To != conversation.StateWaitingForCopilot || sc.TurnContext == nil {
			return
		}
		go func(turn conversation.TurnContext) {
			reply, err := client.Complete(context.Background(), []copilot.Turn{
				{Role: copilot.RoleUser, Text: turn.Transcript},
			})
			if err != nil {
				_ = machine.Submit(conversation.Input{Kind: conversation.InputError, Err: err})
				return
			}
			_ = machine.Submit(conversation.Input{Kind: conversation.InputCopilotResponse, Text: reply.Text, Completed: true})
		}(*sc.TurnContext)
	})
}

