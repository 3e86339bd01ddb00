// Package genai implements the dialog.Provider interface on top of the
// official google.golang.org/genai SDK's Live API.
//
// Unlike the raw-protocol gemini package, this provider delegates wire
// framing, authentication and reconnect details to the SDK and only maps
// [genai.LiveServerMessage] values onto the dialog event stream. Prefer it
// when SDK coverage is sufficient; prefer package gemini when protocol
// access beyond the SDK surface is needed.
package genai

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/ThinhHoang1/AI-english-startup-conversation/pkg/audio/pcm"
	"github.com/ThinhHoang1/AI-english-startup-conversation/pkg/dialog"
	"google.golang.org/genai"
)

var _ dialog.Provider = (*Provider)(nil)
var _ dialog.Session = (*session)(nil)

const (
	defaultModel = "models/gemini-2.0-flash-live-001"

	// outputMIME tags inbound audio. Live API models synthesise 24 kHz
	// mono PCM16.
	outputMIME = "audio/pcm;rate=24000"

	eventBuf = 64
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Live API model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// Provider implements dialog.Provider using the official GenAI SDK.
type Provider struct {
	apiKey string
	model  string
}

// New creates a new SDK-backed Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey: apiKey,
		model:  defaultModel,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect creates a GenAI client and opens a Live session with the given
// configuration.
func (p *Provider) Connect(ctx context.Context, cfg dialog.Config) (dialog.Session, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai: create client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = p.model
	}

	liveCfg := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{"AUDIO"},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if cfg.Instructions != "" {
		liveCfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: cfg.Instructions}},
		}
	}
	if cfg.Voice != "" {
		liveCfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}

	live, err := client.Live.Connect(ctx, model, liveCfg)
	if err != nil {
		return nil, fmt.Errorf("genai: live connect: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		live:   live,
		events: make(chan dialog.Event, eventBuf),
		ctx:    sessCtx,
		cancel: sessCancel,
	}
	go sess.receiveLoop()

	return sess, nil
}

type session struct {
	live   *genai.Session
	events chan dialog.Event

	mu     sync.Mutex
	errVal error
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// receiveLoop pumps [genai.Session.Receive] into the event stream until the
// session ends. It owns the events channel, and cancels the session context
// on exit so nothing tied to it outlives the stream.
func (s *session) receiveLoop() {
	defer s.closeEvents()
	defer s.cancel()

	for {
		msg, err := s.live.Receive()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.setErr(err)
			}
			return
		}
		s.handleMessage(msg)
	}
}

func (s *session) handleMessage(msg *genai.LiveServerMessage) {
	sc := msg.ServerContent
	if sc == nil {
		return
	}

	// Interruption must reach the consumer before any audio parts carried
	// in the same message.
	if sc.Interrupted {
		s.emit(dialog.Event{Type: dialog.EventInterrupted})
	}

	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			mime := part.InlineData.MIMEType
			if mime == "" {
				mime = outputMIME
			}
			// The SDK decodes the wire base64 for us; re-wrap so the
			// payload stays a uniform wire blob for the codec.
			s.emit(dialog.Event{
				Type: dialog.EventAudio,
				Audio: pcm.Blob{
					MIMEType: mime,
					Data:     base64.StdEncoding.EncodeToString(part.InlineData.Data),
				},
			})
		}
	}

	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		s.emit(dialog.Event{Type: dialog.EventTranscript, Role: "user", Text: sc.InputTranscription.Text})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		s.emit(dialog.Event{Type: dialog.EventTranscript, Role: "model", Text: sc.OutputTranscription.Text})
	}

	if sc.TurnComplete {
		s.emit(dialog.Event{Type: dialog.EventTurnComplete})
	}
}

func (s *session) emit(ev dialog.Event) {
	ev.Timestamp = time.Now()
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) closeEvents() {
	s.closeOnce.Do(func() {
		close(s.events)
	})
}

// SendAudio decodes the blob's base64 payload and forwards the raw PCM16
// bytes as realtime input.
func (s *session) SendAudio(blob pcm.Blob) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("genai: session closed")
	}
	s.mu.Unlock()

	data, err := pcm.Decode(blob.Data)
	if err != nil {
		return fmt.Errorf("genai: decode payload: %w", err)
	}
	return s.live.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{
			MIMEType: blob.MIMEType,
			Data:     data,
		},
	})
}

// Events returns the ordered inbound event stream.
func (s *session) Events() <-chan dialog.Event { return s.events }

// Err returns the error that terminated the session, or nil.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	return s.live.Close()
}
