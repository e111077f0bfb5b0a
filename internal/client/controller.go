package client

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the controller's single source of truth for what the user can
// do next.
type State string

const (
	StateNoImage        State = "no_image"
	StateImageAnalyzing State = "image_analyzing"
	StateActive         State = "active"
	StateRecording      State = "recording"
	StateProcessing     State = "processing"
	StateExpired        State = "expired"
	StateCompleted      State = "completed"
)

// DefaultTimeRemaining is the per-conversation countdown in seconds.
const DefaultTimeRemaining = 60

// Transcriber turns a recorded clip into text. Browsers do this with the
// SpeechRecognition API; headless clients plug in their own.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// LocalSpeaker voices text on the client when the server reply carries no
// audio URL.
type LocalSpeaker interface {
	Speak(text string)
}

// Player plays a remote audio clip.
type Player interface {
	Play(url string)
}

// Message is one line of the on-screen transcript.
type Message struct {
	Role      string
	Content   string
	AudioURL  string
	Timestamp time.Time
}

// Controller runs the image-to-conversation flow as an explicit state
// machine. All methods are safe for concurrent use.
type Controller struct {
	api         API
	transcriber Transcriber
	speaker     LocalSpeaker
	player      Player

	mu            sync.Mutex
	state         State
	sessionID     string
	imageURL      string
	messages      []Message
	timeRemaining int
}

// NewController wires a controller to its collaborators. speaker and
// player may be nil when the client has no audio output.
func NewController(api API, transcriber Transcriber, speaker LocalSpeaker, player Player) *Controller {
	return &Controller{
		api:           api,
		transcriber:   transcriber,
		speaker:       speaker,
		player:        player,
		state:         StateNoImage,
		timeRemaining: DefaultTimeRemaining,
	}
}

// State reports the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TimeRemaining reports the countdown in seconds.
func (c *Controller) TimeRemaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeRemaining
}

// SessionID reports the active session id, empty before SelectImage.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Messages returns a copy of the transcript.
func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// SelectImage uploads and analyzes the image, starts a session, and seeds
// the transcript with the conversation starter.
func (c *Controller) SelectImage(ctx context.Context, image []byte, filename string) error {
	c.mu.Lock()
	if c.state != StateNoImage {
		c.mu.Unlock()
		return fmt.Errorf("cannot select an image in state %s", c.state)
	}
	c.state = StateImageAnalyzing
	c.mu.Unlock()

	imageURL, err := c.api.UploadImage(ctx, image, filename)
	if err != nil {
		c.rollbackToNoImage()
		return fmt.Errorf("upload image: %w", err)
	}

	analysis, err := c.api.AnalyzeImage(ctx, image, filename)
	if err != nil {
		c.rollbackToNoImage()
		return fmt.Errorf("analyze image: %w", err)
	}

	sessionID := uuid.New().String()
	if err := c.api.StartConversation(ctx, sessionID, imageURL, analysis.Description); err != nil {
		c.rollbackToNoImage()
		return fmt.Errorf("start conversation: %w", err)
	}

	c.mu.Lock()
	c.sessionID = sessionID
	c.imageURL = imageURL
	c.timeRemaining = DefaultTimeRemaining
	c.messages = append(c.messages[:0], Message{
		Role:      "assistant",
		Content:   analysis.ConversationStarter,
		Timestamp: time.Now(),
	})
	c.state = StateActive
	c.mu.Unlock()

	c.speak(analysis.ConversationStarter)
	return nil
}

func (c *Controller) rollbackToNoImage() {
	c.mu.Lock()
	c.state = StateNoImage
	c.mu.Unlock()
}

// StartRecording marks the start of a voice turn. A turn already being
// recorded or processed rejects the request locally.
func (c *Controller) StartRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateActive {
		return fmt.Errorf("cannot record in state %s", c.state)
	}
	c.state = StateRecording
	return nil
}

// StopRecording finishes the voice turn: transcribe, send, append both
// sides of the exchange, and voice the reply.
func (c *Controller) StopRecording(ctx context.Context, audio []byte) error {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return fmt.Errorf("not recording (state %s)", c.state)
	}
	c.state = StateProcessing
	sessionID := c.sessionID
	c.mu.Unlock()

	transcription, err := c.transcriber.Transcribe(ctx, audio)
	if err != nil {
		c.finishTurn(sessionID, nil)
		return fmt.Errorf("transcribe: %w", err)
	}

	c.appendIfCurrent(sessionID, Message{Role: "user", Content: transcription, Timestamp: time.Now()})

	message, audioURL, err := c.api.SendVoiceInput(ctx, sessionID, audio, transcription)
	if err != nil {
		c.finishTurn(sessionID, nil)
		return fmt.Errorf("send voice input: %w", err)
	}

	reply := Message{Role: "assistant", Content: message, AudioURL: audioURL, Timestamp: time.Now()}
	c.finishTurn(sessionID, &reply)

	if audioURL != "" && c.player != nil {
		c.player.Play(audioURL)
	} else {
		c.speak(message)
	}
	return nil
}

// finishTurn appends the optional reply and returns Processing to Active.
// A session that expired or was reset meanwhile keeps its state; a late
// reply for the same session is still appended to the transcript.
func (c *Controller) finishTurn(sessionID string, reply *Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessionID != sessionID {
		return
	}
	if reply != nil {
		c.messages = append(c.messages, *reply)
	}
	if c.state == StateProcessing {
		c.state = StateActive
	}
}

func (c *Controller) appendIfCurrent(sessionID string, msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != sessionID {
		return
	}
	c.messages = append(c.messages, msg)
}

// Tick advances the countdown by one second. Reaching zero expires the
// conversation and notifies the server best-effort.
func (c *Controller) Tick() {
	c.mu.Lock()
	switch c.state {
	case StateActive, StateRecording, StateProcessing:
	default:
		c.mu.Unlock()
		return
	}

	c.timeRemaining--
	if c.timeRemaining > 0 {
		c.mu.Unlock()
		return
	}
	c.timeRemaining = 0
	c.state = StateExpired
	sessionID := c.sessionID
	c.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.api.EndConversation(ctx, sessionID); err != nil {
			log.Printf("[client] end conversation after expiry: %v", err)
		}
	}()
}

// Run drives Tick on a one-second cadence until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

// End completes the conversation at the user's request.
func (c *Controller) End(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateActive, StateRecording, StateProcessing:
	default:
		c.mu.Unlock()
		return fmt.Errorf("no active conversation to end (state %s)", c.state)
	}
	c.state = StateCompleted
	sessionID := c.sessionID
	c.mu.Unlock()

	if err := c.api.EndConversation(ctx, sessionID); err != nil {
		return fmt.Errorf("end conversation: %w", err)
	}
	return nil
}

// Reset discards the conversation and returns to the initial state.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = StateNoImage
	c.sessionID = ""
	c.imageURL = ""
	c.messages = nil
	c.timeRemaining = DefaultTimeRemaining
}

func (c *Controller) speak(text string) {
	if c.speaker != nil {
		c.speaker.Speak(text)
	}
}
