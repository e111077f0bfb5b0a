package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pictalk/pictalk/backend/internal/config"
)

const volcengineTTSURL = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"

// VolcengineClient synthesizes speech over the volcengine binary-framed
// WebSocket API.
type VolcengineClient struct {
	cfg    config.SpeechConfig
	dialer *websocket.Dialer
}

// NewVolcengineClient builds a client with its own handshake timeout.
func NewVolcengineClient(cfg config.SpeechConfig) *VolcengineClient {
	return &VolcengineClient{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 30 * time.Second,
		},
	}
}

type volcengineRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string `json:"speaker"`
		Text        string `json:"text"`
		AudioParams struct {
			Format     string  `json:"format"`
			SampleRate int     `json:"sample_rate"`
			SpeedRatio float32 `json:"speed_ratio,omitempty"`
		} `json:"audio_params"`
	} `json:"req_params"`
}

type volcengineServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
}

// Synthesize converts text to mp3 audio bytes.
func (c *VolcengineClient) Synthesize(ctx context.Context, text string) ([]byte, string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, "", fmt.Errorf("tts text is empty")
	}

	wsURL := c.cfg.BaseURL
	if wsURL == "" {
		wsURL = volcengineTTSURL
	}

	header := http.Header{}
	header.Set("X-Api-App-Key", c.cfg.AppID)
	header.Set("X-Api-Access-Key", c.cfg.AccessToken)
	header.Set("X-Api-Resource-Id", "volc.service_type.10029")
	header.Set("X-Api-Connect-Id", uuid.NewString())

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, "", fmt.Errorf("connect tts websocket: %w", err)
	}
	defer conn.Close()

	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			log.Printf("[tts] connected with logid: %s", logid)
		}
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
		conn.SetWriteDeadline(deadline)
	}

	req := c.buildRequest(text)
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, "", fmt.Errorf("marshal tts request: %w", err)
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, encodeClientRequest(payload)); err != nil {
		return nil, "", fmt.Errorf("send tts request: %w", err)
	}

	var audio bytes.Buffer
	for {
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, "", fmt.Errorf("read tts response: %w", err)
		}

		f, err := decodeServerFrame(data)
		if err != nil {
			return nil, "", fmt.Errorf("decode tts frame: %w", err)
		}

		switch f.Type {
		case errorMessage:
			payload, err := decompressPayload(f.Payload, f.Compression)
			if err != nil {
				return nil, "", fmt.Errorf("decode tts error payload: %w", err)
			}
			return nil, "", fmt.Errorf("tts error %d: %s", f.ErrorCode, string(payload))

		case audioOnlyServerResponse:
			chunk, err := decompressPayload(f.Payload, f.Compression)
			if err != nil {
				return nil, "", fmt.Errorf("decompress audio chunk: %w", err)
			}
			audio.Write(chunk)
			if f.isLastPacket() {
				return finishAudio(&audio)
			}

		case fullServerResponse:
			payload, err := decompressPayload(f.Payload, f.Compression)
			if err != nil {
				return nil, "", fmt.Errorf("decompress tts payload: %w", err)
			}

			var server volcengineServerMessage
			if len(payload) > 0 {
				if err := json.Unmarshal(payload, &server); err != nil {
					log.Printf("[tts] unparseable response payload: %v", err)
				} else {
					if server.Code != 0 && server.Code != 3000 {
						return nil, "", fmt.Errorf("tts api error %d: %s", server.Code, server.Message)
					}
					if server.Data != "" {
						chunk, err := base64.StdEncoding.DecodeString(server.Data)
						if err != nil {
							return nil, "", fmt.Errorf("decode base64 audio chunk: %w", err)
						}
						audio.Write(chunk)
					}
				}
			}

			finished := f.isLastPacket() || server.Sequence < 0 ||
				(f.Flags&withEvent == withEvent && f.Event == eventSessionFinished)
			if finished {
				return finishAudio(&audio)
			}

		default:
			log.Printf("[tts] unexpected frame type: %d", f.Type)
		}
	}
}

func (c *VolcengineClient) buildRequest(text string) *volcengineRequest {
	req := &volcengineRequest{}
	req.User.UID = uuid.NewString()
	req.ReqParams.Speaker = c.cfg.Voice
	req.ReqParams.Text = text
	req.ReqParams.AudioParams.Format = "mp3"
	req.ReqParams.AudioParams.SampleRate = 24000
	if c.cfg.Speed > 0 && c.cfg.Speed != 1.0 {
		req.ReqParams.AudioParams.SpeedRatio = c.cfg.Speed
	}
	return req
}

func finishAudio(audio *bytes.Buffer) ([]byte, string, error) {
	if audio.Len() == 0 {
		return nil, "", fmt.Errorf("tts audio is empty")
	}
	return audio.Bytes(), "mp3", nil
}
