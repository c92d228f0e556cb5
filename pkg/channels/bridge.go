// Mendbot - conversational medication companion
// License: MIT

package channels

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mendhq/mendbot/pkg/bus"
	"github.com/mendhq/mendbot/pkg/config"
	"github.com/mendhq/mendbot/pkg/logger"
	"github.com/mendhq/mendbot/pkg/replyfmt"
)

// bridgeFrame is the wire format spoken with the relay on both
// directions.
type bridgeFrame struct {
	Type     string `json:"type"` // "message" or "file"
	SenderID string `json:"sender_id,omitempty"`
	ChatID   string `json:"chat_id"`
	Content  string `json:"content,omitempty"`
	Filename string `json:"filename,omitempty"`
	Data     string `json:"data,omitempty"` // base64 for files
	Caption  string `json:"caption,omitempty"`
}

// BridgeChannel talks to a websocket relay that fronts chat platforms
// mendbot has no native client for. It reconnects on its own.
type BridgeChannel struct {
	cfg     config.BridgeConfig
	bus     *bus.MessageBus
	conn    *websocket.Conn
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

func NewBridgeChannel(cfg config.BridgeConfig, msgBus *bus.MessageBus) (*BridgeChannel, error) {
	if cfg.WSUrl == "" {
		return nil, fmt.Errorf("bridge ws_url is required")
	}
	return &BridgeChannel{cfg: cfg, bus: msgBus}, nil
}

func (c *BridgeChannel) Name() string {
	return "bridge"
}

func (c *BridgeChannel) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true

	go c.connectLoop(runCtx)
	return nil
}

func (c *BridgeChannel) Stop(ctx context.Context) error {
	c.running = false
	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return nil
}

func (c *BridgeChannel) IsRunning() bool {
	return c.running
}

// connectLoop dials the relay and rereads until the connection drops,
// then waits ReconnectInterval and tries again.
func (c *BridgeChannel) connectLoop(ctx context.Context) {
	interval := time.Duration(c.cfg.ReconnectInterval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}

	for {
		if ctx.Err() != nil {
			return
		}

		if err := c.connect(ctx); err != nil {
			logger.WarnCF("bridge", "Connection failed", map[string]interface{}{
				"url":   c.cfg.WSUrl,
				"error": err.Error(),
			})
		} else {
			c.readLoop(ctx)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			logger.InfoC("bridge", "Reconnecting")
		}
	}
}

func (c *BridgeChannel) connect(ctx context.Context) error {
	header := http.Header{}
	if c.cfg.AccessToken != "" {
		header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.WSUrl, header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	logger.InfoCF("bridge", "Connected", map[string]interface{}{"url": c.cfg.WSUrl})
	return nil
}

func (c *BridgeChannel) readLoop(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			logger.WarnCF("bridge", "Read failed", map[string]interface{}{"error": err.Error()})
			return
		}

		var frame bridgeFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.WarnCF("bridge", "Bad frame", map[string]interface{}{"error": err.Error()})
			continue
		}
		if frame.Type != "message" || frame.Content == "" {
			continue
		}
		if !allowedSender(c.cfg.AllowFrom, frame.SenderID) {
			continue
		}

		c.bus.PublishInbound(bus.InboundMessage{
			Channel:    "bridge",
			SenderID:   frame.SenderID,
			ChatID:     frame.ChatID,
			Content:    frame.Content,
			SessionKey: frame.SenderID,
		})
	}
}

// Send delivers formatted chunks over the relay. The relay renders no
// markup, so chunks go out as plain text.
func (c *BridgeChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	for _, chunk := range replyfmt.FormatReply(msg.Content, replyfmt.MaxChunkLen) {
		frame := bridgeFrame{
			Type:    "message",
			ChatID:  msg.ChatID,
			Content: replyfmt.StripMarkup(chunk.Text),
		}
		if err := c.writeFrame(frame); err != nil {
			return err
		}
	}
	return nil
}

func (c *BridgeChannel) SendFile(ctx context.Context, chatID, filename string, content []byte, caption string) error {
	return c.writeFrame(bridgeFrame{
		Type:     "file",
		ChatID:   chatID,
		Filename: filename,
		Data:     base64.StdEncoding.EncodeToString(content),
		Caption:  caption,
	})
}

func (c *BridgeChannel) writeFrame(frame bridgeFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("bridge not connected")
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
