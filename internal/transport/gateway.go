package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"meshbridge/internal/config"
	"meshbridge/internal/constants"
	"meshbridge/internal/logger"
	"meshbridge/pkg/models"
	"meshbridge/pkg/retry"
)

// frame is the newline-delimited JSON exchanged with a radio gateway.
// Inbound frames carry type "packet"; outbound sends carry type "send".
type frame struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Text    string `json:"text,omitempty"`
	Channel int    `json:"channel"`
}

// Receiver consumes inbound packets. The router satisfies it.
type Receiver interface {
	OnReceive(ctx context.Context, sourceLink string, pkt models.Packet)
}

// GatewayLink is a TCP connection to one radio gateway. Run maintains
// the connection with exponential backoff and feeds inbound packets to
// the receiver; Send writes outbound frames on the same connection.
type GatewayLink struct {
	name        string
	addr        string
	sendTimeout time.Duration

	receiver Receiver
	logger   logger.Logger

	// Optional hook, called with "connected" or "disconnected" from the
	// Run goroutine. Must not block.
	OnStateChange func(ctx context.Context, name, state string)

	mu   sync.Mutex
	conn net.Conn
}

func NewGatewayLink(cfg config.LinkConfig, receiver Receiver, log logger.Logger) *GatewayLink {
	sendTimeout := constants.DefaultSendTimeout
	if cfg.SendTimeoutSeconds > 0 {
		sendTimeout = time.Duration(cfg.SendTimeoutSeconds) * time.Second
	}

	return &GatewayLink{
		name:        cfg.Name,
		addr:        cfg.Addr,
		sendTimeout: sendTimeout,
		receiver:    receiver,
		logger:      log,
	}
}

func (g *GatewayLink) Name() string {
	return g.name
}

// Send writes one outbound frame. Fails immediately when the gateway is
// not connected; the caller decides whether that counts against a
// breaker.
func (g *GatewayLink) Send(ctx context.Context, text string, channel int) error {
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("link %s is not connected", g.name)
	}

	payload, err := json.Marshal(frame{
		Type:    "send",
		Text:    text,
		Channel: channel,
	})
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	payload = append(payload, '\n')

	deadline := time.Now().Add(g.sendTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}

	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("failed to write to link %s: %w", g.name, err)
	}
	return nil
}

func (g *GatewayLink) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conn != nil
}

// Run connects to the gateway and reads packets until ctx is done,
// redialing with exponential backoff whenever the connection drops.
func (g *GatewayLink) Run(ctx context.Context) error {
	schedule := retry.Exponential(retry.Policy{
		InitialInterval: time.Second,
		MaxInterval:     time.Minute,
		Multiplier:      2.0,
	})

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		conn, err := g.dial(ctx)
		if err != nil {
			wait := schedule.NextBackOff()
			if wait == backoff.Stop {
				schedule.Reset()
				wait = time.Minute
			}
			g.logger.Warnw("Failed to connect to gateway, retrying",
				"link", g.name,
				"addr", g.addr,
				"retry_in", wait,
				"error", err,
			)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		schedule.Reset()
		g.setConn(conn)
		g.logger.Infow("Connected to gateway", "link", g.name, "addr", g.addr)
		g.notify(ctx, "connected")

		err = g.readLoop(ctx, conn)
		g.setConn(nil)
		conn.Close()

		if ctx.Err() != nil {
			return nil
		}
		g.logger.Warnw("Gateway connection lost", "link", g.name, "error", err)
		g.notify(ctx, "disconnected")
	}
}

func (g *GatewayLink) dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return d.DialContext(dialCtx, "tcp", g.addr)
}

func (g *GatewayLink) notify(ctx context.Context, state string) {
	if g.OnStateChange != nil {
		g.OnStateChange(ctx, g.name, state)
	}
}

func (g *GatewayLink) setConn(conn net.Conn) {
	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()
}

func (g *GatewayLink) readLoop(ctx context.Context, conn net.Conn) error {
	// Unblock the scanner when ctx is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)

	for scanner.Scan() {
		g.handleLine(ctx, scanner.Bytes())
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("gateway closed connection")
}

func (g *GatewayLink) handleLine(ctx context.Context, line []byte) {
	if len(line) == 0 {
		return
	}

	var f frame
	if err := json.Unmarshal(line, &f); err != nil {
		g.logger.Warnw("Discarding unparseable gateway frame",
			"link", g.name,
			"error", err,
		)
		return
	}
	if f.Type != "packet" {
		return
	}

	// Gateways that do not assign packet ids get one here; dedup across
	// links then relies on the mesh id being present.
	if f.ID == "" {
		f.ID = uuid.NewString()
	}

	g.receiver.OnReceive(ctx, g.name, models.Packet{
		ID:      f.ID,
		From:    f.From,
		To:      f.To,
		Payload: []byte(f.Text),
		Channel: f.Channel,
	})
}
