package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshbridge/internal/config"
	"meshbridge/internal/logger"
	"meshbridge/pkg/models"
)

type captureReceiver struct {
	mu      sync.Mutex
	packets []models.Packet
	links   []string
}

func (c *captureReceiver) OnReceive(ctx context.Context, sourceLink string, pkt models.Packet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packets = append(c.packets, pkt)
	c.links = append(c.links, sourceLink)
}

func (c *captureReceiver) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.packets)
}

func newTestLink(receiver Receiver) *GatewayLink {
	return NewGatewayLink(config.LinkConfig{
		Name:               "lora0",
		Addr:               "127.0.0.1:0",
		SendTimeoutSeconds: 1,
	}, receiver, logger.NopLogger())
}

func TestHandleLine_Packet(t *testing.T) {
	rc := &captureReceiver{}
	g := newTestLink(rc)

	g.handleLine(context.Background(), []byte(`{"type":"packet","id":"42","from":"!abc123456","to":"broadcast","text":"hello","channel":2}`))

	require.Equal(t, 1, rc.count())
	assert.Equal(t, "lora0", rc.links[0])
	assert.Equal(t, models.Packet{
		ID:      "42",
		From:    "!abc123456",
		To:      "broadcast",
		Payload: []byte("hello"),
		Channel: 2,
	}, rc.packets[0])
}

func TestHandleLine_AssignsMissingID(t *testing.T) {
	rc := &captureReceiver{}
	g := newTestLink(rc)

	g.handleLine(context.Background(), []byte(`{"type":"packet","from":"!abc123456","text":"hi"}`))

	require.Equal(t, 1, rc.count())
	assert.NotEmpty(t, rc.packets[0].ID)
}

func TestHandleLine_IgnoresOtherFrames(t *testing.T) {
	rc := &captureReceiver{}
	g := newTestLink(rc)

	g.handleLine(context.Background(), []byte(`{"type":"ack","id":"1"}`))
	g.handleLine(context.Background(), []byte(`not json`))
	g.handleLine(context.Background(), nil)

	assert.Equal(t, 0, rc.count())
}

func TestSend_NotConnected(t *testing.T) {
	g := newTestLink(&captureReceiver{})
	assert.Error(t, g.Send(context.Background(), "hi", 0))
}

func TestSend_WritesFrame(t *testing.T) {
	g := newTestLink(&captureReceiver{})

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	g.setConn(client)

	errCh := make(chan error, 1)
	go func() {
		errCh <- g.Send(context.Background(), "hello mesh", 3)
	}()

	line, err := bufio.NewReader(server).ReadBytes('\n')
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	var f frame
	require.NoError(t, json.Unmarshal(line, &f))
	assert.Equal(t, "send", f.Type)
	assert.Equal(t, "hello mesh", f.Text)
	assert.Equal(t, 3, f.Channel)
}

func TestRun_ReceivesPackets(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	rc := &captureReceiver{}
	g := NewGatewayLink(config.LinkConfig{
		Name: "lora0",
		Addr: ln.Addr().String(),
	}, rc, logger.NopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		g.Run(ctx)
	}()

	conn, err := ln.Accept()
	require.NoError(t, err)
	_, err = conn.Write([]byte(`{"type":"packet","id":"1","from":"!abc123456","text":"hi"}` + "\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rc.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, g.Connected())

	cancel()
	conn.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
