package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/cpayne/go-roomchat/internal/server"
	"github.com/gorilla/websocket"
	"github.com/teris-io/shortid"
)

const (
	defaultAckTimeout = 10 * time.Second
	heartbeatInterval = 30 * time.Second
	writeTimeout      = 10 * time.Second
)

// ErrAckTimeout is returned when a request's acknowledgment never arrives
// within the ack timeout. The pending echo for the request is resolved as
// failed rather than left ambiguous.
var ErrAckTimeout = errors.New("acknowledgment timed out")

// SendResult reports the server-confirmed identity of a relayed message.
type SendResult struct {
	CorrelationId string
	DurableId     string
	Timestamp     time.Time
}

// ChatClient is the reconciliation endpoint of the channel: it renders
// optimistic echoes for sends, upgrades them on acknowledgment or
// broadcast, merges backlog by durable id after joins and reconnects, and
// guarantees every echo eventually resolves.
type ChatClient struct {
	url        string
	username   string
	header     http.Header
	log        *log.Logger
	ackTimeout time.Duration

	ledger *Ledger

	mu     sync.Mutex
	conn   *websocket.Conn
	roomId string
	nextId int
	acks   map[int]chan *server.Response

	writeMu sync.Mutex

	evicted chan string
}

func New(url, username string, header http.Header, logger *log.Logger) *ChatClient {
	return &ChatClient{
		url:        url,
		username:   username,
		header:     header,
		log:        logger,
		ackTimeout: defaultAckTimeout,
		ledger:     NewLedger(),
		acks:       make(map[int]chan *server.Response),
		evicted:    make(chan string, 1),
	}
}

// Ledger exposes the message view for rendering.
func (c *ChatClient) Ledger() *Ledger {
	return c.ledger
}

// Evicted signals the room id when the server deletes the current room.
func (c *ChatClient) Evicted() <-chan string {
	return c.evicted
}

func (c *ChatClient) Dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	done := make(chan struct{})
	go c.readLoop(conn, done)
	go c.heartbeatLoop(conn, done)

	return nil
}

func (c *ChatClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// JoinRoom runs the join handshake and returns the backlog size announced
// in the acknowledgment. The backlog itself arrives on the read loop and
// is merged into the ledger.
func (c *ChatClient) JoinRoom(ctx context.Context, roomId string) (int, error) {
	resp, err := c.do(ctx, &server.ClientMessage{
		Join: &server.Join{RoomId: roomId},
	})
	if err != nil {
		return 0, err
	}

	if resp.ResponseCode != http.StatusOK {
		return 0, fmt.Errorf("join room %s: %s", roomId, resp.Error)
	}

	c.mu.Lock()
	if c.roomId != roomId {
		c.ledger.Reset()
	}
	c.roomId = roomId
	c.mu.Unlock()

	return intFromData(resp.Data, "message_count"), nil
}

func (c *ChatClient) LeaveRoom(ctx context.Context) error {
	c.mu.Lock()
	roomId := c.roomId
	c.mu.Unlock()
	if roomId == "" {
		return nil
	}

	resp, err := c.do(ctx, &server.ClientMessage{
		Leave: &server.Leave{RoomId: roomId},
	})
	if err != nil {
		return err
	}
	if resp.ResponseCode != http.StatusOK {
		return fmt.Errorf("leave room %s: %s", roomId, resp.Error)
	}

	c.mu.Lock()
	if c.roomId == roomId {
		c.roomId = ""
	}
	c.mu.Unlock()
	c.ledger.Reset()

	return nil
}

// Send relays content to the current room. A pending echo tagged with a
// fresh correlation token is recorded before the request goes out; the
// token ties the echo to its acknowledgment and to the broadcast copy, so
// exactly one entry ever renders for the message.
func (c *ChatClient) Send(ctx context.Context, content string) (*SendResult, error) {
	c.mu.Lock()
	roomId := c.roomId
	c.mu.Unlock()
	if roomId == "" {
		return nil, errors.New("not in a room")
	}

	correlationId, err := shortid.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate correlation token: %w", err)
	}

	c.ledger.AddPending(correlationId, c.username, content)

	resp, err := c.do(ctx, &server.ClientMessage{
		Publish: &server.Publish{
			RoomId:        roomId,
			Content:       content,
			CorrelationId: correlationId,
		},
	})
	if err != nil {
		c.ledger.FailPending(correlationId, err.Error())
		return nil, err
	}

	if resp.ResponseCode != http.StatusOK {
		c.ledger.FailPending(correlationId, resp.Error)
		return nil, fmt.Errorf("send message: %s", resp.Error)
	}

	durableId, _ := resp.Data["durable_id"].(string)
	ts := timeFromData(resp.Data, "timestamp")

	// upgrade the echo; a no-op if the broadcast already confirmed it
	c.ledger.ResolveAck(correlationId, durableId, ts)

	return &SendResult{
		CorrelationId: correlationId,
		DurableId:     durableId,
		Timestamp:     ts,
	}, nil
}

func (c *ChatClient) Edit(ctx context.Context, durableId, content string) error {
	c.mu.Lock()
	roomId := c.roomId
	c.mu.Unlock()
	if roomId == "" {
		return errors.New("not in a room")
	}

	resp, err := c.do(ctx, &server.ClientMessage{
		Edit: &server.Edit{MessageId: durableId, RoomId: roomId, Content: content},
	})
	if err != nil {
		return err
	}
	if resp.ResponseCode != http.StatusOK {
		return fmt.Errorf("edit message %s: %s", durableId, resp.Error)
	}

	c.ledger.ApplyEdited(durableId, content)
	return nil
}

func (c *ChatClient) Delete(ctx context.Context, durableId string) error {
	c.mu.Lock()
	roomId := c.roomId
	c.mu.Unlock()
	if roomId == "" {
		return errors.New("not in a room")
	}

	resp, err := c.do(ctx, &server.ClientMessage{
		Delete: &server.Delete{MessageId: durableId, RoomId: roomId},
	})
	if err != nil {
		return err
	}
	if resp.ResponseCode != http.StatusOK {
		return fmt.Errorf("delete message %s: %s", durableId, resp.Error)
	}

	c.ledger.ApplyDeleted(durableId)
	return nil
}

// DeleteRoom asks the server to delete the current room. Owner only.
func (c *ChatClient) DeleteRoom(ctx context.Context) error {
	c.mu.Lock()
	roomId := c.roomId
	c.mu.Unlock()
	if roomId == "" {
		return errors.New("not in a room")
	}

	resp, err := c.do(ctx, &server.ClientMessage{
		DeleteRoom: &server.DeleteRoom{RoomId: roomId},
	})
	if err != nil {
		return err
	}
	if resp.ResponseCode != http.StatusOK {
		return fmt.Errorf("delete room %s: %s", roomId, resp.Error)
	}

	c.mu.Lock()
	if c.roomId == roomId {
		c.roomId = ""
	}
	c.mu.Unlock()

	return nil
}

// Reconnect replaces the connection, re-runs the join handshake for the
// current room and resolves any echo the old connection left pending. The
// rejoin backlog re-delivers recent history, which the ledger dedupes by
// durable id.
func (c *ChatClient) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	old := c.conn
	c.conn = nil
	roomId := c.roomId
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}

	if err := c.Dial(ctx); err != nil {
		return err
	}

	if roomId != "" {
		if _, err := c.JoinRoom(ctx, roomId); err != nil {
			return err
		}
	}

	if n := c.ledger.FailStale(c.ackTimeout); n > 0 {
		c.log.Printf("flagged %d unresolved echoes as failed after reconnect", n)
	}

	return nil
}

func (c *ChatClient) do(ctx context.Context, msg *server.ClientMessage) (*server.Response, error) {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, errors.New("not connected")
	}
	c.nextId++
	id := c.nextId
	ch := make(chan *server.Response, 1)
	c.acks[id] = ch
	c.mu.Unlock()

	msg.Id = id
	msg.Timestamp = time.Now().UTC()

	if err := c.writeJSON(conn, msg); err != nil {
		c.dropAck(id)
		return nil, fmt.Errorf("write request: %w", err)
	}

	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		c.dropAck(id)
		return nil, ErrAckTimeout
	case <-ctx.Done():
		c.dropAck(id)
		return nil, ctx.Err()
	}
}

func (c *ChatClient) writeJSON(conn *websocket.Conn, msg *server.ClientMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}

func (c *ChatClient) dropAck(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.acks, id)
}

func (c *ChatClient) deliverAck(id int, resp *server.Response) {
	c.mu.Lock()
	ch, ok := c.acks[id]
	if ok {
		delete(c.acks, id)
	}
	c.mu.Unlock()

	if ok {
		ch <- resp
	}
}

func (c *ChatClient) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		var sm server.ServerMessage
		if err := conn.ReadJSON(&sm); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Printf("read: %v", err)
			}
			return
		}

		switch {
		case sm.Response != nil:
			c.deliverAck(sm.Id, sm.Response)
		case sm.Message != nil:
			c.ledger.ApplyCreated(*sm.Message)
		case sm.Backlog != nil:
			c.ledger.ApplyBacklog(sm.Backlog)
		case sm.Notification != nil:
			c.handleNotification(sm.Notification)
		}
	}
}

func (c *ChatClient) handleNotification(n *server.Notification) {
	switch {
	case n.MessageEdited != nil:
		c.ledger.ApplyEdited(n.MessageEdited.MessageId, n.MessageEdited.Content)
	case n.MessageDeleted != nil:
		c.ledger.ApplyDeleted(n.MessageDeleted.MessageId)
	case n.RoomDeleted != nil:
		c.mu.Lock()
		if c.roomId == n.RoomDeleted.RoomId {
			c.roomId = ""
		}
		c.mu.Unlock()

		select {
		case c.evicted <- n.RoomDeleted.RoomId:
		default:
		}
	}
}

// heartbeatLoop signals liveness on a fixed interval, independent of
// message traffic. It dies with the connection it was started for.
func (c *ChatClient) heartbeatLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.writeJSON(conn, &server.ClientMessage{Heartbeat: &server.Heartbeat{}}); err != nil {
				c.log.Printf("heartbeat: %v", err)
				return
			}
		case <-done:
			return
		}
	}
}

func intFromData(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func timeFromData(data map[string]any, key string) time.Time {
	switch v := data[key].(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return ts
		}
	case time.Time:
		return v
	}
	return time.Time{}
}
