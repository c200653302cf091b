package server

import (
	"database/sql"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cpayne/go-roomchat/internal/database"
	"github.com/cpayne/go-roomchat/internal/types"
)

const (
	// idleRoomTimeout is how long an actor with no members stays loaded.
	// Unloading only drops in-memory state, never the persisted room.
	idleRoomTimeout = time.Second * 30
	// backlogLimit bounds the history window delivered privately on join.
	backlogLimit = 100
)

type exitReq struct {
	deleted bool
	done    chan string
}

// Room is the single-owner actor for one room: every membership change,
// relay, edit, delete and the delete-room cascade for this room runs on
// its goroutine, which makes per-room mutation linearizable without any
// global lock.
type Room struct {
	id            int
	externalId    string
	name          string
	ownerId       int
	cs            *ChatServer
	joinChan      chan *ClientMessage
	leaveChan     chan *ClientMessage
	clientMsgChan chan *ClientMessage
	clients       map[*Client]struct{}
	clientLock    sync.RWMutex
	log           *log.Logger
	// killTimer unloads the room once it has been empty for a while
	killTimer *time.Timer
	// exit signals the room to shut down
	exit chan exitReq
	// done is closed once the actor has fully stopped, so cross-actor
	// sends to this room's channels never block forever
	done chan struct{}
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.externalId)
	r.killTimer = time.NewTimer(idleRoomTimeout)
	r.killTimer.Stop()

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case leaveMsg := <-r.leaveChan:
			r.handleLeave(leaveMsg)
		case msg := <-r.clientMsgChan:
			switch {
			case msg.Publish != nil:
				r.saveAndBroadcast(msg)
			case msg.Edit != nil:
				r.handleEdit(msg)
			case msg.Delete != nil:
				r.handleDelete(msg)
			}
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case e := <-r.exit:
			r.handleRoomExit(e)
			r.drain(e.deleted)
			close(r.done)
			return
		}
	}
}

func (r *Room) handleRoomTimeout() {
	r.log.Printf("room %q idle, unloading", r.externalId)
	select {
	case r.cs.unloadRoomChan <- unloadRoomRequest{roomId: r.externalId}:
	default:
		// try again later
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleRoomExit(e exitReq) {
	r.log.Printf("room %q is exiting", r.externalId)
	if e.deleted {
		// notify every current member before they are evicted
		r.broadcast(&ServerMessage{
			BaseMessage: BaseMessage{
				Timestamp: Now(),
			},
			Notification: &Notification{
				RoomDeleted: &RoomDeleted{RoomId: r.externalId},
			},
		})
	}

	// force-evict every member
	r.clientLock.Lock()
	for c := range r.clients {
		c.clearRoom(r.externalId)
	}
	r.clients = make(map[*Client]struct{})
	r.clientLock.Unlock()

	if e.done != nil {
		e.done <- r.externalId
	}
}

// drain rejects whatever was queued on the room's channels while the exit
// was in flight, so no request is silently dropped mid-handshake.
func (r *Room) drain(deleted bool) {
	for {
		select {
		case join := <-r.joinChan:
			if deleted {
				join.client.queueMessage(ErrRoomNotFound(join.Id))
			} else {
				// idle unload racing a join: send it back through the
				// server so the room is reloaded
				join.client.joinRoom(join)
			}
		case leaveMsg := <-r.leaveChan:
			if !leaveMsg.disconnect {
				leaveMsg.client.queueMessage(NoErrOK(leaveMsg.Id, nil))
			}
		case msg := <-r.clientMsgChan:
			sm := ErrRoomNotFound(msg.Id)
			if !deleted {
				sm = ErrNotAMember(msg.Id, "")
			}
			if msg.Publish != nil {
				sm.Response.CorrelationId = msg.Publish.CorrelationId
			}
			msg.client.queueMessage(sm)
		default:
			return
		}
	}
}

func (r *Room) handleJoin(join *ClientMessage) {
	// stop the kill timer since we have a new client
	r.killTimer.Stop()

	c := join.client

	// joining a room the session already belongs to is idempotent:
	// membership is unchanged, but the ack and backlog are re-delivered
	// so a retry after a lost ack still learns the real history size
	rejoin := r.hasClient(c)

	if !rejoin {
		// re-validate room existence right before granting membership,
		// in case the room was deleted while the handshake was in flight
		if _, err := r.cs.db.GetRoomByExternalId(r.externalId); err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				r.log.Println("GetRoomByExternalId:", err)
			}
			c.queueMessage(ErrRoomNotFound(join.Id))
			r.resetTimerIfEmpty()
			return
		}
	}

	msgs, err := r.cs.db.GetRecentMessages(r.id, backlogLimit)
	if err != nil {
		r.log.Println("GetRecentMessages:", err)
		c.queueMessage(ErrInternalError(join.Id, ""))
		r.resetTimerIfEmpty()
		return
	}

	if !rejoin {
		// a session belongs to at most one room: the previous membership
		// is removed before the new one exists, never merely queued, so
		// no old-room broadcast can reach the session past this point
		if prev := c.currentRoom(); prev != nil && prev != r {
			prev.removeClient(c)
		}

		r.addClient(c)
	}

	backlog := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		backlog = append(backlog, types.Message{
			Id:        m.ExternalId,
			RoomId:    r.externalId,
			SenderId:  m.AccountId,
			Sender:    m.Sender,
			Content:   m.Content,
			Timestamp: m.CreatedAt,
		})
	}

	c.queueMessage(NoErrOK(join.Id, map[string]any{
		"room_id":       r.externalId,
		"name":          r.name,
		"message_count": len(backlog),
	}))

	// the backlog goes to the joining session only, never broadcast
	c.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Backlog:     backlog,
	})
}

func (r *Room) handleLeave(leaveMsg *ClientMessage) {
	c := leaveMsg.client
	if !r.hasClient(c) {
		// not a member, leaving is a no-op success
		if !leaveMsg.disconnect {
			c.queueMessage(NoErrOK(leaveMsg.Id, nil))
		}
		return
	}

	r.removeClient(c)

	if !leaveMsg.disconnect {
		c.queueMessage(NoErrOK(leaveMsg.Id, nil))
	}
}

// saveAndBroadcast relays one message: verify membership against the
// registry (the payload's claimed room is never trusted), persist, ack the
// sender with the durable id, then fan out to every member including the
// sender. Nothing is broadcast when persistence fails.
func (r *Room) saveAndBroadcast(msg *ClientMessage) {
	c := msg.client
	correlationId := msg.Publish.CorrelationId

	if !r.hasClient(c) {
		c.queueMessage(ErrNotAMember(msg.Id, correlationId))
		return
	}

	content := strings.TrimSpace(msg.Publish.Content)
	if content == "" {
		c.queueMessage(ErrEmptyMessage(msg.Id, correlationId))
		return
	}

	durableId, err := r.cs.generateId()
	if err != nil {
		r.log.Println("generateId:", err)
		c.queueMessage(ErrInternalError(msg.Id, correlationId))
		return
	}

	saved, err := r.cs.db.CreateMessage(database.Message{
		ExternalId: durableId,
		RoomId:     r.id,
		AccountId:  c.user.Id,
		Sender:     c.user.Username,
		Content:    content,
		CreatedAt:  msg.Timestamp,
	})
	if err != nil {
		r.log.Println("CreateMessage:", err)
		c.queueMessage(ErrInternalError(msg.Id, correlationId))
		return
	}

	c.queueMessage(AckSent(msg.Id, correlationId, saved.ExternalId, saved.CreatedAt))

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: saved.CreatedAt},
		Message: &types.Message{
			Id:            saved.ExternalId,
			RoomId:        r.externalId,
			SenderId:      c.user.Id,
			Sender:        c.user.Username,
			Content:       content,
			CorrelationId: correlationId,
			Timestamp:     saved.CreatedAt,
		},
	})

	r.cs.stats.Incr("NumMessagesRelayed")
}

func (r *Room) handleEdit(msg *ClientMessage) {
	c := msg.client

	if !r.hasClient(c) {
		c.queueMessage(ErrNotAMember(msg.Id, ""))
		return
	}

	content := strings.TrimSpace(msg.Edit.Content)
	if content == "" {
		c.queueMessage(ErrEmptyMessage(msg.Id, ""))
		return
	}

	m, err := r.cs.db.GetMessageByExternalId(msg.Edit.MessageId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.queueMessage(ErrMessageNotFound(msg.Id))
		} else {
			r.log.Println("GetMessageByExternalId:", err)
			c.queueMessage(ErrInternalError(msg.Id, ""))
		}
		return
	}

	if m.RoomId != r.id {
		c.queueMessage(ErrMessageNotFound(msg.Id))
		return
	}

	// only the original author may edit
	if m.AccountId != c.user.Id {
		c.queueMessage(ErrNotAuthor(msg.Id))
		return
	}

	if err := r.cs.db.UpdateMessageContent(m.Id, content); err != nil {
		r.log.Println("UpdateMessageContent:", err)
		c.queueMessage(ErrInternalError(msg.Id, ""))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, nil))

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Notification: &Notification{
			MessageEdited: &MessageEdited{
				MessageId: m.ExternalId,
				RoomId:    r.externalId,
				Content:   content,
				EditedAt:  Now(),
			},
		},
	})
}

func (r *Room) handleDelete(msg *ClientMessage) {
	c := msg.client

	if !r.hasClient(c) {
		c.queueMessage(ErrNotAMember(msg.Id, ""))
		return
	}

	m, err := r.cs.db.GetMessageByExternalId(msg.Delete.MessageId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.queueMessage(ErrMessageNotFound(msg.Id))
		} else {
			r.log.Println("GetMessageByExternalId:", err)
			c.queueMessage(ErrInternalError(msg.Id, ""))
		}
		return
	}

	if m.RoomId != r.id {
		c.queueMessage(ErrMessageNotFound(msg.Id))
		return
	}

	// only the original author may delete
	if m.AccountId != c.user.Id {
		c.queueMessage(ErrNotAuthor(msg.Id))
		return
	}

	if err := r.cs.db.DeleteMessage(m.Id); err != nil {
		r.log.Println("DeleteMessage:", err)
		c.queueMessage(ErrInternalError(msg.Id, ""))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, nil))

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Notification: &Notification{
			MessageDeleted: &MessageDeleted{
				MessageId: m.ExternalId,
				RoomId:    r.externalId,
			},
		},
	})
}

func (r *Room) addClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	r.clients[c] = struct{}{}
	c.setRoom(r)
}

func (r *Room) removeClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if _, ok := r.clients[c]; !ok {
		return
	}

	r.log.Printf("removing client %q from room %q", c.user.Username, r.externalId)
	delete(r.clients, c)
	c.clearRoom(r.externalId)

	// last member gone, start the kill timer
	if len(r.clients) == 0 {
		r.log.Printf("no clients in %q, starting kill timer", r.externalId)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) hasClient(c *Client) bool {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	_, ok := r.clients[c]
	return ok
}

func (r *Room) memberCount() int {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	return len(r.clients)
}

func (r *Room) resetTimerIfEmpty() {
	if r.memberCount() == 0 {
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) broadcast(msg *ServerMessage) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	for client := range r.clients {
		client.queueMessage(msg)
	}
}
