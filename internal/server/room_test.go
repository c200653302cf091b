package server

import (
	"database/sql"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/cpayne/go-roomchat/internal/database"
	"github.com/cpayne/go-roomchat/internal/stats"
	"github.com/cpayne/go-roomchat/internal/testutil"
	"github.com/cpayne/go-roomchat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newTestRoom(t *testing.T, cs *ChatServer) *Room {
	r := &Room{
		id:         1,
		externalId: "test-room",
		name:       "Test Room",
		ownerId:    1,
		cs:         cs,
		clients:    make(map[*Client]struct{}),
		log:        testutil.TestLogger(t),
		killTimer:  time.NewTimer(idleRoomTimeout),
		done:       make(chan struct{}),
	}
	r.killTimer.Stop()
	return r
}

func newTestClient(t *testing.T, id int, username string) *Client {
	return &Client{
		user: types.User{Id: id, Username: username},
		send: make(chan *ServerMessage, 16),
		log:  testutil.TestLogger(t),
	}
}

func Test_addClient_removeClient_hasClient(t *testing.T) {
	room := newTestRoom(t, nil)

	c := newTestClient(t, 1, "testuser")
	room.addClient(c)
	assert.Lenf(t, room.clients, 1, "expected 1 client after adding, got %d", len(room.clients))
	assert.True(t, room.hasClient(c), "expected room to contain client")
	assert.Equal(t, room, c.currentRoom(), "expected client's room to be set")

	room.removeClient(c)
	assert.Lenf(t, room.clients, 0, "expected 0 clients after removal, got %d", len(room.clients))
	assert.False(t, room.hasClient(c), "expected room to not contain client after removal")
	assert.Nil(t, c.currentRoom(), "expected client's room to be cleared")

	// removing a non-member is a no-op
	room.removeClient(c)
}

func Test_handleRoomTimeout(t *testing.T) {
	t.Run("successfully requests unload", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockRoomChatRepository{}, &stats.MockStatsUpdater{})
		room := newTestRoom(t, cs)

		room.handleRoomTimeout()
		select {
		case req := <-cs.unloadRoomChan:
			assert.Equal(t, "test-room", req.roomId, "expected room id to match")
			assert.False(t, req.deleted, "expected deleted flag to be false")
		default:
			t.Error("handleRoomTimeout did not send unload request")
		}
	})

	t.Run("unload channel is full", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockRoomChatRepository{}, &stats.MockStatsUpdater{})
		cs.unloadRoomChan = make(chan unloadRoomRequest, 1)
		cs.unloadRoomChan <- unloadRoomRequest{roomId: "another-room"}

		room := newTestRoom(t, cs)
		room.handleRoomTimeout()
		assert.True(t, room.killTimer.Stop(), "expected kill timer to be rearmed after failed unload request")
	})
}

func Test_handleJoin(t *testing.T) {
	t.Run("re-join is idempotent and re-reports history size", func(t *testing.T) {
		now := Now()
		db := &database.MockRoomChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetRecentMessages", 1, backlogLimit).Return([]database.Message{
			{Id: 10, ExternalId: "msg-1", RoomId: 1, AccountId: 1, Sender: "testuser", Content: "hello", CreatedAt: now},
		}, nil).Once()

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		room := newTestRoom(t, cs)

		c := newTestClient(t, 1, "testuser")
		room.addClient(c)

		room.handleJoin(&ClientMessage{
			BaseMessage: BaseMessage{Id: 2},
			Join:        &Join{RoomId: "test-room"},
			client:      c,
		})

		msg := <-c.send
		assert.Equal(t, http.StatusOK, msg.Response.ResponseCode, "expected ok response")
		assert.Equal(t, 1, msg.Response.Data["message_count"], "expected real history size on re-join")
		assert.Len(t, room.clients, 1, "expected membership to be unchanged")

		// a retry after a lost ack gets the backlog again; the client
		// dedupes it by durable id
		backlog := <-c.send
		assert.Len(t, backlog.Backlog, 1, "expected backlog to be re-delivered")
		db.AssertNotCalled(t, "GetRoomByExternalId", mock.Anything)
	})

	t.Run("room deleted during handshake", func(t *testing.T) {
		db := &database.MockRoomChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetRoomByExternalId", "test-room").Return(database.Room{}, sql.ErrNoRows)

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		room := newTestRoom(t, cs)

		c := newTestClient(t, 1, "testuser")
		room.handleJoin(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			Join:        &Join{RoomId: "test-room"},
			client:      c,
		})

		msg := <-c.send
		assert.Equal(t, http.StatusNotFound, msg.Response.ResponseCode, "expected not found response")
		assert.False(t, room.hasClient(c), "expected membership to not be granted")
	})

	t.Run("backlog load fails", func(t *testing.T) {
		db := &database.MockRoomChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetRoomByExternalId", "test-room").Return(database.Room{Id: 1, ExternalId: "test-room"}, nil)
		db.On("GetRecentMessages", 1, backlogLimit).Return([]database.Message{}, errors.New("db down"))

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		room := newTestRoom(t, cs)

		c := newTestClient(t, 1, "testuser")
		room.handleJoin(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			Join:        &Join{RoomId: "test-room"},
			client:      c,
		})

		msg := <-c.send
		assert.Equal(t, http.StatusInternalServerError, msg.Response.ResponseCode, "expected internal error response")
		assert.False(t, room.hasClient(c), "expected membership to not be granted")
	})

	t.Run("grants membership and delivers backlog privately", func(t *testing.T) {
		now := Now()
		db := &database.MockRoomChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetRoomByExternalId", "test-room").Return(database.Room{Id: 1, ExternalId: "test-room"}, nil)
		db.On("GetRecentMessages", 1, backlogLimit).Return([]database.Message{
			{Id: 10, ExternalId: "msg-1", RoomId: 1, AccountId: 2, Sender: "other", Content: "hello", CreatedAt: now},
		}, nil)

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		room := newTestRoom(t, cs)

		member := newTestClient(t, 2, "other")
		room.addClient(member)

		c := newTestClient(t, 1, "testuser")
		room.handleJoin(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			Join:        &Join{RoomId: "test-room"},
			client:      c,
		})

		assert.True(t, room.hasClient(c), "expected membership to be granted")

		ack := <-c.send
		assert.Equal(t, http.StatusOK, ack.Response.ResponseCode, "expected ok response")
		assert.Equal(t, "test-room", ack.Response.Data["room_id"], "expected room id in ack")
		assert.Equal(t, 1, ack.Response.Data["message_count"], "expected backlog size in ack")

		backlog := <-c.send
		assert.Len(t, backlog.Backlog, 1, "expected one backlog message")
		assert.Equal(t, "msg-1", backlog.Backlog[0].Id, "expected durable id in backlog")
		assert.Equal(t, "hello", backlog.Backlog[0].Content, "expected content in backlog")

		select {
		case msg := <-member.send:
			t.Errorf("backlog must not be broadcast, existing member got %+v", msg)
		default:
		}
	})

	t.Run("joining a second room leaves the first before membership is granted", func(t *testing.T) {
		db := &database.MockRoomChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetRoomByExternalId", "second-room").Return(database.Room{Id: 2, ExternalId: "second-room"}, nil)
		db.On("GetRecentMessages", 2, backlogLimit).Return([]database.Message{}, nil)

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})

		first := newTestRoom(t, cs)

		second := newTestRoom(t, cs)
		second.id = 2
		second.externalId = "second-room"

		c := newTestClient(t, 1, "testuser")
		first.addClient(c)

		second.handleJoin(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			Join:        &Join{RoomId: "second-room"},
			client:      c,
		})

		// at most one room at any instant: the old membership is gone by
		// the time the join completes, not merely queued for removal
		assert.False(t, first.hasClient(c), "expected membership in the first room to be removed")
		assert.True(t, second.hasClient(c), "expected membership in the new room")
		assert.Equal(t, second, c.currentRoom(), "expected client's room to point at the new room")

		// drain the join ack and backlog, then make sure old-room fan-out
		// no longer reaches the moved session
		<-c.send
		<-c.send
		first.broadcast(NoErrOK(0, nil))
		select {
		case msg := <-c.send:
			t.Errorf("expected no broadcast from the old room, got %+v", msg)
		default:
		}
	})
}

func Test_handleLeave(t *testing.T) {
	t.Run("member leaves", func(t *testing.T) {
		room := newTestRoom(t, nil)
		c := newTestClient(t, 1, "testuser")
		room.addClient(c)

		room.handleLeave(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			Leave:       &Leave{RoomId: "test-room"},
			client:      c,
		})

		assert.False(t, room.hasClient(c), "expected client to be removed")
		msg := <-c.send
		assert.Equal(t, http.StatusOK, msg.Response.ResponseCode, "expected ok response")
	})

	t.Run("leaving while not a member is a no-op success", func(t *testing.T) {
		room := newTestRoom(t, nil)
		c := newTestClient(t, 1, "testuser")

		room.handleLeave(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			Leave:       &Leave{RoomId: "test-room"},
			client:      c,
		})

		msg := <-c.send
		assert.Equal(t, http.StatusOK, msg.Response.ResponseCode, "expected ok response")
	})

	t.Run("disconnect leave is silent", func(t *testing.T) {
		room := newTestRoom(t, nil)
		c := newTestClient(t, 1, "testuser")
		room.addClient(c)

		room.handleLeave(&ClientMessage{
			Leave:      &Leave{RoomId: "test-room"},
			client:     c,
			disconnect: true,
		})

		assert.False(t, room.hasClient(c), "expected client to be removed")
		select {
		case msg := <-c.send:
			t.Errorf("expected no ack for disconnect leave, got %+v", msg)
		default:
		}
	})
}

func Test_saveAndBroadcast(t *testing.T) {
	t.Run("sender is not a member", func(t *testing.T) {
		db := &database.MockRoomChatRepository{}
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		room := newTestRoom(t, cs)

		c := newTestClient(t, 1, "testuser")
		room.saveAndBroadcast(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			Publish:     &Publish{RoomId: "test-room", Content: "hello", CorrelationId: "corr-1"},
			client:      c,
		})

		msg := <-c.send
		assert.Equal(t, http.StatusForbidden, msg.Response.ResponseCode, "expected forbidden response")
		assert.Equal(t, "corr-1", msg.Response.CorrelationId, "expected correlation token on rejection")
		db.AssertNotCalled(t, "CreateMessage", mock.Anything)
	})

	t.Run("whitespace-only content is rejected", func(t *testing.T) {
		db := &database.MockRoomChatRepository{}
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		room := newTestRoom(t, cs)

		c := newTestClient(t, 1, "testuser")
		room.addClient(c)

		room.saveAndBroadcast(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			Publish:     &Publish{RoomId: "test-room", Content: "   ", CorrelationId: "corr-1"},
			client:      c,
		})

		msg := <-c.send
		assert.Equal(t, http.StatusBadRequest, msg.Response.ResponseCode, "expected bad request response")
		assert.Equal(t, "corr-1", msg.Response.CorrelationId, "expected correlation token on rejection")
		db.AssertNotCalled(t, "CreateMessage", mock.Anything)
	})

	t.Run("persist failure means no broadcast", func(t *testing.T) {
		db := &database.MockRoomChatRepository{}
		defer db.AssertExpectations(t)
		db.On("CreateMessage", mock.Anything).Return(database.Message{}, errors.New("db down"))

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		cs.generateId = func() (string, error) { return "durable-1", nil }
		room := newTestRoom(t, cs)

		sender := newTestClient(t, 1, "testuser")
		other := newTestClient(t, 2, "other")
		room.addClient(sender)
		room.addClient(other)

		room.saveAndBroadcast(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1, Timestamp: Now()},
			Publish:     &Publish{RoomId: "test-room", Content: "hello", CorrelationId: "corr-1"},
			client:      sender,
		})

		msg := <-sender.send
		assert.Equal(t, http.StatusInternalServerError, msg.Response.ResponseCode, "expected internal error response")
		assert.Equal(t, "corr-1", msg.Response.CorrelationId, "expected correlation token on failure")

		select {
		case m := <-other.send:
			t.Errorf("expected no broadcast after persist failure, got %+v", m)
		default:
		}
	})

	t.Run("acks sender and broadcasts to all members", func(t *testing.T) {
		ts := Now()
		db := &database.MockRoomChatRepository{}
		defer db.AssertExpectations(t)
		db.On("CreateMessage", database.Message{
			ExternalId: "durable-1",
			RoomId:     1,
			AccountId:  1,
			Sender:     "testuser",
			Content:    "hello",
			CreatedAt:  ts,
		}).Return(database.Message{
			Id:         10,
			ExternalId: "durable-1",
			RoomId:     1,
			AccountId:  1,
			Sender:     "testuser",
			Content:    "hello",
			CreatedAt:  ts,
		}, nil)

		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)
		su.On("Incr", "NumMessagesRelayed").Once()

		cs := newTestChatServer(t, db, su)
		cs.generateId = func() (string, error) { return "durable-1", nil }
		room := newTestRoom(t, cs)

		sender := newTestClient(t, 1, "testuser")
		other := newTestClient(t, 2, "other")
		room.addClient(sender)
		room.addClient(other)

		room.saveAndBroadcast(&ClientMessage{
			BaseMessage: BaseMessage{Id: 3, Timestamp: ts},
			Publish:     &Publish{RoomId: "test-room", Content: " hello ", CorrelationId: "corr-1"},
			client:      sender,
		})

		ack := <-sender.send
		assert.Equal(t, http.StatusOK, ack.Response.ResponseCode, "expected ok ack")
		assert.Equal(t, 3, ack.Id, "expected ack to carry the request id")
		assert.Equal(t, "corr-1", ack.Response.CorrelationId, "expected correlation token in ack")
		assert.Equal(t, "durable-1", ack.Response.Data["durable_id"], "expected durable id in ack")

		// sender is included in the fan-out, after the ack
		bcast := <-sender.send
		assert.NotNil(t, bcast.Message, "expected broadcast to reach the sender")
		assert.Equal(t, "corr-1", bcast.Message.CorrelationId, "expected correlation token on broadcast")

		otherBcast := <-other.send
		assert.NotNil(t, otherBcast.Message, "expected broadcast to reach other members")
		assert.Equal(t, "durable-1", otherBcast.Message.Id, "expected durable id on broadcast")
		assert.Equal(t, "hello", otherBcast.Message.Content, "expected trimmed content on broadcast")
		assert.Equal(t, 1, otherBcast.Message.SenderId, "expected sender id on broadcast")
	})
}

func Test_handleEdit(t *testing.T) {
	t.Run("only the author may edit", func(t *testing.T) {
		db := &database.MockRoomChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetMessageByExternalId", "msg-1").Return(database.Message{Id: 10, ExternalId: "msg-1", RoomId: 1, AccountId: 2}, nil)

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		room := newTestRoom(t, cs)

		c := newTestClient(t, 1, "testuser")
		room.addClient(c)

		room.handleEdit(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			Edit:        &Edit{MessageId: "msg-1", RoomId: "test-room", Content: "edited"},
			client:      c,
		})

		msg := <-c.send
		assert.Equal(t, http.StatusForbidden, msg.Response.ResponseCode, "expected forbidden response")
		db.AssertNotCalled(t, "UpdateMessageContent", mock.Anything, mock.Anything)
	})

	t.Run("message from another room is not found", func(t *testing.T) {
		db := &database.MockRoomChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetMessageByExternalId", "msg-1").Return(database.Message{Id: 10, ExternalId: "msg-1", RoomId: 99, AccountId: 1}, nil)

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		room := newTestRoom(t, cs)

		c := newTestClient(t, 1, "testuser")
		room.addClient(c)

		room.handleEdit(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			Edit:        &Edit{MessageId: "msg-1", RoomId: "test-room", Content: "edited"},
			client:      c,
		})

		msg := <-c.send
		assert.Equal(t, http.StatusNotFound, msg.Response.ResponseCode, "expected not found response")
	})

	t.Run("author edits and members are notified", func(t *testing.T) {
		db := &database.MockRoomChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetMessageByExternalId", "msg-1").Return(database.Message{Id: 10, ExternalId: "msg-1", RoomId: 1, AccountId: 1}, nil)
		db.On("UpdateMessageContent", 10, "edited").Return(nil)

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		room := newTestRoom(t, cs)

		author := newTestClient(t, 1, "testuser")
		other := newTestClient(t, 2, "other")
		room.addClient(author)
		room.addClient(other)

		room.handleEdit(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			Edit:        &Edit{MessageId: "msg-1", RoomId: "test-room", Content: " edited "},
			client:      author,
		})

		ack := <-author.send
		assert.Equal(t, http.StatusOK, ack.Response.ResponseCode, "expected ok ack")

		notif := <-other.send
		assert.NotNil(t, notif.Notification, "expected a notification")
		assert.Equal(t, "msg-1", notif.Notification.MessageEdited.MessageId, "expected message id in notification")
		assert.Equal(t, "edited", notif.Notification.MessageEdited.Content, "expected trimmed content in notification")
	})
}

func Test_handleDelete(t *testing.T) {
	t.Run("only the author may delete", func(t *testing.T) {
		db := &database.MockRoomChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetMessageByExternalId", "msg-1").Return(database.Message{Id: 10, ExternalId: "msg-1", RoomId: 1, AccountId: 2}, nil)

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		room := newTestRoom(t, cs)

		c := newTestClient(t, 1, "testuser")
		room.addClient(c)

		room.handleDelete(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			Delete:      &Delete{MessageId: "msg-1", RoomId: "test-room"},
			client:      c,
		})

		msg := <-c.send
		assert.Equal(t, http.StatusForbidden, msg.Response.ResponseCode, "expected forbidden response")
		db.AssertNotCalled(t, "DeleteMessage", mock.Anything)
	})

	t.Run("author deletes and members are notified", func(t *testing.T) {
		db := &database.MockRoomChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetMessageByExternalId", "msg-1").Return(database.Message{Id: 10, ExternalId: "msg-1", RoomId: 1, AccountId: 1}, nil)
		db.On("DeleteMessage", 10).Return(nil)

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		room := newTestRoom(t, cs)

		author := newTestClient(t, 1, "testuser")
		other := newTestClient(t, 2, "other")
		room.addClient(author)
		room.addClient(other)

		room.handleDelete(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			Delete:      &Delete{MessageId: "msg-1", RoomId: "test-room"},
			client:      author,
		})

		ack := <-author.send
		assert.Equal(t, http.StatusOK, ack.Response.ResponseCode, "expected ok ack")

		notif := <-other.send
		assert.NotNil(t, notif.Notification, "expected a notification")
		assert.Equal(t, "msg-1", notif.Notification.MessageDeleted.MessageId, "expected message id in notification")
	})
}

func Test_handleRoomExit(t *testing.T) {
	t.Run("exit with no clients", func(t *testing.T) {
		room := newTestRoom(t, nil)

		done := make(chan string)
		go room.handleRoomExit(exitReq{deleted: false, done: done})

		select {
		case id := <-done:
			assert.Equal(t, room.externalId, id, "expected room id on done channel")
		case <-time.After(100 * time.Millisecond):
			t.Error("timeout: handleRoomExit did not complete")
		}
	})

	t.Run("deleted room notifies and evicts members", func(t *testing.T) {
		room := newTestRoom(t, nil)

		c := newTestClient(t, 1, "testuser")
		room.addClient(c)

		done := make(chan string)
		go room.handleRoomExit(exitReq{deleted: true, done: done})

		select {
		case id := <-done:
			assert.Equal(t, room.externalId, id, "expected room id on done channel")
		case <-time.After(100 * time.Millisecond):
			t.Error("timeout: handleRoomExit did not complete")
		}

		msg := <-c.send
		assert.NotNil(t, msg.Notification, "expected a room deleted notification")
		assert.Equal(t, room.externalId, msg.Notification.RoomDeleted.RoomId, "expected room id in notification")

		assert.Empty(t, room.clients, "expected all members to be evicted")
		assert.Nil(t, c.currentRoom(), "expected client's room to be cleared")
	})

	t.Run("idle unload evicts silently", func(t *testing.T) {
		room := newTestRoom(t, nil)

		c := newTestClient(t, 1, "testuser")
		room.addClient(c)

		done := make(chan string)
		go room.handleRoomExit(exitReq{deleted: false, done: done})

		select {
		case id := <-done:
			assert.Equal(t, room.externalId, id, "expected room id on done channel")
		case <-time.After(100 * time.Millisecond):
			t.Error("timeout: handleRoomExit did not complete")
		}

		select {
		case msg := <-c.send:
			t.Errorf("expected no notification for idle unload, got %+v", msg)
		default:
		}
	})
}

func Test_drain(t *testing.T) {
	t.Run("rejects queued requests after delete", func(t *testing.T) {
		room := newTestRoom(t, nil)
		room.joinChan = make(chan *ClientMessage, 4)
		room.leaveChan = make(chan *ClientMessage, 4)
		room.clientMsgChan = make(chan *ClientMessage, 4)

		joiner := newTestClient(t, 1, "joiner")
		publisher := newTestClient(t, 2, "publisher")

		room.joinChan <- &ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			Join:        &Join{RoomId: "test-room"},
			client:      joiner,
		}
		room.clientMsgChan <- &ClientMessage{
			BaseMessage: BaseMessage{Id: 2},
			Publish:     &Publish{RoomId: "test-room", Content: "hello", CorrelationId: "corr-1"},
			client:      publisher,
		}

		room.drain(true)

		joinResp := <-joiner.send
		assert.Equal(t, http.StatusNotFound, joinResp.Response.ResponseCode, "expected queued join to be rejected")

		pubResp := <-publisher.send
		assert.Equal(t, http.StatusNotFound, pubResp.Response.ResponseCode, "expected queued publish to be rejected")
		assert.Equal(t, "corr-1", pubResp.Response.CorrelationId, "expected correlation token on rejection")
	})

	t.Run("requeues joins after idle unload", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockRoomChatRepository{}, &stats.MockStatsUpdater{})
		room := newTestRoom(t, cs)
		room.joinChan = make(chan *ClientMessage, 4)
		room.leaveChan = make(chan *ClientMessage, 4)
		room.clientMsgChan = make(chan *ClientMessage, 4)

		joiner := newTestClient(t, 1, "joiner")
		joiner.chatServer = cs

		join := &ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			Join:        &Join{RoomId: "test-room"},
			client:      joiner,
		}
		room.joinChan <- join

		room.drain(false)

		select {
		case requeued := <-cs.joinChan:
			assert.Equal(t, join, requeued, "expected the join to be sent back through the server")
		default:
			t.Error("expected the queued join to be requeued")
		}
	})
}
