package server

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"sync"

	"github.com/cpayne/go-roomchat/internal/database"
	"github.com/cpayne/go-roomchat/internal/stats"
	"github.com/teris-io/shortid"
)

type unloadRoomRequest struct {
	roomId  string
	deleted bool
	done    chan string
}

type stopRequest struct {
	done chan struct{}
}

// ChatServer owns the process-wide registry of loaded room actors. Its run
// loop is the only goroutine that mutates the room map, so a join can never
// race a room delete into an inconsistent state.
type ChatServer struct {
	log            *log.Logger
	db             database.RoomChatRepository
	stats          stats.StatsProvider
	generateId     func() (string, error)
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	rooms          map[string]*Room
	joinChan       chan *ClientMessage
	deleteRoomChan chan *ClientMessage
	unloadRoomChan chan unloadRoomRequest
	stop           chan stopRequest
}

func NewChatServer(logger *log.Logger, db database.RoomChatRepository, su stats.StatsProvider) (*ChatServer, error) {
	cs := &ChatServer{
		log:            logger,
		db:             db,
		stats:          su,
		generateId:     shortid.Generate,
		clients:        make(map[*Client]struct{}),
		rooms:          make(map[string]*Room),
		joinChan:       make(chan *ClientMessage, 256),
		deleteRoomChan: make(chan *ClientMessage, 256),
		unloadRoomChan: make(chan unloadRoomRequest, 256),
		stop:           make(chan stopRequest),
	}

	su.RegisterMetric("NumActiveClients")
	su.RegisterMetric("NumLoadedRooms")
	su.RegisterMetric("NumMessagesRelayed")
	su.RegisterMetric("NumRoomsDeleted")

	return cs, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case joinMsg := <-cs.joinChan:
			cs.handleJoinRequest(joinMsg)
		case msg := <-cs.deleteRoomChan:
			cs.handleDeleteRoom(msg)
		case req := <-cs.unloadRoomChan:
			cs.evictRoom(req.roomId, req.deleted, req.done)
		case req := <-cs.stop:
			cs.log.Println("shutting down rooms")
			for id := range cs.rooms {
				cs.evictRoom(id, false, nil)
			}

			close(req.done)
			return
		}
	}
}

// handleJoinRequest resolves the target room, loading an actor for it if
// needed, and forwards the join. Room existence is checked against the
// directory before an actor is created, and once more on the actor itself
// before membership is granted.
func (cs *ChatServer) handleJoinRequest(joinMsg *ClientMessage) {
	room, ok := cs.getRoom(joinMsg.Join.RoomId)
	if !ok {
		dbRoom, err := cs.db.GetRoomByExternalId(joinMsg.Join.RoomId)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				joinMsg.client.queueMessage(ErrRoomNotFound(joinMsg.Id))
			} else {
				cs.log.Println("GetRoomByExternalId:", err)
				joinMsg.client.queueMessage(ErrInternalError(joinMsg.Id, ""))
			}
			return
		}

		room = cs.loadRoom(dbRoom)
		go room.start()
	}

	select {
	case room.joinChan <- joinMsg:
	default:
		cs.log.Printf("join channel full on room %q", room.externalId)
		joinMsg.client.queueMessage(ErrServiceUnavailable(joinMsg.Id))
	}
}

// handleDeleteRoom runs the owner-only cascade: remove all of the room's
// messages and the room record in one transaction, then evict and notify
// every current member through the actor.
func (cs *ChatServer) handleDeleteRoom(msg *ClientMessage) {
	c := msg.client

	dbRoom, err := cs.db.GetRoomByExternalId(msg.DeleteRoom.RoomId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.queueMessage(ErrRoomNotFound(msg.Id))
		} else {
			cs.log.Println("GetRoomByExternalId:", err)
			c.queueMessage(ErrInternalError(msg.Id, ""))
		}
		return
	}

	if dbRoom.OwnerId != c.user.Id {
		c.queueMessage(ErrNotOwner(msg.Id))
		return
	}

	if err := cs.db.DeleteRoom(dbRoom.Id); err != nil {
		cs.log.Println("DeleteRoom:", err)
		c.queueMessage(ErrInternalError(msg.Id, ""))
		return
	}

	cs.evictRoom(dbRoom.ExternalId, true, nil)
	cs.stats.Incr("NumRoomsDeleted")

	c.queueMessage(NoErrOK(msg.Id, nil))
}

// evictRoom removes the actor from the registry before asking it to exit,
// so joins arriving during the exit either miss the map and re-check the
// directory, or are rejected by the actor's drain.
func (cs *ChatServer) evictRoom(roomId string, deleted bool, done chan string) {
	if r, ok := cs.rooms[roomId]; ok {
		delete(cs.rooms, roomId)
		cs.stats.Decr("NumLoadedRooms")

		exited := make(chan string)
		r.exit <- exitReq{deleted: deleted, done: exited}
		<-exited

		cs.log.Printf("unloaded room %q", roomId)
	}

	if done != nil {
		done <- roomId
	}
}

// UnloadRoom asks the run loop to tear down a room's actor. Used by the
// HTTP surface after it has deleted the room record.
func (cs *ChatServer) UnloadRoom(ctx context.Context, roomId string, deleted bool) error {
	done := make(chan string, 1)
	select {
	case cs.unloadRoomChan <- unloadRoomRequest{roomId: roomId, deleted: deleted, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (cs *ChatServer) loadRoom(dbRoom database.Room) *Room {
	room := &Room{
		id:            dbRoom.Id,
		externalId:    dbRoom.ExternalId,
		name:          dbRoom.Name,
		ownerId:       dbRoom.OwnerId,
		cs:            cs,
		joinChan:      make(chan *ClientMessage, 256),
		leaveChan:     make(chan *ClientMessage, 256),
		clientMsgChan: make(chan *ClientMessage, 256),
		clients:       make(map[*Client]struct{}),
		log:           cs.log,
		exit:          make(chan exitReq),
		done:          make(chan struct{}),
	}

	cs.rooms[room.externalId] = room
	cs.stats.Incr("NumLoadedRooms")

	return room
}

func (cs *ChatServer) getRoom(roomId string) (*Room, bool) {
	r, ok := cs.rooms[roomId]
	return r, ok
}

func (cs *ChatServer) RegisterClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	cs.clients[c] = struct{}{}
	cs.stats.Incr("NumActiveClients")
}

func (cs *ChatServer) DeregisterClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; !ok {
		return
	}

	delete(cs.clients, c)
	cs.stats.Decr("NumActiveClients")
}

// Shutdown stops the run loop, tears down all room actors and closes every
// client connection.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case cs.stop <- stopRequest{done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	for c := range cs.clients {
		c.stopClient()
	}

	return nil
}
