package hub

import (
	"context"
	"sort"

	"github.com/DoyleJ11/texrace-backend/internal/engine"
	"github.com/DoyleJ11/texrace-backend/internal/lobby"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type HubMsg interface{ isHubMsg() }

type CreateLobby struct {
	Name  string
	Reply chan *lobby.Lobby
}

type GetLobby struct {
	ID    string
	Reply chan *lobby.Lobby
}

// Lobby ids are never reused, so removing by id is safe.
type RemoveLobby struct {
	ID string
}

type ListLobbies struct {
	Reply chan []string
}

type ShutdownHub struct{}

func (CreateLobby) isHubMsg() {}
func (GetLobby) isHubMsg()    {}
func (RemoveLobby) isHubMsg() {}
func (ListLobbies) isHubMsg() {}
func (ShutdownHub) isHubMsg() {}

type Options struct {
	// Lobby is the template every new lobby is created with. OnClose is
	// owned by the hub.
	Lobby  lobby.Options
	Logger *zap.Logger
	// OnRemove runs on the hub goroutine after a lobby is forgotten.
	OnRemove func(id string)
}

type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	opts    Options
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewHub(parent context.Context, opts Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		opts:    opts,
		log:     opts.Logger,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed once the hub goroutine has exited.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Create registers a new lobby. It returns nil if the hub is gone.
func (h *Hub) Create(ctx context.Context, name string) *lobby.Lobby {
	reply := make(chan *lobby.Lobby, 1)
	if !h.send(ctx, CreateLobby{Name: name, Reply: reply}) {
		return nil
	}
	return h.await(ctx, reply)
}

// Get returns the live lobby for id, or nil.
func (h *Hub) Get(ctx context.Context, id string) *lobby.Lobby {
	reply := make(chan *lobby.Lobby, 1)
	if !h.send(ctx, GetLobby{ID: id, Reply: reply}) {
		return nil
	}
	return h.await(ctx, reply)
}

func (h *Hub) List(ctx context.Context) []string {
	reply := make(chan []string, 1)
	if !h.send(ctx, ListLobbies{Reply: reply}) {
		return nil
	}
	select {
	case ids := <-reply:
		return ids
	case <-ctx.Done():
		return nil
	case <-h.done:
		return nil
	}
}

func (h *Hub) send(ctx context.Context, m HubMsg) bool {
	select {
	case h.inbox <- m:
		return true
	case <-ctx.Done():
		return false
	case <-h.done:
		return false
	}
}

func (h *Hub) await(ctx context.Context, reply chan *lobby.Lobby) *lobby.Lobby {
	select {
	case lb := <-reply:
		return lb
	case <-ctx.Done():
		return nil
	case <-h.done:
		return nil
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateLobby:
				msg.Reply <- h.create(msg.Name)

			case GetLobby:
				msg.Reply <- h.lobbies[msg.ID] // May be nil

			case RemoveLobby:
				if _, ok := h.lobbies[msg.ID]; !ok {
					break
				}
				delete(h.lobbies, msg.ID)
				h.log.Info("lobby removed", zap.String("lobby", msg.ID), zap.Int("lobbies", len(h.lobbies)))
				if h.opts.OnRemove != nil {
					h.opts.OnRemove(msg.ID)
				}

			case ListLobbies:
				ids := make([]string, 0, len(h.lobbies))
				for id := range h.lobbies {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				msg.Reply <- ids

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) create(name string) *lobby.Lobby {
	id := uuid.NewString()
	for h.lobbies[id] != nil {
		id = uuid.NewString()
	}

	opts := h.opts.Lobby
	opts.OnClose = func(id string) {
		// Runs on the lobby goroutine; never block it on the hub.
		go func() {
			select {
			case h.inbox <- RemoveLobby{ID: id}:
			case <-h.done:
			}
		}()
	}
	lb := lobby.NewLobby(h.ctx, engine.NewState(id, name), opts)
	h.lobbies[id] = lb
	h.log.Info("lobby created", zap.String("lobby", id), zap.String("name", name), zap.Int("lobbies", len(h.lobbies)))
	return lb
}

func (h *Hub) shutdown() {
	for _, lb := range h.lobbies {
		lb.Send(lobby.Shutdown{})
	}
	for _, lb := range h.lobbies {
		<-lb.Done()
	}
	clear(h.lobbies)
	h.cancel()
}
