package lobby

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/DoyleJ11/texrace-backend/internal/engine"
	"github.com/DoyleJ11/texrace-backend/internal/problems"
	"github.com/DoyleJ11/texrace-backend/internal/render"
	"github.com/DoyleJ11/texrace-backend/internal/results"
	"go.uber.org/zap"
)

var ErrClientCommand = errors.New("command cannot be sent by a client")
var ErrRenderUnavailable = errors.New("goal rendering unavailable")

type Msg interface{ isLobbyMsg() }

type Join struct {
	ConnID string
	Name   string
	Outbox chan Outbound // where this connection wants to receive events
	Reply  chan error    // optional; receives nil once the connection is registered
}

func (Join) isLobbyMsg() {}

type Leave struct{ ConnID string }

func (Leave) isLobbyMsg() {}

type FromClient struct {
	ConnID string
	Cmd    engine.Command
}

func (FromClient) isLobbyMsg() {}

// Expire is posted by the deadline timer. Stale generations are ignored.
type Expire struct{ Gen int }

func (Expire) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

// Outbound is one delivery to a connection: an event, or the rejection of
// that connection's last command.
type Outbound struct {
	Version int
	Event   engine.Event
	Err     error
}

type View struct {
	ID         string
	Name       string
	Version    int
	NumClients int
	Phase      engine.Phase
	Owner      string
	Problem    *problems.Problem
	Issued     int
	StartTime  time.Time
	Duration   time.Duration
	Standings  []engine.Standing
}

type Options struct {
	Env engine.Env
	// Renderer produces goal images. Without one, clients submit the goal
	// rendering alongside their answer.
	Renderer        render.Renderer
	RenderTimeout   time.Duration
	EnforceDeadline bool
	// IdleTimeout closes a lobby nobody is connected to. Zero disables it.
	IdleTimeout time.Duration
	Logger      *zap.Logger
	// OnEnded receives the final standings once, off the lobby goroutine.
	OnEnded func(results.Result)
	// OnClose is called from the lobby goroutine just before it exits.
	OnClose func(id string)
}

type client struct {
	name   string
	outbox chan Outbound
}

type Lobby struct {
	id       string
	inbox    chan Msg
	state    engine.State
	version  int
	clients  map[string]*client
	opts     Options
	log      *zap.Logger
	timer    *time.Timer
	timerGen int
	leaving  []engine.Command
	lastSeen time.Time
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewLobby(parent context.Context, initial engine.State, opts Options) *Lobby {
	ctx, cancel := context.WithCancel(parent)
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RenderTimeout <= 0 {
		opts.RenderTimeout = 5 * time.Second
	}
	if initial.Roster == nil {
		initial.Roster = engine.NewRoster()
	}

	l := &Lobby{
		id:       initial.LobbyID,
		inbox:    make(chan Msg, 64), // Small buffer
		state:    initial,
		clients:  make(map[string]*client),
		opts:     opts,
		log:      opts.Logger.With(zap.String("lobby", initial.LobbyID)),
		lastSeen: time.Now(),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go l.loop()
	return l
}

func (l *Lobby) ID() string { return l.id }

// Expose the inbox so tests or the WS layer can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Send delivers m unless the lobby has already stopped.
func (l *Lobby) Send(m Msg) bool {
	select {
	case l.inbox <- m:
		return true
	case <-l.done:
		return false
	}
}

// Done is closed once the lobby goroutine has exited.
func (l *Lobby) Done() <-chan struct{} { return l.done }

// State asks the lobby for a consistent view. ok is false if the lobby is gone.
func (l *Lobby) State(ctx context.Context) (View, bool) {
	reply := make(chan View, 1)
	if !l.Send(GetState{Reply: reply}) {
		return View{}, false
	}
	select {
	case v := <-reply:
		return v, true
	case <-l.done:
		return View{}, false
	case <-ctx.Done():
		return View{}, false
	}
}

func (l *Lobby) loop() {
	defer close(l.done)

	var idle <-chan time.Time
	if l.opts.IdleTimeout > 0 {
		t := time.NewTicker(l.opts.IdleTimeout / 2)
		defer t.Stop()
		idle = t.C
	}

	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case <-idle:
			if len(l.clients) == 0 && time.Since(l.lastSeen) >= l.opts.IdleTimeout {
				l.log.Info("closing idle lobby")
				l.shutdown()
				return
			}

		case m := <-l.inbox:
			l.lastSeen = time.Now()
			switch msg := m.(type) {
			case Join:
				l.handleJoin(msg)

			case Leave:
				l.detach(msg.ConnID)

			case FromClient:
				l.handleClient(msg)

			case Expire:
				if msg.Gen != l.timerGen {
					break
				}
				l.log.Info("game window expired")
				l.apply(engine.Command{Type: engine.CmdEndGame, System: true}, "")

			case GetState:
				msg.Reply <- l.view()

			case Shutdown:
				l.shutdown()
				return
			}
			l.flushLeaves()

			if l.state.Phase == engine.PhaseEnded && len(l.clients) == 0 {
				l.log.Info("lobby ended and empty")
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lobby) handleJoin(msg Join) {
	cmd := engine.Command{Type: engine.CmdJoin, Player: msg.Name, ConnID: msg.ConnID}
	events, next, err := engine.Apply(l.state, cmd, l.opts.Env)
	if err != nil {
		l.log.Debug("join rejected", zap.String("name", msg.Name), zap.Error(err))
		if msg.Reply != nil {
			msg.Reply <- err
		}
		return
	}

	l.clients[msg.ConnID] = &client{name: engine.NormalizeName(msg.Name), outbox: msg.Outbox}
	if msg.Reply != nil {
		msg.Reply <- nil
	}
	l.commit(next, events)
	l.log.Info("member joined", zap.String("name", msg.Name), zap.Int("clients", len(l.clients)))
}

func (l *Lobby) handleClient(msg FromClient) {
	c, ok := l.clients[msg.ConnID]
	if !ok {
		return
	}

	cmd := msg.Cmd
	cmd.Player = c.name
	cmd.ConnID = msg.ConnID
	cmd.System = false

	switch cmd.Type {
	case engine.CmdJoin, engine.CmdLeave:
		l.sendTo(msg.ConnID, Outbound{Version: l.version, Err: ErrClientCommand})
		return
	case engine.CmdSubmitAnswer:
		if l.opts.Renderer != nil && l.state.Phase == engine.PhaseActive && l.state.Problem != nil {
			goal, err := l.renderGoal(l.state.Problem.Markup)
			if err != nil {
				l.log.Warn("goal render failed", zap.Error(err))
				l.sendTo(msg.ConnID, Outbound{Version: l.version, Err: ErrRenderUnavailable})
				return
			}
			cmd.Goal = goal
		}
	}

	l.apply(cmd, msg.ConnID)
}

func (l *Lobby) renderGoal(markup string) (image.Image, error) {
	ctx, cancel := context.WithTimeout(l.ctx, l.opts.RenderTimeout)
	defer cancel()
	return l.opts.Renderer.Render(ctx, markup)
}

// apply runs cmd through the engine. Rejections go back to sender only.
func (l *Lobby) apply(cmd engine.Command, sender string) {
	events, next, err := engine.Apply(l.state, cmd, l.opts.Env)
	if err != nil {
		if errors.Is(err, engine.ErrUnknownPlayer) {
			l.log.Error("command for player missing from roster", zap.String("cmd", string(cmd.Type)), zap.String("name", cmd.Player))
		} else {
			l.log.Debug("command rejected", zap.String("cmd", string(cmd.Type)), zap.String("name", cmd.Player), zap.Error(err))
		}
		if sender != "" {
			l.sendTo(sender, Outbound{Version: l.version, Err: err})
		}
		return
	}
	l.commit(next, events)
}

// commit installs the new state and delivers every event before returning,
// so one command's broadcasts never interleave with the next command.
func (l *Lobby) commit(next engine.State, events []engine.Event) {
	prev := l.state.Phase
	l.state = next
	if len(events) == 0 {
		return
	}
	l.version++

	if prev != engine.PhaseActive && next.Phase == engine.PhaseActive {
		l.armTimer(next.Duration)
		l.log.Info("game started", zap.Duration("duration", next.Duration), zap.Int("players", next.Roster.Len()))
	}
	if prev == engine.PhaseActive && next.Phase == engine.PhaseEnded {
		l.stopTimer()
		l.archive()
		l.log.Info("game ended")
	}

	for _, ev := range events {
		l.deliver(ev)
	}
}

func (l *Lobby) deliver(ev engine.Event) {
	out := Outbound{Version: l.version, Event: ev}
	for id, c := range l.clients {
		if ev.Unicast() && c.name != ev.To {
			continue
		}
		select {
		case c.outbox <- out:
			//ok
		default:
			// Client is slow/full - drop them.
			l.log.Warn("dropping slow client", zap.String("conn", id), zap.String("name", c.name))
			l.detach(id)
		}
	}
}

func (l *Lobby) sendTo(connID string, out Outbound) {
	c, ok := l.clients[connID]
	if !ok {
		return
	}
	select {
	case c.outbox <- out:
	default:
		l.detach(connID)
	}
}

// detach forgets a connection now and queues its Leave for after the current
// command's deliveries.
func (l *Lobby) detach(connID string) {
	c, ok := l.clients[connID]
	if !ok {
		return
	}
	close(c.outbox) // Tell client no more events
	delete(l.clients, connID)
	l.leaving = append(l.leaving, engine.Command{Type: engine.CmdLeave, Player: c.name, ConnID: connID})
}

func (l *Lobby) flushLeaves() {
	for len(l.leaving) > 0 {
		cmd := l.leaving[0]
		l.leaving = l.leaving[1:]
		l.apply(cmd, "")
	}
}

func (l *Lobby) armTimer(d time.Duration) {
	l.stopTimer()
	if !l.opts.EnforceDeadline {
		return
	}
	l.timerGen++
	gen := l.timerGen
	l.timer = time.AfterFunc(d, func() {
		select {
		case l.inbox <- Expire{Gen: gen}:
		case <-l.done:
		}
	})
}

func (l *Lobby) stopTimer() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	// Invalidate a fire that is already queued.
	l.timerGen++
}

func (l *Lobby) archive() {
	if l.opts.OnEnded == nil {
		return
	}
	res := results.Result{
		LobbyID:   l.state.LobbyID,
		Name:      l.state.Name,
		StartTime: l.state.StartTime,
		Seconds:   int(l.state.Duration / time.Second),
		EndedAt:   time.Now(),
	}
	for _, st := range l.state.Roster.Snapshot() {
		res.Players = append(res.Players, results.Standing{Name: st.Name, Score: st.Score})
	}
	go l.opts.OnEnded(res)
}

func (l *Lobby) view() View {
	return View{
		ID:         l.state.LobbyID,
		Name:       l.state.Name,
		Version:    l.version,
		NumClients: len(l.clients),
		Phase:      l.state.Phase,
		Owner:      l.state.Owner,
		Problem:    l.state.Problem,
		Issued:     l.state.Issued,
		StartTime:  l.state.StartTime,
		Duration:   l.state.Duration,
		Standings:  l.state.Roster.Snapshot(),
	}
}

func (l *Lobby) shutdown() {
	l.stopTimer()
	for id, c := range l.clients {
		close(c.outbox) // Tell client no more events
		delete(l.clients, id)
	}
	l.cancel()
	if l.opts.OnClose != nil {
		l.opts.OnClose(l.id)
	}
}
