// Package jukebox keeps each partition's play queue topped up with random
// songs or albums. Every partition has one Engine; the engine goroutine
// owns the pending queues and is the only one mutating them.
package jukebox

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/edumarques81/stellar-jukebox/internal/domain/annotation"
	"github.com/edumarques81/stellar-jukebox/internal/domain/candidates"
	"github.com/edumarques81/stellar-jukebox/internal/domain/song"
	"github.com/edumarques81/stellar-jukebox/internal/infra/retry"
	"github.com/edumarques81/stellar-jukebox/internal/infra/worker"
)

// ErrStopped is returned by requests sent to an engine that is not running.
var ErrStopped = errors.New("jukebox engine stopped")

// Player is the play queue of one partition.
type Player interface {
	QueueLength(ctx context.Context) (int, error)
	Queue(ctx context.Context) ([]song.Song, error)
	// AddURIAt inserts uri at pos and returns its queue id; pos < 0
	// appends.
	AddURIAt(ctx context.Context, uri string, pos int) (int, error)
	AddExpression(ctx context.Context, expression string) error
	PlayerState(ctx context.Context) (string, error)
	Play(ctx context.Context) error
	CurrentSong(ctx context.Context) (song.Song, bool, error)
}

// PlaylistLister is implemented by players that can list stored
// playlists. Playlist sources are checked against it on Configure.
type PlaylistLister interface {
	ListPlaylists(ctx context.Context) ([]string, error)
}

// Notifier receives queue and jukebox events for clients.
type Notifier interface {
	QueueChanged(partition string)
	JukeboxError(partition, message string)
	JukeboxWarning(partition, message string)
}

// Filler produces candidates.
type Filler interface {
	Fill(ctx context.Context, req candidates.Request) (candidates.Result, error)
}

// Submitter runs background tasks.
type Submitter interface {
	Submit(t worker.Task) (string, error)
}

// History is the partition's last played log.
type History interface {
	Append(uri string, ts time.Time) error
	URIs() map[string]struct{}
}

// Observer is told about fills and state changes, typically for metrics.
type Observer interface {
	FillFinished(partition string, kind candidates.Kind, res candidates.Result, err error, elapsed time.Duration)
	StateChanged(partition string, state State)
	PendingChanged(partition string, pending int)
}

// Config wires an Engine to its collaborators. Notes, Observer and
// History may be nil.
type Config struct {
	Partition    string
	Player       Player
	Filler       Filler
	Submitter    Submitter
	Notifier     Notifier
	History      History
	Notes        annotation.Source
	Observer     Observer
	Retry        retry.Config
	TickInterval time.Duration
	// TriggerEvery limits event triggered ticks; periodic ticks are not
	// limited.
	TriggerEvery time.Duration
}

// Status is a snapshot of an engine.
type Status struct {
	Partition string    `json:"partition"`
	Mode      Mode      `json:"mode"`
	State     State     `json:"state"`
	Pending   int       `json:"pending"`
	LastError string    `json:"lastError,omitempty"`
	LastFill  time.Time `json:"lastFill,omitempty"`
	Settings  Settings  `json:"settings"`
}

// Engine runs the jukebox of one partition.
type Engine struct {
	cfg     Config
	inbox   chan any
	done    chan struct{}
	limiter *rate.Limiter

	// Owned by the Run goroutine.
	settings     Settings
	state        State
	auto         *candidates.Queue
	lastErr      string
	lastFill     time.Time
	retick       bool
	manualWait   []manualMsg
	lastRecorded string
	// generation changes whenever pending candidates become invalid.
	generation uint64
	nextFillAt time.Time
}

type tickMsg struct{}

type eventMsg struct{ subsystem string }

type configureMsg struct {
	settings Settings
	reply    chan error
}

type statusMsg struct{ reply chan Status }

type pendingMsg struct{ reply chan []candidates.Candidate }

type clearMsg struct{ reply chan int }

type manualMsg struct {
	count int
	reply chan manualReply
}

type manualReply struct {
	added int
	err   error
}

type fillDoneMsg struct {
	queue      *candidates.Queue
	kind       candidates.Kind
	manual     *manualMsg
	res        candidates.Result
	relaxed    bool
	err        error
	elapsed    time.Duration
	generation uint64
}

// NewEngine creates an engine with validated settings.
func NewEngine(cfg Config, settings Settings) (*Engine, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	if cfg.TriggerEvery <= 0 {
		cfg.TriggerEvery = time.Second
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = candidates.IsRetryable
	}
	if cfg.Retry.Name == "" {
		cfg.Retry.Name = "jukebox fill " + cfg.Partition
	}

	e := &Engine{
		cfg:      cfg,
		inbox:    make(chan any, 16),
		done:     make(chan struct{}),
		limiter:  rate.NewLimiter(rate.Every(cfg.TriggerEvery), 1),
		settings: settings,
		auto:     candidates.NewQueue(cfg.Partition, settings.Policy()),
	}
	e.state = e.restingState()
	return e, nil
}

// Partition returns the partition name.
func (e *Engine) Partition() string { return e.cfg.Partition }

// Run processes requests and periodic ticks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	log.Info().Str("partition", e.cfg.Partition).Str("mode", string(e.settings.Mode)).Msg("Jukebox started")
	e.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("partition", e.cfg.Partition).Msg("Jukebox stopped")
			return
		case <-ticker.C:
			e.tick(ctx)
		case msg := <-e.inbox:
			e.handle(ctx, msg)
		}
	}
}

func (e *Engine) handle(ctx context.Context, msg any) {
	switch m := msg.(type) {
	case tickMsg:
		e.tick(ctx)
	case eventMsg:
		e.handleEvent(ctx, m.subsystem)
	case configureMsg:
		m.reply <- e.configure(ctx, m.settings)
	case statusMsg:
		m.reply <- e.status()
	case pendingMsg:
		m.reply <- e.auto.Items()
	case clearMsg:
		n := e.auto.Len()
		e.auto.Clear()
		e.pendingChanged()
		m.reply <- n
	case manualMsg:
		e.startManual(ctx, m)
	case fillDoneMsg:
		e.fillDone(ctx, m)
	}
}

// send delivers msg to the engine goroutine.
func (e *Engine) send(ctx context.Context, msg any) error {
	select {
	case e.inbox <- msg:
		return nil
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger asks for a tick without waiting. Triggers beyond the rate limit
// are dropped; the periodic tick catches up.
func (e *Engine) Trigger() {
	if !e.limiter.Allow() {
		return
	}
	select {
	case e.inbox <- tickMsg{}:
	default:
	}
}

// HandleEvent reacts to an MPD idle subsystem change.
func (e *Engine) HandleEvent(subsystem string) {
	select {
	case e.inbox <- eventMsg{subsystem: subsystem}:
	default:
		log.Debug().Str("partition", e.cfg.Partition).Str("subsystem", subsystem).Msg("Jukebox inbox full, dropping event")
	}
}

// Configure validates and applies new settings.
func (e *Engine) Configure(ctx context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	reply := make(chan error, 1)
	if err := e.send(ctx, configureMsg{settings: s, reply: reply}); err != nil {
		return err
	}
	return wait(ctx, e.done, reply)
}

// Status returns a snapshot of the engine.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	if err := e.send(ctx, statusMsg{reply: reply}); err != nil {
		return Status{}, err
	}
	return waitValue(ctx, e.done, reply)
}

// Pending returns a copy of the automatic pending queue.
func (e *Engine) Pending(ctx context.Context) ([]candidates.Candidate, error) {
	reply := make(chan []candidates.Candidate, 1)
	if err := e.send(ctx, pendingMsg{reply: reply}); err != nil {
		return nil, err
	}
	return waitValue(ctx, e.done, reply)
}

// Clear empties the automatic pending queue and returns how many
// candidates were dropped.
func (e *Engine) Clear(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	if err := e.send(ctx, clearMsg{reply: reply}); err != nil {
		return 0, err
	}
	return waitValue(ctx, e.done, reply)
}

// AddManual selects count songs or albums once and adds all of them to
// the live queue. The automatic pending queue is not touched.
func (e *Engine) AddManual(ctx context.Context, count int) (int, error) {
	if count <= 0 {
		return 0, fmt.Errorf("count must be positive, got %d", count)
	}
	reply := make(chan manualReply, 1)
	if err := e.send(ctx, manualMsg{count: count, reply: reply}); err != nil {
		return 0, err
	}
	r, err := waitValue(ctx, e.done, reply)
	if err != nil {
		return 0, err
	}
	return r.added, r.err
}

func wait(ctx context.Context, done <-chan struct{}, reply <-chan error) error {
	select {
	case err := <-reply:
		return err
	case <-done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func waitValue[T any](ctx context.Context, done <-chan struct{}, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-done:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (e *Engine) restingState() State {
	if e.settings.Mode == ModeOff {
		return StateOff
	}
	return StateIdle
}

func (e *Engine) setState(s State) {
	if e.state == s {
		return
	}
	log.Debug().Str("partition", e.cfg.Partition).Str("from", string(e.state)).Str("to", string(s)).Msg("Jukebox state changed")
	e.state = s
	if e.cfg.Observer != nil {
		e.cfg.Observer.StateChanged(e.cfg.Partition, s)
	}
}

func (e *Engine) pendingChanged() {
	if e.cfg.Observer != nil {
		e.cfg.Observer.PendingChanged(e.cfg.Partition, e.auto.Len())
	}
}

func (e *Engine) status() Status {
	return Status{
		Partition: e.cfg.Partition,
		Mode:      e.settings.Mode,
		State:     e.state,
		Pending:   e.auto.Len(),
		LastError: e.lastErr,
		LastFill:  e.lastFill,
		Settings:  e.settings,
	}
}

func (e *Engine) configure(ctx context.Context, s Settings) error {
	if err := e.checkPlaylist(ctx, s.Source()); err != nil {
		return err
	}
	if e.settings.selectionChanged(s) {
		e.auto.Clear()
		e.generation++
		e.pendingChanged()
	}
	e.settings = s
	e.auto.SetPolicy(s.Policy())
	e.lastErr = ""
	e.nextFillAt = time.Time{}

	if e.state != StateFilling {
		e.setState(e.restingState())
	}
	log.Info().
		Str("partition", e.cfg.Partition).
		Str("mode", string(s.Mode)).
		Str("source", s.Source().String()).
		Int("queueLength", s.QueueLength).
		Msg("Jukebox configured")

	e.tick(ctx)
	return nil
}

// tick tops up the live queue from the pending queue and starts a refill
// when the pending queue runs low.
// checkPlaylist rejects a newly selected playlist the server does not
// know. A failed listing does not block the change.
func (e *Engine) checkPlaylist(ctx context.Context, src song.Source) error {
	if src.IsDatabase() || src == e.settings.Source() {
		return nil
	}
	lister, ok := e.cfg.Player.(PlaylistLister)
	if !ok {
		return nil
	}
	names, err := lister.ListPlaylists(ctx)
	if err != nil {
		log.Warn().Err(err).Str("partition", e.cfg.Partition).Str("playlist", src.Playlist).Msg("Could not list playlists, accepting source unchecked")
		return nil
	}
	if slices.Contains(names, src.Playlist) {
		return nil
	}
	return fmt.Errorf("%w: playlist %q does not exist", candidates.ErrConfiguration, src.Playlist)
}

func (e *Engine) tick(ctx context.Context) {
	switch e.state {
	case StateOff, StateError:
		return
	case StateFilling:
		e.retick = true
		return
	}

	moved, err := e.moveToLive(ctx, e.auto, e.settings.QueueLength)
	if err != nil {
		log.Warn().Err(err).Str("partition", e.cfg.Partition).Msg("Failed to top up the play queue")
		return
	}
	if moved > 0 {
		e.pendingChanged()
		e.autoplay(ctx)
	}

	if e.auto.NeedsRefill() {
		e.startFill(e.auto, e.settings.Mode.Kind(), nil)
	}
}

// moveToLive pops candidates into the live queue until it holds at least
// minimum songs or q is empty. Songs are added by URI; albums are added
// through an expression matching their tracks.
func (e *Engine) moveToLive(ctx context.Context, q *candidates.Queue, minimum int) (int, error) {
	live, err := e.cfg.Player.QueueLength(ctx)
	if err != nil {
		return 0, fmt.Errorf("read queue length: %w", err)
	}

	moved := 0
	for live < minimum && q.Len() > 0 {
		c, _ := q.Pop()
		if err := e.addToLive(ctx, c); err != nil {
			q.PushFront(c)
			return moved, err
		}
		moved++
		e.notifyQueueChanged()

		if c.IsAlbum() {
			if live, err = e.cfg.Player.QueueLength(ctx); err != nil {
				return moved, fmt.Errorf("read queue length: %w", err)
			}
		} else {
			live++
		}
	}

	if moved > 0 {
		log.Info().Str("partition", e.cfg.Partition).Int("count", moved).Int("pending", q.Len()).Msg("Jukebox added to queue")
	}
	return moved, nil
}

func (e *Engine) addToLive(ctx context.Context, c candidates.Candidate) error {
	if c.IsAlbum() {
		if err := e.cfg.Player.AddExpression(ctx, c.Album.Expression()); err != nil {
			return fmt.Errorf("add album %q: %w", c.Key, err)
		}
		return nil
	}
	id, err := e.cfg.Player.AddURIAt(ctx, c.Key, -1)
	if err != nil {
		return fmt.Errorf("add %q: %w", c.Key, err)
	}
	log.Debug().Str("partition", e.cfg.Partition).Str("uri", c.Key).Int("id", id).Msg("Queued jukebox song")
	return nil
}

func (e *Engine) notifyQueueChanged() {
	if e.cfg.Notifier != nil {
		e.cfg.Notifier.QueueChanged(e.cfg.Partition)
	}
}

func (e *Engine) autoplay(ctx context.Context) {
	if !e.settings.Autoplay {
		return
	}
	state, err := e.cfg.Player.PlayerState(ctx)
	if err != nil {
		log.Warn().Err(err).Str("partition", e.cfg.Partition).Msg("Failed to read player state")
		return
	}
	if state != "stop" {
		return
	}
	if err := e.cfg.Player.Play(ctx); err != nil {
		log.Warn().Err(err).Str("partition", e.cfg.Partition).Msg("Failed to start playback")
		return
	}
	log.Info().Str("partition", e.cfg.Partition).Msg("Jukebox started playback")
}

func (e *Engine) handleEvent(ctx context.Context, subsystem string) {
	switch subsystem {
	case "player":
		e.recordCurrent(ctx)
		e.tickIfAllowed(ctx)
	case "playlist":
		e.tickIfAllowed(ctx)
	}
}

func (e *Engine) tickIfAllowed(ctx context.Context) {
	if e.limiter.Allow() {
		e.tick(ctx)
	}
}

// recordCurrent logs the current song as played, once per song change.
func (e *Engine) recordCurrent(ctx context.Context) {
	s, ok, err := e.cfg.Player.CurrentSong(ctx)
	if err != nil {
		log.Debug().Err(err).Str("partition", e.cfg.Partition).Msg("Failed to read current song")
		return
	}
	if !ok || s.URI() == "" || s.URI() == e.lastRecorded {
		return
	}
	e.lastRecorded = s.URI()

	now := time.Now()
	if e.cfg.History != nil {
		if err := e.cfg.History.Append(s.URI(), now); err != nil {
			log.Warn().Err(err).Str("partition", e.cfg.Partition).Msg("Failed to append play history")
		}
	}
	if e.cfg.Notes != nil {
		if err := annotation.RecordPlay(ctx, e.cfg.Notes, s.URI(), now); err != nil {
			log.Warn().Err(err).Str("uri", s.URI()).Msg("Failed to record play")
		}
	}
	log.Debug().Str("partition", e.cfg.Partition).Str("uri", s.URI()).Msg("Recorded play")
}
