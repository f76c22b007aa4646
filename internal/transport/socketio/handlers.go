package socketio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-jukebox/internal/domain/albums"
	"github.com/edumarques81/stellar-jukebox/internal/domain/candidates"
	"github.com/edumarques81/stellar-jukebox/internal/domain/jukebox"
	"github.com/edumarques81/stellar-jukebox/internal/domain/song"
)

// Events pushed to a single client in reply to requests.
const (
	EventPushJukeboxStatus  = "pushJukeboxStatus"
	EventPushJukeboxPending = "pushJukeboxPending"
	EventPushJukeboxAdded   = "pushJukeboxAdded"
	EventPushJukeboxCleared = "pushJukeboxCleared"
	EventPushAlbums         = "pushAlbums"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultAlbumLimit     = 100
	maxAlbumLimit         = 1000
)

var errUnknownPartition = errors.New("unknown partition")

// Conn is the part of a Socket.IO connection the handlers use.
type Conn interface {
	ID() string
	Emit(event string, v ...interface{})
	Join(room string)
	Leave(room string)
	Close() error
}

// Jukebox is the request surface of one partition's engine.
type Jukebox interface {
	Status(ctx context.Context) (jukebox.Status, error)
	Configure(ctx context.Context, s jukebox.Settings) error
	Pending(ctx context.Context) ([]candidates.Candidate, error)
	Clear(ctx context.Context) (int, error)
	AddManual(ctx context.Context, count int) (int, error)
}

// JukeboxLookup resolves the engine of a partition.
type JukeboxLookup func(partition string) (Jukebox, bool)

// ManagerLookup resolves engines registered with m.
func ManagerLookup(m *jukebox.Manager) JukeboxLookup {
	return func(partition string) (Jukebox, bool) {
		e, ok := m.Engine(partition)
		if !ok {
			return nil, false
		}
		return e, true
	}
}

// AlbumSource publishes the current album view.
type AlbumSource interface {
	Current() (*albums.View, error)
}

// SettingsPayload is the client representation of jukebox settings.
// Durations are whole seconds, LastPlayedHours is hours.
type SettingsPayload struct {
	Mode            string `json:"mode"`
	Playlist        string `json:"playlist"`
	QueueLength     int    `json:"queueLength"`
	UniqueTag       string `json:"uniqueTag"`
	LastPlayedHours int    `json:"lastPlayedHours"`
	IgnoreHated     bool   `json:"ignoreHated"`
	MinDuration     int    `json:"minDuration"`
	MaxDuration     int    `json:"maxDuration"`
	Include         string `json:"include"`
	Exclude         string `json:"exclude"`
	Autoplay        bool   `json:"autoplay"`
}

// StatusPayload is pushed as pushJukeboxStatus.
type StatusPayload struct {
	Partition string          `json:"partition"`
	State     string          `json:"state,omitempty"`
	Pending   int             `json:"pending"`
	LastError string          `json:"lastError,omitempty"`
	LastFill  int64           `json:"lastFill,omitempty"`
	Settings  SettingsPayload `json:"settings"`
	Error     string          `json:"error,omitempty"`
}

// CandidatePayload is one pending candidate.
type CandidatePayload struct {
	Key      string `json:"key"`
	Weight   int    `json:"weight"`
	TagValue string `json:"tagValue,omitempty"`
	Album    bool   `json:"album"`
	Title    string `json:"title,omitempty"`
	Artist   string `json:"artist,omitempty"`
}

// PendingPayload is pushed as pushJukeboxPending.
type PendingPayload struct {
	Partition  string             `json:"partition"`
	Candidates []CandidatePayload `json:"candidates"`
	Error      string             `json:"error,omitempty"`
}

// CountPayload is pushed as pushJukeboxAdded and pushJukeboxCleared.
type CountPayload struct {
	Partition string `json:"partition"`
	Count     int    `json:"count"`
	Error     string `json:"error,omitempty"`
}

// AlbumPayload is one album of a listing.
type AlbumPayload struct {
	Key        string `json:"key"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Date       string `json:"date,omitempty"`
	Genre      string `json:"genre,omitempty"`
	URI        string `json:"uri"`
	Songs      int    `json:"songs"`
	Discs      int    `json:"discs"`
	Duration   int    `json:"duration"`
	Expression string `json:"expression"`
}

// Pagination describes the page of a listing.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

// AlbumsPayload is pushed as pushAlbums.
type AlbumsPayload struct {
	Albums     []AlbumPayload `json:"albums"`
	Pagination Pagination     `json:"pagination"`
	Generation uint64         `json:"generation"`
	Error      string         `json:"error,omitempty"`
}

// Handlers serves jukebox and album requests of connected clients.
type Handlers struct {
	jukeboxes        JukeboxLookup
	albums           AlbumSource
	clients          *ClientRegistry
	defaultPartition string
	partitions       []string
	timeout          time.Duration
}

// NewHandlers creates the request handlers. A zero timeout uses ten
// seconds.
func NewHandlers(jukeboxes JukeboxLookup, source AlbumSource, clients *ClientRegistry, defaultPartition string, timeout time.Duration) *Handlers {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Handlers{
		jukeboxes:        jukeboxes,
		albums:           source,
		clients:          clients,
		defaultPartition: defaultPartition,
		timeout:          timeout,
	}
}

// partition resolves the partition a request addresses: the payload's
// "partition" field, else the one the client follows, else the default.
func (h *Handlers) partition(client Conn, payload map[string]interface{}) string {
	if p, ok := stringField(payload, "partition"); ok && p != "" {
		return p
	}
	if p, ok := h.clients.Partition(client.ID()); ok && p != "" {
		return p
	}
	return h.defaultPartition
}

func (h *Handlers) engine(partition string) (Jukebox, error) {
	if h.jukeboxes != nil {
		if e, ok := h.jukeboxes(partition); ok {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", errUnknownPartition, partition)
}

func (h *Handlers) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), h.timeout)
}

// HandleJoin moves the client to the room of another partition.
func (h *Handlers) HandleJoin(client Conn, payload map[string]interface{}) {
	partition, _ := stringField(payload, "partition")
	log.Debug().Str("id", client.ID()).Str("partition", partition).Msg("Received jukebox:partition:join")

	if _, err := h.engine(partition); err != nil {
		client.Emit(EventPushJukeboxStatus, StatusPayload{Partition: partition, Error: err.Error()})
		return
	}

	if previous, ok := h.clients.SetPartition(client.ID(), partition); ok && previous != partition {
		client.Leave(RoomName(previous))
	}
	client.Join(RoomName(partition))
	h.pushStatus(client, partition)
}

// HandleStatus pushes the status of the addressed partition.
func (h *Handlers) HandleStatus(client Conn, payload map[string]interface{}) {
	partition := h.partition(client, payload)
	log.Debug().Str("id", client.ID()).Str("partition", partition).Msg("Received jukebox:status")
	h.pushStatus(client, partition)
}

func (h *Handlers) pushStatus(client Conn, partition string) {
	e, err := h.engine(partition)
	if err != nil {
		client.Emit(EventPushJukeboxStatus, StatusPayload{Partition: partition, Error: err.Error()})
		return
	}

	ctx, cancel := h.requestContext()
	defer cancel()

	st, err := e.Status(ctx)
	if err != nil {
		log.Error().Err(err).Str("partition", partition).Msg("Jukebox status failed")
		client.Emit(EventPushJukeboxStatus, StatusPayload{Partition: partition, Error: err.Error()})
		return
	}
	client.Emit(EventPushJukeboxStatus, statusPayload(st))
}

// HandleConfigure applies the payload's settings on top of the current
// ones and pushes the resulting status.
func (h *Handlers) HandleConfigure(client Conn, payload map[string]interface{}) {
	partition := h.partition(client, payload)
	log.Debug().Str("id", client.ID()).Str("partition", partition).Interface("data", payload).Msg("Received jukebox:configure")

	e, err := h.engine(partition)
	if err != nil {
		client.Emit(EventPushJukeboxStatus, StatusPayload{Partition: partition, Error: err.Error()})
		return
	}

	ctx, cancel := h.requestContext()
	defer cancel()

	st, err := e.Status(ctx)
	if err == nil {
		var next jukebox.Settings
		next, err = applySettings(st.Settings, payload)
		if err == nil {
			err = e.Configure(ctx, next)
		}
	}
	if err != nil {
		log.Warn().Err(err).Str("partition", partition).Msg("Jukebox configure rejected")
		client.Emit(EventPushJukeboxStatus, StatusPayload{Partition: partition, Error: err.Error()})
		return
	}

	log.Info().Str("partition", partition).Msg("Jukebox reconfigured")
	h.pushStatus(client, partition)
}

// HandleAdd runs a one shot fill of "count" candidates.
func (h *Handlers) HandleAdd(client Conn, payload map[string]interface{}) {
	partition := h.partition(client, payload)
	count, _ := intField(payload, "count")
	log.Debug().Str("id", client.ID()).Str("partition", partition).Int("count", count).Msg("Received jukebox:add")

	resp := CountPayload{Partition: partition}
	e, err := h.engine(partition)
	if err == nil {
		if count <= 0 {
			err = fmt.Errorf("count must be positive, got %d", count)
		} else {
			ctx, cancel := h.requestContext()
			resp.Count, err = e.AddManual(ctx, count)
			cancel()
		}
	}
	if err != nil {
		resp.Error = err.Error()
	}
	client.Emit(EventPushJukeboxAdded, resp)
}

// HandleClear drops the pending candidates of a partition.
func (h *Handlers) HandleClear(client Conn, payload map[string]interface{}) {
	partition := h.partition(client, payload)
	log.Debug().Str("id", client.ID()).Str("partition", partition).Msg("Received jukebox:clear")

	resp := CountPayload{Partition: partition}
	e, err := h.engine(partition)
	if err == nil {
		ctx, cancel := h.requestContext()
		resp.Count, err = e.Clear(ctx)
		cancel()
	}
	if err != nil {
		resp.Error = err.Error()
	}
	client.Emit(EventPushJukeboxCleared, resp)
}

// HandlePending lists the pending candidates of a partition.
func (h *Handlers) HandlePending(client Conn, payload map[string]interface{}) {
	partition := h.partition(client, payload)
	log.Debug().Str("id", client.ID()).Str("partition", partition).Msg("Received jukebox:pending")

	resp := PendingPayload{Partition: partition, Candidates: []CandidatePayload{}}
	e, err := h.engine(partition)
	if err == nil {
		var pending []candidates.Candidate
		ctx, cancel := h.requestContext()
		pending, err = e.Pending(ctx)
		cancel()
		for _, c := range pending {
			resp.Candidates = append(resp.Candidates, candidatePayload(c))
		}
	}
	if err != nil {
		resp.Error = err.Error()
	}
	client.Emit(EventPushJukeboxPending, resp)
}

// HandleAlbums pages over the album view.
func (h *Handlers) HandleAlbums(client Conn, payload map[string]interface{}) {
	log.Debug().Str("id", client.ID()).Msg("Received albums:list")

	page := 1
	if p, ok := intField(payload, "page"); ok && p > 0 {
		page = p
	}
	limit := defaultAlbumLimit
	if l, ok := intField(payload, "limit"); ok && l > 0 {
		limit = min(l, maxAlbumLimit)
	}
	resp := AlbumsPayload{
		Albums:     []AlbumPayload{},
		Pagination: Pagination{Page: page, Limit: limit},
	}

	if h.albums == nil {
		resp.Error = albums.ErrNotBuilt.Error()
		client.Emit(EventPushAlbums, resp)
		return
	}
	view, err := h.albums.Current()
	if err != nil {
		resp.Error = err.Error()
		client.Emit(EventPushAlbums, resp)
		return
	}

	sortName, _ := stringField(payload, "sort")
	secondary := song.TagNone
	if name, ok := stringField(payload, "secondary"); ok && name != "" {
		tag, known := song.LookupTag(name)
		if !known {
			resp.Error = fmt.Sprintf("unknown tag %q", name)
			client.Emit(EventPushAlbums, resp)
			return
		}
		secondary = tag
	}
	order, err := albums.ParseOrder(sortName, secondary)
	if err != nil {
		resp.Error = err.Error()
		client.Emit(EventPushAlbums, resp)
		return
	}
	desc, _ := boolField(payload, "desc")

	for _, a := range view.List(order, desc, (page-1)*limit, limit) {
		resp.Albums = append(resp.Albums, albumPayload(a))
	}
	resp.Pagination.Total = view.Len()
	resp.Generation = view.Generation()

	log.Debug().Int("albumCount", len(resp.Albums)).Int("total", resp.Pagination.Total).Msg("Sending pushAlbums")
	client.Emit(EventPushAlbums, resp)
}

// applySettings overlays the fields present in payload on current.
func applySettings(current jukebox.Settings, payload map[string]interface{}) (jukebox.Settings, error) {
	s := current
	if v, ok := stringField(payload, "mode"); ok {
		mode, err := jukebox.ParseMode(v)
		if err != nil {
			return current, err
		}
		s.Mode = mode
	}
	if v, ok := stringField(payload, "playlist"); ok {
		s.Playlist = v
	}
	if v, ok := intField(payload, "queueLength"); ok {
		s.QueueLength = v
	}
	if v, ok := stringField(payload, "uniqueTag"); ok {
		tag, known := song.ParseUniqueTag(v)
		if !known {
			return current, fmt.Errorf("unknown unique tag %q", v)
		}
		s.UniqueTag = tag
	}
	if v, ok := intField(payload, "lastPlayedHours"); ok {
		s.LastPlayed = time.Duration(v) * time.Hour
	}
	if v, ok := boolField(payload, "ignoreHated"); ok {
		s.IgnoreHated = v
	}
	if v, ok := intField(payload, "minDuration"); ok {
		s.MinDuration = time.Duration(v) * time.Second
	}
	if v, ok := intField(payload, "maxDuration"); ok {
		s.MaxDuration = time.Duration(v) * time.Second
	}
	if v, ok := stringField(payload, "include"); ok {
		s.Include = v
	}
	if v, ok := stringField(payload, "exclude"); ok {
		s.Exclude = v
	}
	if v, ok := boolField(payload, "autoplay"); ok {
		s.Autoplay = v
	}
	return s, nil
}

func settingsPayload(s jukebox.Settings) SettingsPayload {
	return SettingsPayload{
		Mode:            string(s.Mode),
		Playlist:        s.Playlist,
		QueueLength:     s.QueueLength,
		UniqueTag:       string(s.UniqueTag),
		LastPlayedHours: int(s.LastPlayed / time.Hour),
		IgnoreHated:     s.IgnoreHated,
		MinDuration:     int(s.MinDuration / time.Second),
		MaxDuration:     int(s.MaxDuration / time.Second),
		Include:         s.Include,
		Exclude:         s.Exclude,
		Autoplay:        s.Autoplay,
	}
}

func statusPayload(st jukebox.Status) StatusPayload {
	p := StatusPayload{
		Partition: st.Partition,
		State:     string(st.State),
		Pending:   st.Pending,
		LastError: st.LastError,
		Settings:  settingsPayload(st.Settings),
	}
	if !st.LastFill.IsZero() {
		p.LastFill = st.LastFill.Unix()
	}
	return p
}

func candidatePayload(c candidates.Candidate) CandidatePayload {
	p := CandidatePayload{Key: c.Key, Weight: c.Weight, TagValue: c.TagValue}
	if c.IsAlbum() {
		p.Album = true
		p.Title = c.Album.Title()
		p.Artist = c.Album.Artist()
	}
	return p
}

func albumPayload(a *albums.Album) AlbumPayload {
	return AlbumPayload{
		Key:        a.Key,
		Title:      a.Title(),
		Artist:     a.Artist(),
		Date:       song.First(a, song.TagDate),
		Genre:      song.First(a, song.TagGenre),
		URI:        a.URI(),
		Songs:      a.Songs,
		Discs:      a.Discs,
		Duration:   int(a.Duration() / time.Second),
		Expression: a.Expression(),
	}
}

func stringField(payload map[string]interface{}, key string) (string, bool) {
	v, ok := payload[key].(string)
	return v, ok
}

// intField accepts JSON numbers, which decode as float64.
func intField(payload map[string]interface{}, key string) (int, bool) {
	switch v := payload[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

func boolField(payload map[string]interface{}, key string) (bool, bool) {
	v, ok := payload[key].(bool)
	return v, ok
}
