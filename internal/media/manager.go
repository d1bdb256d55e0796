package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/carelinkhq/carecall/internal/token"
)

const (
	defaultSettleDelay  = time.Second
	defaultReadyTimeout = 2 * time.Second
	defaultClearDelay   = 100 * time.Millisecond
)

// ManagerConfig wires a Manager to its transport and rendering surfaces.
type ManagerConfig struct {
	Transport     Transport
	LocalPreview  Surface
	RemoteDisplay Surface

	// SettleDelay bounds the wait between a successful join and the first
	// local publish, for transports that reject an immediate publish. The
	// wait ends early when the transport signals connected.
	SettleDelay time.Duration

	// ReadyTimeout bounds the wait for a surface readiness signal.
	ReadyTimeout time.Duration

	// ClearDelay is the settle pause after clearing a stale remote
	// binding, to avoid flicker from the previous stream.
	ClearDelay time.Duration

	// Retry applies to remote subscription and rendering. Zero value
	// means DefaultRetry.
	Retry RetryPolicy

	// OnConnectionChange, when set, observes connection-quality state.
	OnConnectionChange func(state ConnState)

	Logger *zerolog.Logger
}

// Manager owns at most one live media session at a time. Join establishes
// it, Leave tears it down; both are safe against async completions that
// outlive the session they belong to.
type Manager struct {
	transport     Transport
	localPreview  Surface
	remoteDisplay Surface
	settle        time.Duration
	readyTimeout  time.Duration
	clearDelay    time.Duration
	retry         RetryPolicy
	onConnChange  func(ConnState)
	log           *zerolog.Logger

	mu        sync.Mutex
	gen       uint64
	room      Room
	kind      Kind
	state     ConnState
	connected chan struct{}
	mic       LocalTrack
	camera    LocalTrack
	micOn     bool
	cameraOn  bool
	remotes   map[string]map[TrackKind]RemoteTrack
}

// NewManager builds a Manager from cfg, filling unset tunables with
// defaults.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	if cfg.ClearDelay <= 0 {
		cfg.ClearDelay = defaultClearDelay
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = DefaultRetry
	}
	return &Manager{
		transport:     cfg.Transport,
		localPreview:  cfg.LocalPreview,
		remoteDisplay: cfg.RemoteDisplay,
		settle:        cfg.SettleDelay,
		readyTimeout:  cfg.ReadyTimeout,
		clearDelay:    cfg.ClearDelay,
		retry:         cfg.Retry,
		onConnChange:  cfg.OnConnectionChange,
		log:           cfg.Logger,
		remotes:       make(map[string]map[TrackKind]RemoteTrack),
	}
}

// Join connects to the media room with the given credential, publishes the
// local microphone (and camera for video calls), and arms remote-track
// handling. Observers are registered before the join so a remote publish
// racing the join is not missed. Refuses to start a second session.
func (m *Manager) Join(ctx context.Context, cred token.Credential, kind Kind) error {
	m.mu.Lock()
	if m.room != nil {
		m.mu.Unlock()
		return ErrAlreadyJoined
	}
	m.gen++
	gen := m.gen
	m.kind = kind
	m.micOn = true
	m.cameraOn = kind.Video()
	m.connected = make(chan struct{})
	connected := m.connected
	m.setStateLocked(ConnConnecting)
	m.mu.Unlock()

	cb := &Callbacks{
		OnTrackPublished: func(participantID string, trackKind TrackKind) {
			m.handleTrackPublished(gen, participantID, trackKind)
		},
		OnTrackUnpublished: func(participantID string, trackKind TrackKind) {
			m.handleTrackUnpublished(gen, participantID, trackKind)
		},
		OnParticipantLeft: func(participantID string) {
			m.handleParticipantLeft(gen, participantID)
		},
		OnConnectionChange: func(state ConnState) {
			m.handleConnectionChange(gen, connected, state)
		},
	}

	room, err := m.transport.Join(ctx, cred, cb)
	if err != nil {
		m.mu.Lock()
		m.setStateLocked(ConnFailed)
		m.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrJoin, err)
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		_ = room.Leave()
		return ErrStale
	}
	m.room = room
	m.mu.Unlock()

	// Some transports reject a publish issued immediately after join.
	// Wait for the explicit connected signal, bounded by the settle delay.
	select {
	case <-connected:
	case <-time.After(m.settle):
	case <-ctx.Done():
		m.Leave()
		return fmt.Errorf("%w: %w", ErrJoin, ctx.Err())
	}

	if err := m.publishLocalTracks(ctx, gen, room, kind); err != nil {
		m.Leave()
		return err
	}

	m.mu.Lock()
	if m.gen == gen && m.state != ConnConnected {
		m.setStateLocked(ConnConnected)
	}
	m.mu.Unlock()
	return nil
}

func (m *Manager) publishLocalTracks(ctx context.Context, gen uint64, room Room, kind Kind) error {
	mic, err := room.CreateMicTrack(ctx)
	if err != nil {
		return fmt.Errorf("%w: microphone: %w", ErrTrackAcquisition, err)
	}
	if err := room.Publish(ctx, mic); err != nil {
		_ = mic.Stop()
		return fmt.Errorf("%w: publish microphone: %w", ErrTrackAcquisition, err)
	}

	var camera LocalTrack
	if kind.Video() {
		camera, err = room.CreateCameraTrack(ctx)
		if err != nil {
			_ = mic.Stop()
			return fmt.Errorf("%w: camera: %w", ErrTrackAcquisition, err)
		}
		if err := room.Publish(ctx, camera); err != nil {
			_ = mic.Stop()
			_ = camera.Stop()
			return fmt.Errorf("%w: publish camera: %w", ErrTrackAcquisition, err)
		}
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		_ = mic.Stop()
		if camera != nil {
			_ = camera.Stop()
		}
		return ErrStale
	}
	m.mic = mic
	m.camera = camera
	m.mu.Unlock()

	if camera != nil {
		go m.bindLocalPreview(gen, camera)
	}
	return nil
}

// bindLocalPreview renders the camera track into the local preview once the
// surface reports ready, with the bounded timeout as safety net.
func (m *Manager) bindLocalPreview(gen uint64, camera LocalTrack) {
	ctx := context.Background()
	awaitReady(ctx, m.localPreview, m.readyTimeout)

	if !m.current(gen) {
		return
	}
	err := m.retry.Attempt(ctx, func() error {
		if !m.current(gen) {
			return ErrStale
		}
		return m.localPreview.Attach(camera)
	})
	if err != nil {
		m.log.Warn().Err(err).Msg("local preview bind failed")
	}
}

// handleTrackPublished subscribes to a newly published remote track. Video
// binds to the remote display after clearing any stale stream; audio plays
// immediately since it has no surface dependency. Bounded retries; a
// failure affects only that participant's media.
func (m *Manager) handleTrackPublished(gen uint64, participantID string, kind TrackKind) {
	if !m.current(gen) {
		return
	}
	go func() {
		ctx := context.Background()
		err := m.retry.Attempt(ctx, func() error {
			return m.subscribeRemote(ctx, gen, participantID, kind)
		})
		if err != nil {
			if !m.current(gen) {
				return
			}
			m.log.Warn().Err(fmt.Errorf("%w: %w", ErrSubscription, err)).
				Str("participant", participantID).
				Str("track_kind", string(kind)).
				Msg("remote media unavailable")
		}
	}()
}

func (m *Manager) subscribeRemote(ctx context.Context, gen uint64, participantID string, kind TrackKind) error {
	m.mu.Lock()
	room := m.room
	stale := m.gen != gen
	m.mu.Unlock()
	if stale || room == nil {
		return ErrStale
	}

	remote, err := room.Subscribe(ctx, participantID, kind)
	if err != nil {
		return err
	}

	switch kind {
	case TrackVideo:
		// Clear the previous stream first; a short settle avoids
		// flicker from the outgoing binding.
		m.remoteDisplay.Clear()
		select {
		case <-time.After(m.clearDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
		awaitReady(ctx, m.remoteDisplay, m.readyTimeout)
		if !m.current(gen) {
			_ = remote.Stop()
			return ErrStale
		}
		if err := m.remoteDisplay.Attach(remote); err != nil {
			_ = remote.Stop()
			return err
		}
	case TrackAudio:
		if err := remote.Play(); err != nil {
			_ = remote.Stop()
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		_ = remote.Stop()
		return ErrStale
	}
	tracks, ok := m.remotes[participantID]
	if !ok {
		tracks = make(map[TrackKind]RemoteTrack)
		m.remotes[participantID] = tracks
	}
	if prev, ok := tracks[kind]; ok {
		_ = prev.Stop()
	}
	tracks[kind] = remote

	m.log.Debug().
		Str("participant", participantID).
		Str("track_kind", string(kind)).
		Msg("remote track attached")
	return nil
}

func (m *Manager) handleTrackUnpublished(gen uint64, participantID string, kind TrackKind) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	var dropped RemoteTrack
	if tracks, ok := m.remotes[participantID]; ok {
		dropped = tracks[kind]
		delete(tracks, kind)
	}
	m.mu.Unlock()

	if dropped != nil {
		_ = dropped.Stop()
	}
	if kind == TrackVideo {
		m.remoteDisplay.Clear()
	}
}

func (m *Manager) handleParticipantLeft(gen uint64, participantID string) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	tracks := m.remotes[participantID]
	delete(m.remotes, participantID)
	m.mu.Unlock()

	for _, t := range tracks {
		_ = t.Stop()
	}
	m.remoteDisplay.Clear()
}

func (m *Manager) handleConnectionChange(gen uint64, connected chan struct{}, state ConnState) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(state)
	m.mu.Unlock()

	if state == ConnConnected {
		select {
		case <-connected:
		default:
			close(connected)
		}
	}
}

// setStateLocked requires m.mu held.
func (m *Manager) setStateLocked(state ConnState) {
	if m.state == state {
		return
	}
	m.state = state
	if m.onConnChange != nil {
		cb := m.onConnChange
		go cb(state)
	}
}

// Leave tears the session down: stops local tracks best-effort, leaves the
// room, clears participant state. Safe to call repeatedly and from any
// error path; async completions from the old session become no-ops.
func (m *Manager) Leave() {
	m.mu.Lock()
	room := m.room
	mic, camera := m.mic, m.camera
	remotes := m.remotes
	m.gen++
	m.room = nil
	m.mic = nil
	m.camera = nil
	m.remotes = make(map[string]map[TrackKind]RemoteTrack)
	m.state = ""
	m.connected = nil
	m.mu.Unlock()

	if room == nil {
		return
	}

	if mic != nil {
		_ = mic.Stop()
	}
	if camera != nil {
		_ = camera.Stop()
	}
	for _, tracks := range remotes {
		for _, t := range tracks {
			_ = t.Stop()
		}
	}
	m.localPreview.Clear()
	m.remoteDisplay.Clear()

	if err := room.Leave(); err != nil {
		m.log.Warn().Err(err).Msg("media room leave failed")
	}
	m.log.Debug().Msg("media session torn down")
}

// SetMicEnabled toggles the microphone. A failed re-enable falls back to
// destroying and recreating the track, since some transports cannot resume
// a previously disabled hardware track.
func (m *Manager) SetMicEnabled(ctx context.Context, on bool) error {
	m.mu.Lock()
	room := m.room
	mic := m.mic
	m.mu.Unlock()
	if room == nil || mic == nil {
		return ErrStale
	}

	if err := mic.SetEnabled(on); err != nil {
		if !on {
			return err
		}
		fresh, recreateErr := m.recreateTrack(ctx, room, TrackAudio)
		if recreateErr != nil {
			return fmt.Errorf("%w: restart microphone: %w", ErrTrackAcquisition, recreateErr)
		}
		m.mu.Lock()
		m.mic = fresh
		m.micOn = true
		m.mu.Unlock()
		return nil
	}

	m.mu.Lock()
	m.micOn = on
	m.mu.Unlock()
	return nil
}

// SetCameraEnabled toggles the camera with the same recreate fallback, and
// rebinds the local preview after a successful re-enable.
func (m *Manager) SetCameraEnabled(ctx context.Context, on bool) error {
	m.mu.Lock()
	room := m.room
	camera := m.camera
	gen := m.gen
	m.mu.Unlock()
	if room == nil || camera == nil {
		return ErrStale
	}

	if err := camera.SetEnabled(on); err != nil {
		if !on {
			return err
		}
		fresh, recreateErr := m.recreateTrack(ctx, room, TrackVideo)
		if recreateErr != nil {
			return fmt.Errorf("%w: restart camera: %w", ErrTrackAcquisition, recreateErr)
		}
		m.mu.Lock()
		m.camera = fresh
		m.cameraOn = true
		m.mu.Unlock()
		go m.bindLocalPreview(gen, fresh)
		return nil
	}

	m.mu.Lock()
	m.cameraOn = on
	m.mu.Unlock()
	if on {
		go m.bindLocalPreview(gen, camera)
	}
	return nil
}

func (m *Manager) recreateTrack(ctx context.Context, room Room, kind TrackKind) (LocalTrack, error) {
	m.mu.Lock()
	old := m.mic
	if kind == TrackVideo {
		old = m.camera
	}
	m.mu.Unlock()
	if old != nil {
		_ = old.Stop()
	}

	var fresh LocalTrack
	var err error
	if kind == TrackVideo {
		fresh, err = room.CreateCameraTrack(ctx)
	} else {
		fresh, err = room.CreateMicTrack(ctx)
	}
	if err != nil {
		return nil, err
	}
	if err := room.Publish(ctx, fresh); err != nil {
		_ = fresh.Stop()
		return nil, err
	}
	return fresh, nil
}

// Active reports whether a session is currently established.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.room != nil
}

// State returns the current connection-quality state.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// MicEnabled reports the local microphone toggle state.
func (m *Manager) MicEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.micOn
}

// CameraEnabled reports the local camera toggle state.
func (m *Manager) CameraEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cameraOn
}

// RemoteParticipants lists participants with at least one attached track.
func (m *Manager) RemoteParticipants() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.remotes))
	for id := range m.remotes {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen
}
