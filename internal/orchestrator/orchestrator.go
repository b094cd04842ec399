// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/multichat/internal/cloud"
	"github.com/jeranaias/multichat/internal/model"
	"github.com/jeranaias/multichat/internal/notify"
	"github.com/jeranaias/multichat/internal/settings"
	"github.com/jeranaias/multichat/internal/templates"
)

// MaxActiveSessions is the most models that can be selected at once.
const MaxActiveSessions = 3

// =============================================================================
// COLLABORATORS
// =============================================================================

// Completer is the completion gateway.
type Completer interface {
	StreamCompletion(ctx context.Context, req cloud.Request, onDelta cloud.DeltaFunc) (cloud.StreamResult, error)
	GenerateImageReliable(ctx context.Context, prompt, apiKey, modelID string, opts cloud.ImageOptions) cloud.ImageResult
}

// Persister loads and saves the durable session list. Save failures are the
// persister's to log.
type Persister interface {
	Save(ctx context.Context, sessions []model.Session)
	Load(ctx context.Context) []model.Session
}

// Recorder collects usage statistics.
type Recorder interface {
	RecordConversation(modelID string)
	RecordMessage(modelID, role string)
	RecordResponseTime(modelID string, d time.Duration)
	Flush(ctx context.Context)
}

// HistorySelector narrows history to the messages relevant to a prompt.
type HistorySelector interface {
	SelectRelevantHistory(ctx context.Context, query string, history []model.Message) ([]model.Message, error)
}

// SettingsSource provides user settings and change events.
type SettingsSource interface {
	Get() settings.Settings
	Subscribe(fn settings.ChangeFunc) func()
}

// Options configures New. Completer and Settings are required.
type Options struct {
	Completer  Completer
	Settings   SettingsSource
	Persister  Persister
	Recorder   Recorder
	Selector   HistorySelector
	Classifier ImageClassifier
	Notifier   notify.Notifier
	Templates  *templates.Library
	Logger     *zap.Logger

	// Image tunes image generation requests.
	Image cloud.ImageOptions

	// InitialModels binds the starting sessions. Empty uses the settings'
	// selected model, or an unbound slot.
	InitialModels []string
}

// =============================================================================
// STATE
// =============================================================================

// Progress is streaming bookkeeping for one in-flight request.
type Progress struct {
	CharsReceived  int
	StartTime      time.Time
	FirstDelta     time.Time
	LastUpdateTime time.Time
}

// CharsPerSecond is the observed delivery rate.
func (p Progress) CharsPerSecond() float64 {
	elapsed := p.LastUpdateTime.Sub(p.StartTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(p.CharsReceived) / elapsed
}

// State is a deep copy of the orchestrator state.
type State struct {
	Active         []model.Session
	Sessions       []model.Session
	SelectedModels []string
	Progress       map[string]Progress
	InFlight       []string
}

// EventType identifies an Event.
type EventType int

const (
	// EventStateChanged follows any change to sessions or selection.
	EventStateChanged EventType = iota
	// EventDelta carries one streamed fragment.
	EventDelta
	// EventResolved fires when one session's request finishes.
	EventResolved
)

// Event describes a change. Listeners run on the goroutine that made the
// change and must not block.
type Event struct {
	Type      EventType
	SessionID string
	MessageID string
	ModelID   string
	Delta     string
}

type listener struct {
	id int
	fn func(Event)
}

// inflight is an abort handle. The pointer identifies the request that
// registered it.
type inflight struct {
	cancel context.CancelFunc
}

// Orchestrator coordinates concurrent model sessions.
type Orchestrator struct {
	completer  Completer
	settings   SettingsSource
	persister  Persister
	recorder   Recorder
	selector   HistorySelector
	classifier ImageClassifier
	notifier   notify.Notifier
	templates  *templates.Library
	logger     *zap.Logger
	imageOpts  cloud.ImageOptions

	mu       sync.Mutex
	active   []model.Session
	durable  []model.Session
	selected []string
	aborts   map[string]*inflight
	progress map[string]Progress

	listenerMu   sync.Mutex
	listeners    []listener
	nextListener int

	// persistMu orders snapshot-and-save so an older list is never written
	// after a newer one.
	persistMu sync.Mutex

	unsubscribe func()
}

// New loads durable sessions, creates the starting sessions, and subscribes
// to settings changes.
func New(ctx context.Context, opts Options) (*Orchestrator, error) {
	if opts.Completer == nil {
		return nil, errors.New("orchestrator: completer is required")
	}
	if opts.Settings == nil {
		return nil, errors.New("orchestrator: settings source is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Classifier == nil {
		opts.Classifier = NewKeywordClassifier()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Templates == nil {
		opts.Templates = templates.NewLibrary()
	}

	o := &Orchestrator{
		completer:  opts.Completer,
		settings:   opts.Settings,
		persister:  opts.Persister,
		recorder:   opts.Recorder,
		selector:   opts.Selector,
		classifier: opts.Classifier,
		notifier:   opts.Notifier,
		templates:  opts.Templates,
		logger:     opts.Logger,
		imageOpts:  opts.Image,
		aborts:     make(map[string]*inflight),
		progress:   make(map[string]Progress),
	}

	if o.persister != nil {
		o.durable = o.persister.Load(ctx)
	}
	if o.durable == nil {
		o.durable = []model.Session{}
	}

	for _, id := range opts.InitialModels {
		if len(o.active) == MaxActiveSessions {
			break
		}
		if id == "" || o.activeIndexByModel(id) >= 0 {
			continue
		}
		o.active = append(o.active, model.NewTemporarySession(id))
	}
	if len(o.active) == 0 {
		o.active = []model.Session{o.defaultSession()}
	}
	o.syncSelected()

	o.unsubscribe = o.settings.Subscribe(o.onSettingsChanged)

	o.logger.Info("orchestrator ready",
		zap.Int("sessions", len(o.durable)),
		zap.Strings("models", o.selected))
	return o, nil
}

// Close cancels in-flight requests and stops listening for settings.
func (o *Orchestrator) Close() {
	o.StopStreaming("")
	if o.unsubscribe != nil {
		o.unsubscribe()
	}
}

// defaultSession is a temporary session bound to the selected model, or the
// unbound default slot.
func (o *Orchestrator) defaultSession() model.Session {
	id := o.settings.Get().SelectedModel
	if model.IsPending(id) {
		id = model.DefaultPendingModel
	}
	return model.NewTemporarySession(id)
}

// syncSelected rebuilds the selected model list from the active sessions.
// Caller holds mu.
func (o *Orchestrator) syncSelected() {
	selected := make([]string, len(o.active))
	for i, s := range o.active {
		selected[i] = s.ModelID
	}
	o.selected = selected
}

func (o *Orchestrator) activeIndexByModel(modelID string) int {
	for i, s := range o.active {
		if s.ModelID == modelID {
			return i
		}
	}
	return -1
}

func indexByID(sessions []model.Session, id string) int {
	for i, s := range sessions {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// findSession returns the current value of session id. Caller holds mu.
func (o *Orchestrator) findSession(id string) (model.Session, bool) {
	if i := indexByID(o.active, id); i >= 0 {
		return o.active[i], true
	}
	if i := indexByID(o.durable, id); i >= 0 {
		return o.durable[i], true
	}
	return model.Session{}, false
}

// updateSession applies fn to the current value of session id and writes
// the result into every list holding that id. Caller holds mu.
func (o *Orchestrator) updateSession(id string, fn func(model.Session) model.Session) (model.Session, bool) {
	current, ok := o.findSession(id)
	if !ok {
		return model.Session{}, false
	}
	updated := fn(current)

	active := make([]model.Session, len(o.active))
	for i, s := range o.active {
		if s.ID == id {
			s = updated
		}
		active[i] = s
	}
	o.active = active

	durable := make([]model.Session, len(o.durable))
	for i, s := range o.durable {
		if s.ID == id {
			s = updated
		}
		durable[i] = s
	}
	o.durable = durable
	return updated, true
}

func cloneSessions(sessions []model.Session) []model.Session {
	out := make([]model.Session, len(sessions))
	for i, s := range sessions {
		out[i] = s.Clone()
	}
	return out
}

// =============================================================================
// OBSERVATION
// =============================================================================

// Snapshot returns a deep copy of the current state.
func (o *Orchestrator) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()

	progress := make(map[string]Progress, len(o.progress))
	for id, p := range o.progress {
		progress[id] = p
	}
	inFlight := make([]string, 0, len(o.aborts))
	for id := range o.aborts {
		inFlight = append(inFlight, id)
	}
	return State{
		Active:         cloneSessions(o.active),
		Sessions:       cloneSessions(o.durable),
		SelectedModels: append([]string(nil), o.selected...),
		Progress:       progress,
		InFlight:       inFlight,
	}
}

// Subscribe registers fn for events and returns a function removing it.
func (o *Orchestrator) Subscribe(fn func(Event)) func() {
	o.listenerMu.Lock()
	defer o.listenerMu.Unlock()
	o.nextListener++
	id := o.nextListener
	o.listeners = append(o.listeners, listener{id: id, fn: fn})

	return func() {
		o.listenerMu.Lock()
		defer o.listenerMu.Unlock()
		for i, l := range o.listeners {
			if l.id == id {
				o.listeners = append(o.listeners[:i:i], o.listeners[i+1:]...)
				return
			}
		}
	}
}

// emit must not be called with mu held.
func (o *Orchestrator) emit(ev Event) {
	o.listenerMu.Lock()
	ls := append([]listener(nil), o.listeners...)
	o.listenerMu.Unlock()
	for _, l := range ls {
		l.fn(ev)
	}
}

func (o *Orchestrator) changed() {
	o.emit(Event{Type: EventStateChanged})
}

// persist saves the durable list.
func (o *Orchestrator) persist(ctx context.Context) {
	if o.persister == nil {
		return
	}
	o.persistMu.Lock()
	defer o.persistMu.Unlock()

	o.mu.Lock()
	sessions := cloneSessions(o.durable)
	o.mu.Unlock()

	o.persister.Save(ctx, sessions)
}

// =============================================================================
// SESSION AND MODEL MANAGEMENT
// =============================================================================

// AddModel selects modelID in a new empty session. It is a no-op, returning
// false, when the model is already selected, the selection is full, or the
// id is unbound. An empty unbound slot is filled instead of kept alongside.
func (o *Orchestrator) AddModel(ctx context.Context, modelID string) bool {
	if model.IsPending(modelID) {
		return false
	}

	o.mu.Lock()
	if o.activeIndexByModel(modelID) >= 0 {
		o.mu.Unlock()
		return false
	}

	for _, s := range o.active {
		if !s.IsRunnable() && !s.HasContent() && !s.IsLoading {
			o.updateSession(s.ID, func(s model.Session) model.Session {
				return s.Rebind(modelID)
			})
			o.syncSelected()
			o.mu.Unlock()

			o.logger.Info("model bound to empty slot", zap.String("model", modelID))
			o.changed()
			return true
		}
	}

	if len(o.active) >= MaxActiveSessions {
		o.mu.Unlock()
		return false
	}

	sess := model.NewSession(modelID)
	o.active = append(o.active, sess)
	o.durable = append(o.durable, sess)
	o.syncSelected()
	o.mu.Unlock()

	o.recorder.RecordConversation(modelID)
	o.logger.Info("model added", zap.String("model", modelID), zap.String("session", sess.ID))
	o.persist(ctx)
	o.changed()
	return true
}

// RemoveModel drops the active session bound to modelID. Durable history is
// kept. It is a no-op, returning false, when the model is not selected or
// it is the last active session.
func (o *Orchestrator) RemoveModel(modelID string) bool {
	o.mu.Lock()
	if len(o.active) <= 1 {
		o.mu.Unlock()
		return false
	}
	i := o.activeIndexByModel(modelID)
	if i < 0 {
		o.mu.Unlock()
		return false
	}

	active := make([]model.Session, 0, len(o.active)-1)
	active = append(active, o.active[:i]...)
	active = append(active, o.active[i+1:]...)
	o.active = active
	o.syncSelected()
	o.mu.Unlock()

	o.logger.Info("model removed", zap.String("model", modelID))
	o.changed()
	return true
}

// SetActiveSession focuses a single durable session.
func (o *Orchestrator) SetActiveSession(sessionID string) error {
	o.mu.Lock()
	i := indexByID(o.durable, sessionID)
	if i < 0 {
		o.mu.Unlock()
		return ErrSessionNotFound
	}
	o.active = []model.Session{o.durable[i]}
	o.syncSelected()
	o.mu.Unlock()

	o.changed()
	return nil
}

// CreateNewSession starts a fresh conversation with each selected model and
// makes those sessions active.
func (o *Orchestrator) CreateNewSession(ctx context.Context) []model.Session {
	o.mu.Lock()
	models := append([]string(nil), o.selected...)
	if len(models) == 0 {
		models = []string{o.defaultSession().ModelID}
	}

	created := make([]model.Session, 0, len(models))
	for _, id := range models {
		s := model.NewSession(id)
		if !s.IsRunnable() {
			s.IsTemporary = true
		} else {
			o.durable = append(o.durable, s)
		}
		created = append(created, s)
	}
	o.active = created
	o.syncSelected()
	o.mu.Unlock()

	for _, s := range created {
		if s.IsRunnable() {
			o.recorder.RecordConversation(s.ModelID)
		}
	}
	o.persist(ctx)
	o.changed()
	return cloneSessions(created)
}

// DeleteSession removes a session from history and the active set. When the
// active set empties, the first remaining durable session becomes active,
// or a fresh default session when none remain.
func (o *Orchestrator) DeleteSession(ctx context.Context, sessionID string) error {
	o.mu.Lock()
	di := indexByID(o.durable, sessionID)
	ai := indexByID(o.active, sessionID)
	if di < 0 && ai < 0 {
		o.mu.Unlock()
		return ErrSessionNotFound
	}

	if h, ok := o.aborts[sessionID]; ok {
		h.cancel()
		delete(o.aborts, sessionID)
		delete(o.progress, sessionID)
	}

	durable := make([]model.Session, 0, len(o.durable))
	for _, s := range o.durable {
		if s.ID != sessionID {
			durable = append(durable, s)
		}
	}
	o.durable = durable

	if ai >= 0 {
		active := make([]model.Session, 0, len(o.active))
		for _, s := range o.active {
			if s.ID != sessionID {
				active = append(active, s)
			}
		}
		if len(active) == 0 {
			if len(o.durable) > 0 {
				active = []model.Session{o.durable[0]}
			} else {
				active = []model.Session{o.defaultSession()}
			}
		}
		o.active = active
		o.syncSelected()
	}
	o.mu.Unlock()

	o.logger.Info("session deleted", zap.String("session", sessionID))
	o.persist(ctx)
	o.changed()
	return nil
}

// StopStreaming aborts the request for sessionID, or every request when
// sessionID is empty.
//
// The whole abort registry and progress map are cleared even when a single
// session is stopped. This is coarser than it should be: requests that keep
// running lose their handle, so no later stop can reach them. Each request
// still releases its own context when it finishes.
func (o *Orchestrator) StopStreaming(sessionID string) {
	o.mu.Lock()
	if sessionID == "" {
		for _, h := range o.aborts {
			h.cancel()
		}
	} else if h, ok := o.aborts[sessionID]; ok {
		h.cancel()
	}
	o.aborts = make(map[string]*inflight)
	o.progress = make(map[string]Progress)
	o.mu.Unlock()

	o.logger.Debug("streaming stopped", zap.String("session", sessionID))
}

// =============================================================================
// SETTINGS
// =============================================================================

// onSettingsChanged rebinds the default session when the user picks a model,
// but only while that session is still the single, empty, unbound default
// slot.
func (o *Orchestrator) onSettingsChanged(old, updated settings.Settings) {
	if old.SelectedModel == updated.SelectedModel || model.IsPending(updated.SelectedModel) {
		return
	}

	o.mu.Lock()
	if len(o.active) != 1 {
		o.mu.Unlock()
		return
	}
	s := o.active[0]
	if s.ModelID != model.DefaultPendingModel || s.HasContent() || s.IsLoading {
		o.mu.Unlock()
		return
	}
	o.updateSession(s.ID, func(s model.Session) model.Session {
		return s.Rebind(updated.SelectedModel)
	})
	o.syncSelected()
	o.mu.Unlock()

	o.logger.Info("default session bound", zap.String("model", updated.SelectedModel))
	o.changed()
}

type nopRecorder struct{}

func (nopRecorder) RecordConversation(string)                 {}
func (nopRecorder) RecordMessage(string, string)              {}
func (nopRecorder) RecordResponseTime(string, time.Duration) {}
func (nopRecorder) Flush(context.Context)                     {}
