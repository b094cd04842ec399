// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/multichat/internal/cloud"
	"github.com/jeranaias/multichat/internal/logging"
	"github.com/jeranaias/multichat/internal/model"
	"github.com/jeranaias/multichat/internal/settings"
)

// job is one session's share of a send.
type job struct {
	sessionID string
	modelID   string
	history   []model.Message
	query     string
	image     bool
	replaceID string
	original  model.Message
	settings  settings.Settings
}

type outcome int

const (
	outcomeReplied outcome = iota
	outcomeFailed
	outcomeAborted
)

// =============================================================================
// SEND
// =============================================================================

// SendMessageToAll sends content to every runnable active session and waits
// for all of them. Per-session failures are recorded on the sessions and do
// not make the call fail; the returned error only reports validation.
func (o *Orchestrator) SendMessageToAll(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}

	current := o.settings.Get()
	isImage := o.classifier.IsImageRequest(content)

	o.mu.Lock()
	var runnable []model.Session
	for _, s := range o.active {
		if s.IsRunnable() {
			runnable = append(runnable, s)
		}
	}
	if len(runnable) == 0 {
		o.mu.Unlock()
		return ErrNoRunnableSessions
	}
	for _, s := range runnable {
		if s.IsLoading {
			o.mu.Unlock()
			return ErrBusy
		}
	}

	if !current.HasAPIKey() {
		for _, s := range o.active {
			o.updateSession(s.ID, func(s model.Session) model.Session {
				s.Error = ErrMissingAPIKey.Error()
				s.IsLoading = false
				return s
			})
		}
		o.mu.Unlock()
		o.changed()
		return ErrMissingAPIKey
	}

	if isImage {
		if err := o.checkImageSupport(runnable); err != nil {
			o.mu.Unlock()
			o.changed()
			return err
		}
	}

	userMsg := model.NewUserMessage(content)
	var promoted []string
	jobs := make([]job, 0, len(runnable))
	for _, s := range runnable {
		if s.IsTemporary {
			s.IsTemporary = false
			if indexByID(o.durable, s.ID) < 0 {
				o.durable = append(o.durable, s)
			}
			promoted = append(promoted, s.ModelID)
		}
		s = s.WithMessage(userMsg)
		s.IsLoading = true
		s.Error = ""

		updated := s
		o.updateSession(s.ID, func(model.Session) model.Session { return updated })

		jobs = append(jobs, job{
			sessionID: s.ID,
			modelID:   s.ModelID,
			history:   s.Messages,
			query:     content,
			image:     isImage,
			settings:  current,
		})
	}
	o.mu.Unlock()

	for _, id := range promoted {
		o.recorder.RecordConversation(id)
	}
	for _, j := range jobs {
		o.recorder.RecordMessage(j.modelID, string(model.RoleUser))
	}
	o.persist(ctx)
	o.changed()

	results := o.dispatch(ctx, jobs)
	o.reconcile(ctx, jobs, results)
	return nil
}

// checkImageSupport fails every runnable session when any of them cannot
// generate images. Caller holds mu.
func (o *Orchestrator) checkImageSupport(runnable []model.Session) error {
	var incompatible []string
	for _, s := range runnable {
		if !cloud.SupportsImages(s.ModelID) {
			incompatible = append(incompatible, s.ModelName)
		}
	}
	if len(incompatible) == 0 {
		return nil
	}

	err := &IncompatibleModelError{Models: incompatible}
	for _, s := range runnable {
		o.updateSession(s.ID, func(s model.Session) model.Session {
			s.Error = err.Error()
			s.IsLoading = false
			return s
		})
	}
	o.logger.Info("image request rejected", zap.Strings("models", incompatible))
	return err
}

// dispatch runs every job concurrently and waits for all of them. Handlers
// never return errors, so one failure cannot cut the others short.
func (o *Orchestrator) dispatch(ctx context.Context, jobs []job) []outcome {
	defer logging.Duration(o.logger, "dispatch", zap.Int("sessions", len(jobs)))()

	results := make([]outcome, len(jobs))
	var g errgroup.Group
	g.SetLimit(MaxActiveSessions)
	for i, j := range jobs {
		g.Go(func() error {
			results[i] = o.runSession(ctx, j)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// reconcile is the single point after every session resolved: it writes
// the resolved sessions back into both lists, persists, flushes stats, and
// sends one notification.
func (o *Orchestrator) reconcile(ctx context.Context, jobs []job, results []outcome) {
	o.mu.Lock()
	for _, j := range jobs {
		o.updateSession(j.sessionID, func(s model.Session) model.Session {
			s.IsLoading = false
			return s
		})
	}
	o.mu.Unlock()

	o.persist(ctx)
	o.recorder.Flush(ctx)
	o.changed()

	replied := 0
	for _, r := range results {
		if r == outcomeReplied {
			replied++
		}
	}
	if replied == 0 {
		return
	}

	var body string
	switch {
	case len(jobs) > 0 && jobs[0].image:
		body = fmt.Sprintf("Generated %d image(s)", replied)
	case replied == 1:
		body = "1 model replied"
	default:
		body = fmt.Sprintf("%d models replied", replied)
	}
	o.notifier.Notify("multichat", body)
}

// =============================================================================
// PER-SESSION REQUEST
// =============================================================================

// runSession creates the placeholder and abort handle, runs the request, and
// resolves the session. It never panics into the caller.
func (o *Orchestrator) runSession(parent context.Context, j job) (result outcome) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	placeholder := model.NewPlaceholder(j.modelID)
	handle := &inflight{cancel: cancel}
	start := time.Now()

	o.mu.Lock()
	o.aborts[j.sessionID] = handle
	o.progress[j.sessionID] = Progress{StartTime: start, LastUpdateTime: start}
	_, ok := o.updateSession(j.sessionID, func(s model.Session) model.Session {
		if j.replaceID != "" {
			s, _ = s.UpdateMessage(j.replaceID, func(model.Message) model.Message { return placeholder })
			return s
		}
		return s.WithMessage(placeholder)
	})
	o.mu.Unlock()
	if !ok {
		o.release(j.sessionID, handle)
		return outcomeAborted
	}
	o.changed()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("session request panicked", zap.String("session", j.sessionID), zap.Any("panic", r))
			o.fail(j, placeholder.ID, handle, fmt.Errorf("internal error: %v", r))
			result = outcomeFailed
		}
	}()

	if j.image {
		return o.runImage(ctx, j, placeholder.ID, handle, start)
	}
	return o.runText(ctx, j, placeholder.ID, handle, start)
}

func (o *Orchestrator) runText(ctx context.Context, j job, msgID string, handle *inflight, start time.Time) outcome {
	req := cloud.Request{
		APIKey:       j.settings.APIKey,
		ModelID:      j.modelID,
		Messages:     o.assembleContext(ctx, j),
		SystemPrompt: EffectiveSystemPrompt(j.settings.SystemPrompt, j.settings.Tone),
	}

	received := 0
	res, err := o.completer.StreamCompletion(ctx, req, func(delta string) {
		received += len(delta)
		o.applyDelta(j, msgID, delta)
	})

	switch {
	case res.Aborted:
		o.abort(j, msgID, handle, received > 0)
		return outcomeAborted
	case err != nil:
		o.fail(j, msgID, handle, err)
		return outcomeFailed
	}

	reply := res.Reply()
	if reply.IsEmpty() {
		o.fail(j, msgID, handle, ErrEmptyReply)
		return outcomeFailed
	}
	o.succeed(j, msgID, handle, reply, time.Since(start))
	return outcomeReplied
}

func (o *Orchestrator) runImage(ctx context.Context, j job, msgID string, handle *inflight, start time.Time) outcome {
	res := o.completer.GenerateImageReliable(ctx, j.query, j.settings.APIKey, j.modelID, o.imageOpts)

	switch {
	case ctx.Err() != nil:
		o.abort(j, msgID, handle, false)
		return outcomeAborted
	case !res.OK():
		o.resolve(j, handle, func(s model.Session) model.Session {
			s, _ = s.UpdateMessage(msgID, func(m model.Message) model.Message {
				m.Content = res.Content
				return m.Finalize()
			})
			s.Error = res.Err.Error()
			return s
		})
		o.logger.Warn("image generation failed", zap.String("model", j.modelID), zap.Error(res.Err))
		return outcomeFailed
	}

	o.succeed(j, msgID, handle, res.Content, time.Since(start))
	return outcomeReplied
}

// assembleContext returns the messages sent for j: the full history, or the
// relevant subset plus the new prompt when relevant-context mode is on.
func (o *Orchestrator) assembleContext(ctx context.Context, j job) []model.Message {
	history := contextMessages(j.history)
	if !j.settings.RAGEnabled || o.selector == nil || len(history) < 2 {
		return history
	}

	prior, last := history[:len(history)-1], history[len(history)-1]
	selected, err := o.selector.SelectRelevantHistory(ctx, j.query, prior)
	if err != nil {
		o.logger.Warn("relevant history selection failed, sending full history",
			zap.String("session", j.sessionID), zap.Error(err))
		return history
	}
	return append(selected, last)
}

// contextMessages drops placeholders and failed replies.
func contextMessages(msgs []model.Message) []model.Message {
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.IsEmpty() {
			continue
		}
		if m.Role == model.RoleAssistant && strings.HasPrefix(m.Content.String(), model.ErrorPrefix) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// applyDelta writes one fragment into the placeholder.
func (o *Orchestrator) applyDelta(j job, msgID, delta string) {
	now := time.Now()

	o.mu.Lock()
	o.updateSession(j.sessionID, func(s model.Session) model.Session {
		s, _ = s.UpdateMessage(msgID, func(m model.Message) model.Message {
			return m.AppendDelta(delta)
		})
		return s
	})
	if p, ok := o.progress[j.sessionID]; ok {
		if p.FirstDelta.IsZero() {
			p.FirstDelta = now
		}
		p.CharsReceived += len([]rune(delta))
		p.LastUpdateTime = now
		o.progress[j.sessionID] = p
	}
	o.mu.Unlock()

	o.emit(Event{Type: EventDelta, SessionID: j.sessionID, MessageID: msgID, ModelID: j.modelID, Delta: delta})
}

func (o *Orchestrator) succeed(j job, msgID string, handle *inflight, content model.Content, elapsed time.Duration) {
	o.resolve(j, handle, func(s model.Session) model.Session {
		s, _ = s.UpdateMessage(msgID, func(m model.Message) model.Message {
			m.Content = content
			return m.Finalize()
		})
		s.Error = ""
		return s
	})
	o.recorder.RecordMessage(j.modelID, string(model.RoleAssistant))
	o.recorder.RecordResponseTime(j.modelID, elapsed)
	o.logger.Info("reply received",
		zap.String("session", j.sessionID),
		zap.String("model", j.modelID),
		zap.Duration("elapsed", elapsed))
}

func (o *Orchestrator) fail(j job, msgID string, handle *inflight, err error) {
	o.resolve(j, handle, func(s model.Session) model.Session {
		s, _ = s.UpdateMessage(msgID, func(m model.Message) model.Message {
			return m.Failed(err)
		})
		s.Error = err.Error()
		return s
	})
	o.logger.Warn("request failed",
		zap.String("session", j.sessionID),
		zap.String("model", j.modelID),
		zap.Error(err))
}

// abort keeps whatever was streamed. A placeholder that never received a
// fragment is removed, or put back to the reply it was regenerating.
func (o *Orchestrator) abort(j job, msgID string, handle *inflight, hasContent bool) {
	o.resolve(j, handle, func(s model.Session) model.Session {
		if !hasContent && j.replaceID != "" {
			s, _ = s.UpdateMessage(msgID, func(model.Message) model.Message { return j.original })
			return s
		}
		if !hasContent {
			return s.WithoutMessage(msgID)
		}
		s, _ = s.UpdateMessage(msgID, model.Message.Finalize)
		return s
	})
	o.logger.Info("request cancelled", zap.String("session", j.sessionID), zap.Bool("partial", hasContent))
}

// resolve applies the terminal update, clears loading, and releases the
// abort handle.
func (o *Orchestrator) resolve(j job, handle *inflight, fn func(model.Session) model.Session) {
	o.mu.Lock()
	o.updateSession(j.sessionID, func(s model.Session) model.Session {
		s = fn(s)
		s.IsLoading = false
		return s
	})
	o.releaseLocked(j.sessionID, handle)
	o.mu.Unlock()

	o.emit(Event{Type: EventResolved, SessionID: j.sessionID, ModelID: j.modelID})
}

func (o *Orchestrator) release(sessionID string, handle *inflight) {
	o.mu.Lock()
	o.releaseLocked(sessionID, handle)
	o.mu.Unlock()
}

// releaseLocked removes the handle only if it is still the one registered
// for the session. Caller holds mu.
func (o *Orchestrator) releaseLocked(sessionID string, handle *inflight) {
	if o.aborts[sessionID] == handle {
		delete(o.aborts, sessionID)
		delete(o.progress, sessionID)
	}
}

// =============================================================================
// REGENERATE
// =============================================================================

// Regenerate replaces the assistant message messageID with a fresh reply to
// the nearest preceding user message.
func (o *Orchestrator) Regenerate(ctx context.Context, sessionID, messageID string) error {
	current := o.settings.Get()

	o.mu.Lock()
	s, ok := o.findSession(sessionID)
	if !ok {
		o.mu.Unlock()
		return ErrSessionNotFound
	}
	idx := s.MessageIndex(messageID)
	if idx < 0 {
		o.mu.Unlock()
		return ErrMessageNotFound
	}
	if s.Messages[idx].Role != model.RoleAssistant {
		o.mu.Unlock()
		return ErrNotAssistant
	}
	if !s.IsRunnable() {
		o.mu.Unlock()
		return ErrNoRunnableSessions
	}
	if s.IsLoading {
		o.mu.Unlock()
		return ErrBusy
	}

	prompt := -1
	for i := idx - 1; i >= 0; i-- {
		if s.Messages[i].Role == model.RoleUser {
			prompt = i
			break
		}
	}
	if prompt < 0 {
		o.mu.Unlock()
		return ErrNoPrompt
	}

	if !current.HasAPIKey() {
		o.updateSession(sessionID, func(s model.Session) model.Session {
			s.Error = ErrMissingAPIKey.Error()
			return s
		})
		o.mu.Unlock()
		o.changed()
		return ErrMissingAPIKey
	}

	query := s.Messages[prompt].Content.String()
	isImage := o.classifier.IsImageRequest(query)
	if isImage {
		if err := o.checkImageSupport([]model.Session{s}); err != nil {
			o.mu.Unlock()
			o.changed()
			return err
		}
	}

	o.updateSession(sessionID, func(s model.Session) model.Session {
		s.IsLoading = true
		s.Error = ""
		return s
	})
	j := job{
		sessionID: sessionID,
		modelID:   s.ModelID,
		history:   append([]model.Message(nil), s.Messages[:prompt+1]...),
		query:     query,
		image:     isImage,
		replaceID: messageID,
		original:  s.Messages[idx].Clone(),
		settings:  current,
	}
	o.mu.Unlock()
	o.changed()

	jobs := []job{j}
	o.reconcile(ctx, jobs, o.dispatch(ctx, jobs))
	return nil
}
