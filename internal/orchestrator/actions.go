// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"fmt"

	"github.com/jeranaias/multichat/internal/model"
	"github.com/jeranaias/multichat/internal/templates"
)

// SendTemplate renders template templateID with input and sends the result
// to every runnable session.
func (o *Orchestrator) SendTemplate(ctx context.Context, templateID, input string) error {
	t, ok := o.templates.Get(templateID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTemplateNotFound, templateID)
	}
	payload, err := t.Render(input)
	if err != nil {
		return err
	}
	return o.SendMessageToAll(ctx, payload)
}

// Templates returns the available templates.
func (o *Orchestrator) Templates() []templates.Template {
	return o.templates.List()
}

// ApplyQuickAction builds a follow-up prompt from an existing message, such
// as "summarize" or "translate:French", and sends it to every runnable
// session.
func (o *Orchestrator) ApplyQuickAction(ctx context.Context, action, messageID string) error {
	a, err := templates.ParseAction(action)
	if err != nil {
		return err
	}

	msg, ok := o.findMessage(messageID)
	if !ok {
		return ErrMessageNotFound
	}
	return o.SendMessageToAll(ctx, a.Prompt(msg.Content.String()))
}

// findMessage searches the active sessions, then history.
func (o *Orchestrator) findMessage(id string) (model.Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, list := range [][]model.Session{o.active, o.durable} {
		for _, s := range list {
			if i := s.MessageIndex(id); i >= 0 {
				return s.Messages[i].Clone(), true
			}
		}
	}
	return model.Message{}, false
}
