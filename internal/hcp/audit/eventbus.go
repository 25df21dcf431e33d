// Copyright 2026 The healctl Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package audit

import (
	"github.com/sirupsen/logrus"
)

// EventKind names one of the four typed messages the bus carries.
type EventKind string

const (
	EventHealingStarted      EventKind = "healing-started"
	EventHealingComplete     EventKind = "healing-complete"
	EventDeploymentStatus    EventKind = "deployment-status"
	EventKillSwitchActivated EventKind = "kill-switch-activated"
)

// Event is a single publish on the bus. Fields not relevant to Kind
// are left zero-valued.
type Event struct {
	Kind EventKind

	IncidentID        string
	SessionID         string
	Strategy          string
	UsedKnowledgeBase bool

	Result   string // success | pr_created | failed
	Message  string
	PRNumber int
	PRURL    string

	DeploymentStatus string

	ConsecutiveFailures int
	DisabledUntilUnix   int64
}

// EventBus is a publish-only, fire-and-forget sink. Publishes never
// block the orchestrator: the channel is buffered and a full buffer
// drops the event (logged), rather than stalling the caller.
type EventBus struct {
	ch          chan Event
	subscribers []func(Event)
	log         *logrus.Entry
}

// NewEventBus creates a bus with the given buffer size and starts its
// consumer goroutine. Call Close to stop it.
func NewEventBus(bufferSize int, log *logrus.Entry) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	b := &EventBus{ch: make(chan Event, bufferSize), log: log}
	go b.consume()
	return b
}

func (b *EventBus) consume() {
	for ev := range b.ch {
		b.log.WithFields(logrus.Fields{
			"event":      ev.Kind,
			"incidentId": ev.IncidentID,
			"sessionId":  ev.SessionID,
		}).Info("event bus publish")
		for _, sub := range b.subscribers {
			sub(ev)
		}
	}
}

// Subscribe registers a callback invoked for every published event, in
// emission order. Subscribers run one after another on the bus's single
// consumer goroutine, so a blocking subscriber delays every later event
// (and, once the buffer fills, causes drops); Publish itself never
// waits on a subscriber.
func (b *EventBus) Subscribe(fn func(Event)) {
	b.subscribers = append(b.subscribers, fn)
}

// Publish enqueues ev. If the buffer is full the event is dropped and
// logged, never blocking the caller.
func (b *EventBus) Publish(ev Event) {
	select {
	case b.ch <- ev:
	default:
		b.log.WithField("event", ev.Kind).Warn("event bus buffer full, dropping event")
	}
}

// Close stops the consumer goroutine once all buffered events drain.
func (b *EventBus) Close() {
	close(b.ch)
}
