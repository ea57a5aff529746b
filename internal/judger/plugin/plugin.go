// Package plugin defines the contract between the worker and judge engines.
package plugin

import (
	"context"
	"sync"

	"judger/internal/judger/model"
	pkgerrors "judger/pkg/errors"
)

// ReportFunc delivers a progress snapshot for a solution. Engines must wait
// for it to return before continuing, so snapshots arrive in order.
type ReportFunc func(ctx context.Context, solution model.Solution, solutionID string) error

// Plugin is a judge engine serving one or more queue channels.
type Plugin interface {
	Initialize(cfg model.JudgerConfig) error
	Channels() []string
	Judge(ctx context.Context, job model.Job, report ReportFunc) error
}

// Registry dispatches jobs to plugins by channel.
type Registry struct {
	mu        sync.RWMutex
	byChannel map[string]Plugin
	channels  []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byChannel: make(map[string]Plugin)}
}

// Register adds p under each of its channels. A channel already served by
// another plugin is rejected and nothing is registered.
func (r *Registry) Register(p Plugin) error {
	if p == nil {
		return pkgerrors.ValidationError("plugin", "required")
	}
	channels := p.Channels()
	if len(channels) == 0 {
		return pkgerrors.ValidationError("channels", "plugin serves no channel")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool, len(channels))
	for _, ch := range channels {
		if ch == "" {
			return pkgerrors.ValidationError("channels", "empty channel name")
		}
		if _, taken := r.byChannel[ch]; taken || seen[ch] {
			return pkgerrors.Newf(pkgerrors.ValidationFailed, "channel %s already registered", ch)
		}
		seen[ch] = true
	}
	for _, ch := range channels {
		r.byChannel[ch] = p
		r.channels = append(r.channels, ch)
	}
	return nil
}

// Initialize initializes every registered plugin once.
func (r *Registry) Initialize(cfg model.JudgerConfig) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	done := make(map[Plugin]bool)
	for _, ch := range r.channels {
		p := r.byChannel[ch]
		if done[p] {
			continue
		}
		done[p] = true
		if err := p.Initialize(cfg); err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.JudgeSystemError, "initialize plugin for %s: %v", ch, err)
		}
	}
	return nil
}

// Channels returns every registered channel in registration order.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.channels...)
}

// Judge hands job to the plugin serving job.Channel.
func (r *Registry) Judge(ctx context.Context, job model.Job, report ReportFunc) error {
	r.mu.RLock()
	p, ok := r.byChannel[job.Channel]
	r.mu.RUnlock()
	if !ok {
		return pkgerrors.Newf(pkgerrors.ChannelNotSupported, "no plugin for channel %s", job.Channel)
	}
	return p.Judge(ctx, job, report)
}
