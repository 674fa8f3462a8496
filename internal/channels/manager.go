package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/nextlevelbuilder/replygate/internal/bus"
)

// Manager manages all registered channels, handling their lifecycle
// and routing outbound messages to the correct channel.
type Manager struct {
	channels map[string]Channel
	mu       sync.RWMutex
}

// NewManager creates a new channel manager.
// Channels are registered externally via RegisterChannel.
func NewManager() *Manager {
	return &Manager{channels: make(map[string]Channel)}
}

// StartAll starts all registered channels. A channel that fails to start is
// logged and skipped; StartAll fails only when no channel could start.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.channels) == 0 {
		slog.Warn("no channels enabled")
		return nil
	}

	slog.Info("starting all channels")

	started := 0
	var lastErr error
	for name, channel := range m.channels {
		slog.Info("starting channel", "channel", name)
		if err := channel.Start(ctx); err != nil {
			slog.Error("failed to start channel", "channel", name, "error", err)
			lastErr = err
			continue
		}
		started++
	}
	if started == 0 {
		return fmt.Errorf("start channels: %w", lastErr)
	}

	slog.Info("all channels started", "count", started)
	return nil
}

// StopAll gracefully stops all channels.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	slog.Info("stopping all channels")

	for name, channel := range m.channels {
		slog.Info("stopping channel", "channel", name)
		if err := channel.Stop(ctx); err != nil {
			slog.Error("error stopping channel", "channel", name, "error", err)
		}
	}

	slog.Info("all channels stopped")
	return nil
}

// GetChannel returns a channel by name.
func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	channel, ok := m.channels[name]
	return channel, ok
}

// GetStatus returns the running status of all channels.
func (m *Manager) GetStatus() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]bool, len(m.channels))
	for name, channel := range m.channels {
		status[name] = channel.IsRunning()
	}
	return status
}

// GetEnabledChannels returns the names of all registered channels, sorted.
func (m *Manager) GetEnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterChannel adds a channel to the manager.
func (m *Manager) RegisterChannel(name string, channel Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[name] = channel
}

// UnregisterChannel removes a channel from the manager.
func (m *Manager) UnregisterChannel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, name)
}

// DropStopped unregisters every channel that is not running, typically the
// ones StartAll skipped, and returns their names sorted.
func (m *Manager) DropStopped() []string {
	var dropped []string
	for name, running := range m.GetStatus() {
		if !running {
			m.UnregisterChannel(name)
			dropped = append(dropped, name)
		}
	}
	sort.Strings(dropped)
	return dropped
}

// Send delivers msg through the channel it names.
func (m *Manager) Send(ctx context.Context, msg bus.OutboundMessage) (string, error) {
	channel, ok := m.GetChannel(msg.Channel)
	if !ok {
		return "", fmt.Errorf("channel %s not found", msg.Channel)
	}
	if !channel.IsRunning() {
		return "", fmt.Errorf("channel %s not running", msg.Channel)
	}
	return channel.Send(ctx, msg)
}

// MaxMessageLength returns the named channel's limit, or 0 when unknown.
func (m *Manager) MaxMessageLength(name string) int {
	channel, ok := m.GetChannel(name)
	if !ok {
		return 0
	}
	return channel.MaxMessageLength()
}

// MessageLength returns how the named channel counts MaxMessageLength:
// the channel's TextMeasurer when it has one, runes otherwise.
func (m *Manager) MessageLength(name string) func(string) int {
	if channel, ok := m.GetChannel(name); ok {
		if tm, ok := channel.(TextMeasurer); ok {
			return tm.MeasureText
		}
	}
	return utf8.RuneCountInString
}
