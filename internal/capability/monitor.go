package capability

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultPollInterval is how often the monitor reads the clipboard.
const DefaultPollInterval = time.Second

// Monitor polls a clipboard and reports changed, non-blank content. Writes
// made through the monitor are never reported back.
type Monitor struct {
	clip     Clipboard
	interval time.Duration
	onChange func(string)
	logger   *slog.Logger

	mu   sync.Mutex
	last string
}

func NewMonitor(clip Clipboard, interval time.Duration, onChange func(string), logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		clip:     clip,
		interval: interval,
		onChange: onChange,
		logger:   logger.With("component", "clipboard_monitor"),
	}
}

// Write sets the clipboard and records text as already seen.
func (m *Monitor) Write(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.clip.Write(ctx, text); err != nil {
		return err
	}
	m.last = text
	return nil
}

// Run polls until ctx is done. Content present at start is the baseline
// and is not reported.
func (m *Monitor) Run(ctx context.Context) error {
	if initial, err := m.clip.Read(ctx); err == nil {
		m.mu.Lock()
		m.last = initial
		m.mu.Unlock()
	} else {
		m.logger.Warn("initial clipboard read failed", "error", err)
	}

	m.logger.Info("clipboard monitor started", "interval", m.interval)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	m.mu.Lock()
	text, err := m.clip.Read(ctx)
	if err != nil {
		m.mu.Unlock()
		if ctx.Err() == nil {
			m.logger.Debug("clipboard read failed", "error", err)
		}
		return
	}
	changed := text != m.last
	if changed {
		m.last = text
	}
	m.mu.Unlock()

	if changed && strings.TrimSpace(text) != "" && m.onChange != nil {
		m.logger.Debug("clipboard changed", "length", len(text))
		m.onChange(text)
	}
}
