package shared

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// NoticeSeverity classifies a user-facing notice
type NoticeSeverity string

const (
	NoticeSuccess NoticeSeverity = "success"
	NoticeError   NoticeSeverity = "error"
	NoticeInfo    NoticeSeverity = "info"
)

// DefaultNoticeDuration is how long a notice stays visible unless overridden
const DefaultNoticeDuration = 4 * time.Second

// Notice is a short-lived user-facing signal. The core only defines the
// contract; surfacing it (toast, banner, ...) is up to the caller.
type Notice struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Severity    NoticeSeverity `json:"severity"`
	Duration    time.Duration  `json:"duration_ms"`
}

// NewNotice creates a notice with the default duration
func NewNotice(severity NoticeSeverity, title, description string) Notice {
	return Notice{
		Title:       title,
		Description: description,
		Severity:    severity,
		Duration:    DefaultNoticeDuration,
	}
}

// Notifier receives notices emitted by the core components
type Notifier interface {
	Notify(notice Notice)
}

// NopNotifier discards all notices
type NopNotifier struct{}

func (NopNotifier) Notify(Notice) {}

// LogNotifier writes notices to the application log
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier backed by a zap logger
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(notice Notice) {
	n.logger.Info("notice",
		zap.String("severity", string(notice.Severity)),
		zap.String("title", notice.Title),
		zap.String("description", notice.Description),
	)
}

// CollectingNotifier accumulates notices; used by tests and interactive shells
type CollectingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *CollectingNotifier) Notify(notice Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

// Notices returns a copy of everything collected so far
func (n *CollectingNotifier) Notices() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notice, len(n.notices))
	copy(out, n.notices)
	return out
}

// Reset drops all collected notices
func (n *CollectingNotifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = nil
}

var _ Notifier = (*LogNotifier)(nil)
var _ Notifier = (*CollectingNotifier)(nil)
