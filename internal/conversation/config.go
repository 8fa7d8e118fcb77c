// Package conversation implements the conversation lifecycle: windowed
// reuse/creation with race convergence, message persistence and the event
// hook dispatcher.
package conversation

import "time"

// Config tunes conversation lifecycle behavior. Zero values are not usable;
// start from DefaultConfig.
type Config struct {
	// ReuseWindow is how far back GetOrCreateConversation looks for an
	// active conversation to continue.
	ReuseWindow time.Duration

	// MaxMessagesPerConversation caps message reads. Read limits are
	// silently clamped to this value.
	MaxMessagesPerConversation int

	// AutoCleanup enables the background janitor.
	AutoCleanup bool

	// CleanupAfter is the idle age after which a conversation is
	// soft-deactivated by cleanup.
	CleanupAfter time.Duration

	// DefaultContextLimit is the message count used by context building
	// when the caller gives no limit.
	DefaultContextLimit int

	// EnableCompression turns on transparent gzip compression of string
	// content larger than CompressionThreshold bytes.
	EnableCompression    bool
	CompressionThreshold int

	ConversationIDPrefix string
	MessageIDPrefix      string
	SummaryIDPrefix      string
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		ReuseWindow:                14 * 24 * time.Hour,
		MaxMessagesPerConversation: 10000,
		AutoCleanup:                true,
		CleanupAfter:               90 * 24 * time.Hour,
		DefaultContextLimit:        50,
		EnableCompression:          false,
		CompressionThreshold:       4096,
		ConversationIDPrefix:       "CONV_",
		MessageIDPrefix:            "MSG_",
		SummaryIDPrefix:            "SUMM_",
	}
}
