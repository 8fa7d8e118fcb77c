package models

import (
	"encoding/hex"
	"reflect"

	"github.com/google/uuid"
)

// NewID returns a collision-resistant identifier with the given prefix,
// e.g. NewID("CONV_") -> "CONV_9f2c...".
func NewID(prefix string) string {
	u := uuid.New()
	return prefix + hex.EncodeToString(u[:])
}

// ConversationsEqual reports whether two conversations carry identical content.
// Timestamps are compared by instant, not by wall-clock representation, so a
// record that round-tripped through a backend with a different time encoding
// still compares equal.
func ConversationsEqual(a, b Conversation) bool {
	return a.ID == b.ID &&
		a.UserID == b.UserID &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.UpdatedAt.Equal(b.UpdatedAt) &&
		a.IsActive == b.IsActive &&
		metadataEqual(a.Metadata, b.Metadata)
}

// MessagesEqual reports whether two messages carry identical content.
func MessagesEqual(a, b Message) bool {
	return a.ID == b.ID &&
		a.ConversationID == b.ConversationID &&
		a.UserID == b.UserID &&
		a.Role == b.Role &&
		a.MessageType == b.MessageType &&
		a.Seq == b.Seq &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		reflect.DeepEqual(a.Content, b.Content) &&
		metadataEqual(a.Metadata, b.Metadata)
}

// SummariesEqual reports whether two user summaries carry identical content.
func SummariesEqual(a, b UserSummary) bool {
	return a.ID == b.ID &&
		a.UserID == b.UserID &&
		a.Content == b.Content &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.UpdatedAt.Equal(b.UpdatedAt) &&
		stringsEqual(a.ConversationIDs, b.ConversationIDs) &&
		metadataEqual(a.Metadata, b.Metadata)
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func metadataEqual(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
