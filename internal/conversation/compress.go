package conversation

import (
	"bytes"
	"encoding/base64"
	"io"
	"maps"

	"github.com/chatvault/chatvault/internal/models"
	"github.com/klauspost/compress/gzip"
)

const metaContentEncoding = "content_encoding"

// maybeCompress gzips oversized string content in place, marking the message
// metadata so reads can reverse it. Structured content is left alone.
func (s *MessageStore) maybeCompress(msg *models.Message) {
	if !s.cfg.EnableCompression {
		return
	}
	str, ok := msg.Content.(string)
	if !ok || len(str) < s.cfg.CompressionThreshold {
		return
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(str)); err != nil {
		s.logger.Warn("content compression failed, storing plain", "error", err)
		return
	}
	if err := zw.Close(); err != nil {
		s.logger.Warn("content compression failed, storing plain", "error", err)
		return
	}

	msg.Content = base64.StdEncoding.EncodeToString(buf.Bytes())
	// Copy so the caller's metadata map is never mutated.
	meta := make(map[string]any, len(msg.Metadata)+1)
	maps.Copy(meta, msg.Metadata)
	meta[metaContentEncoding] = "gzip"
	msg.Metadata = meta
}

// maybeDecompress reverses maybeCompress. Undecodable content is returned
// as stored rather than dropped.
func (s *MessageStore) maybeDecompress(msg *models.Message) {
	enc, ok := msg.Metadata[metaContentEncoding].(string)
	if !ok || enc != "gzip" {
		return
	}
	str, ok := msg.Content.(string)
	if !ok {
		return
	}

	raw, err := base64.StdEncoding.DecodeString(str)
	if err != nil {
		s.logger.Warn("compressed content not base64, returning as stored",
			"message_id", msg.ID, "error", err)
		return
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		s.logger.Warn("compressed content unreadable, returning as stored",
			"message_id", msg.ID, "error", err)
		return
	}
	defer zr.Close()
	plain, err := io.ReadAll(zr)
	if err != nil {
		s.logger.Warn("compressed content unreadable, returning as stored",
			"message_id", msg.ID, "error", err)
		return
	}

	msg.Content = string(plain)
	// The stored map may still be visible to concurrently running hook
	// handlers; strip the marker on a copy instead of deleting in place.
	if len(msg.Metadata) == 1 {
		msg.Metadata = nil
		return
	}
	meta := make(map[string]any, len(msg.Metadata)-1)
	for k, v := range msg.Metadata {
		if k != metaContentEncoding {
			meta[k] = v
		}
	}
	msg.Metadata = meta
}
