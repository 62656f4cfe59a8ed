package worker

import (
	"encoding/json"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"BatchSend/internal/email"
)

// parseAddressList decodes a JSON array of addresses, dropping invalid and
// repeated entries.
func parseAddressList(raw, kind string, log *zap.Logger) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		log.Warn("unparsable address list", zap.String("kind", kind), zap.Error(err))
		return nil
	}

	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		addr, err := mail.ParseAddress(item)
		if err != nil {
			log.Warn("invalid address dropped", zap.String("kind", kind), zap.String("address", item))
			continue
		}
		if _, dup := seen[addr.Address]; dup {
			continue
		}
		seen[addr.Address] = struct{}{}
		out = append(out, addr.Address)
	}
	log.Info("address list parsed", zap.String("kind", kind), zap.Int("count", len(out)))
	return out
}

// loadAttachments reads the JSON array of file paths once per batch.
func loadAttachments(raw string, log *zap.Logger) []email.Attachment {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var paths []string
	if err := json.Unmarshal([]byte(raw), &paths); err != nil {
		log.Warn("unparsable attachment list", zap.Error(err))
		return nil
	}
	for i := range paths {
		paths[i] = strings.TrimSpace(paths[i])
	}

	atts, skipped := email.LoadAttachments(paths)
	for path, err := range skipped {
		log.Warn("attachment skipped", zap.String("path", path), zap.Error(err))
	}
	return atts
}
