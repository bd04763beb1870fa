package backend

import (
	"encoding/json"
	"fmt"

	"chatfeed/pkg/models"
)

// Upstream row and profile shapes are loosely typed and drift across
// backends. DecodeRow and DecodeProfile accept the known field-name
// variants for each logical value and fall back to the zero value rather
// than failing the whole payload. Only a missing id is fatal for a row,
// since nothing downstream can merge an unidentified row.

var (
	rowIDKeys      = []string{"id", "durable_id", "receipt_id", "message_id"}
	rowAccountKeys = []string{"account", "account_id", "sender_account_id", "author"}
	rowSenderKeys  = []string{"sender", "display_name", "name", "username"}
	rowLevelKeys   = []string{"level", "sender_level"}
	rowTextKeys    = []string{"text", "body", "content", "message"}
	rowTSKeys      = []string{"ts", "created_at", "createdAt", "timestamp"}

	profileNameKeys   = []string{"sender", "display_name", "name", "handle"}
	profileAvatarKeys = []string{"avatar_url", "avatar", "image", "pfp", "picture"}
)

// DecodeRow decodes a durable row from raw JSON, tolerating field-name
// variants. Returns an error only when the payload is not an object or
// carries no recognizable id.
func DecodeRow(raw []byte) (models.Row, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return models.Row{}, fmt.Errorf("decode row: %w", err)
	}
	r := models.Row{
		ID:      firstString(obj, rowIDKeys),
		Account: firstString(obj, rowAccountKeys),
		Sender:  firstString(obj, rowSenderKeys),
		Level:   firstInt(obj, rowLevelKeys),
		Text:    firstString(obj, rowTextKeys),
		TS:      firstInt64(obj, rowTSKeys),
	}
	if r.ID == "" {
		return models.Row{}, fmt.Errorf("decode row: no id field in %d-byte payload", len(raw))
	}
	return r, nil
}

// DecodeProfile decodes an identity record from raw JSON, tolerating
// field-name variants. A profile with no recognizable avatar decodes
// cleanly with an empty URL.
func DecodeProfile(account string, raw []byte) (models.Profile, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return models.Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	return models.Profile{
		Account:   account,
		Sender:    firstString(obj, profileNameKeys),
		AvatarURL: firstString(obj, profileAvatarKeys),
	}, nil
}

func firstString(obj map[string]json.RawMessage, keys []string) string {
	for _, k := range keys {
		raw, ok := obj[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}

func firstInt(obj map[string]json.RawMessage, keys []string) int {
	return int(firstInt64(obj, keys))
}

func firstInt64(obj map[string]json.RawMessage, keys []string) int64 {
	for _, k := range keys {
		raw, ok := obj[k]
		if !ok {
			continue
		}
		var n int64
		if err := json.Unmarshal(raw, &n); err == nil {
			return n
		}
		// some backends send numerics as strings
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			var n2 int64
			if _, err := fmt.Sscanf(s, "%d", &n2); err == nil {
				return n2
			}
		}
	}
	return 0
}
