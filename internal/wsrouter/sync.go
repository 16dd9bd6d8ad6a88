package wsrouter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openmates/core/internal/models"
)

type loadMoreChatsPayload struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// handleLoadMoreChats pages through a user's chats, metadata only — no
// message bodies — per §4.6's pager contract.
func handleLoadMoreChats(ctx context.Context, s *Session, payload json.RawMessage) error {
	var p loadMoreChatsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decoding load_more_chats: %w", err)
	}
	if p.Limit <= 0 {
		p.Limit = 20
	}

	page, err := s.Store.LoadMoreChats(ctx, models.UserIDHash(s.UserID), p.Offset, p.Limit)
	if err != nil {
		return err
	}
	s.Send("load_more_chats_response", page)
	return nil
}
