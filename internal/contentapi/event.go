package contentapi

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/nfrund/fellowship/internal/domain"
)

var eventValidator = validator.New()

// ParseMessage decodes a message record pushed by the realtime broker. The
// broker relays what send_message.php stored, so it has the same loose
// typing as the history endpoint. channelID fills in a missing channel_id.
func ParseMessage(data []byte, channelID string) (domain.Message, error) {
	var r messageRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return domain.Message{}, fmt.Errorf("decode message event: %w", err)
	}
	if err := eventValidator.Struct(r); err != nil {
		return domain.Message{}, fmt.Errorf("incomplete message event: %w", err)
	}
	return r.toDomain(channelID), nil
}
