package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Bind bridges a typed handler onto the watermill consumer surface: it
// decodes the payload into T and recovers panics into errors so one bad
// message cannot take the whole router down (the retry/poison middleware
// decides its fate).
func Bind[T any](fn func(ctx context.Context, ev *T) error) message.NoPublishHandlerFunc {
	return func(msg *message.Message) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()

		ev := new(T)
		if err := json.Unmarshal(msg.Payload, ev); err != nil {
			return fmt.Errorf("decode %T: %w", ev, err)
		}
		return fn(msg.Context(), ev)
	}
}
