package utils

import (
	"encoding/json"
	"fmt"
)

// DecodePayload deserializa el payload de un mensaje y se lo pasa a handler.
func DecodePayload[T any](data json.RawMessage, handler func(T) error) error {
	var evt T
	if err := json.Unmarshal(data, &evt); err != nil {
		return fmt.Errorf("decode %T payload: %w", evt, err)
	}
	return handler(evt)
}
