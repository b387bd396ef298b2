package domain

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// EventMetadata describe cómo enrutar y decodificar un tipo de evento.
type EventMetadata struct {
	Type  reflect.Type
	Topic string
}

// EventRegistry asocia el nombre de un evento con sus metadatos.
type EventRegistry map[string]EventMetadata

// Merge devuelve un registro nuevo con las entradas de r y de others (las últimas ganan).
func (r EventRegistry) Merge(others ...EventRegistry) EventRegistry {
	merged := make(EventRegistry, len(r))
	for k, v := range r {
		merged[k] = v
	}
	for _, other := range others {
		for k, v := range other {
			merged[k] = v
		}
	}
	return merged
}

func (r EventRegistry) TopicFor(eventType string) (string, bool) {
	meta, ok := r[eventType]
	if !ok || meta.Topic == "" {
		return "", false
	}
	return meta.Topic, true
}

// Decode crea una instancia del tipo registrado y vuelca en ella el payload JSON.
// Devuelve un puntero al tipo (ej. *OrderPlaced).
func (r EventRegistry) Decode(eventType string, payload []byte) (any, error) {
	meta, ok := r[eventType]
	if !ok || meta.Type == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}

	target := reflect.New(meta.Type).Interface()
	if err := json.Unmarshal(payload, target); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	return target, nil
}
