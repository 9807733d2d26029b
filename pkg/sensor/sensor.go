// Package sensor turns cached consumption data into Home Assistant style
// sensor entities.
package sensor

import (
	"fmt"

	"github.com/simpleelforbrug/elforbrug/pkg/consumption"
	"github.com/simpleelforbrug/elforbrug/pkg/types"
)

// NewSet returns one entity per known sensor kind for entry.
func NewSet(entry types.Entry, data *consumption.Data, tariffs *consumption.Tariffs, store StateStore, publishers ...Publisher) ([]*Entity, error) {
	entities := make([]*Entity, 0, len(types.SensorDescriptions))
	for _, desc := range types.SensorDescriptions {
		if !desc.EnabledDefault {
			continue
		}
		c, err := NewCoordinator(desc.Kind, data, tariffs)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s sensor for entry %s: %w", desc.Kind, entry.ID, err)
		}
		entities = append(entities, NewEntity(entry.ID, c, store, publishers...))
	}
	return entities, nil
}
