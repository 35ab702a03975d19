package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/tidwall/gjson"
)

// ErrDatasetNotFound is returned when no dataset is stored under an id.
var ErrDatasetNotFound = errors.New("dataset not found")

// DatasetLoader reads uploaded datasets stored as JSON record arrays under
// dataset:{id}.
type DatasetLoader struct {
	client redis.UniversalClient
}

func NewDatasetLoader(client redis.UniversalClient) *DatasetLoader {
	return &DatasetLoader{client: client}
}

func datasetKey(id string) string {
	return "dataset:" + id
}

// Load returns the dataset records.
func (d *DatasetLoader) Load(ctx context.Context, id string) ([]any, error) {
	raw, err := d.client.Get(ctx, datasetKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrDatasetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load dataset %s: %w", id, err)
	}
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsArray() {
		return nil, fmt.Errorf("dataset %s is not a JSON array of records", id)
	}
	var records []any
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode dataset %s: %w", id, err)
	}
	return records, nil
}
