package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"imgpipe/internal/models"
)

// DefaultTable is the table created by the embedded migrations.
const DefaultTable = "image_metadata"

// Table is the metadata table collaborator: one document per image id.
// PutRecord overwrites any existing document; GetItem returns an error
// wrapping models.ErrNotFound when the id is unknown.
type Table interface {
	PutRecord(ctx context.Context, rec *models.MetadataRecord) error
	GetItem(ctx context.Context, id string) (models.Item, error)
	Close()
}

func encodeRecord(rec *models.MetadataRecord) (string, error) {
	if rec == nil || rec.ImageID == "" {
		return "", errors.New("record has no image id")
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeItem keeps numbers as json.Number so integers and decimals survive
// without float rounding.
func decodeItem(raw []byte) (models.Item, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var item models.Item
	if err := dec.Decode(&item); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	return item, nil
}
