// Package search mirrors delivery log entries into Elasticsearch for
// administrative lookups.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"notification-pipeline/internal/common/logger"
	"notification-pipeline/internal/models"
)

const DefaultIndex = "notification-delivery-logs"

// IndexMapping keeps identifiers as keywords so history lookups are exact.
const IndexMapping = `{
  "mappings": {
    "properties": {
      "log_id":             {"type": "long"},
      "notification_id":    {"type": "keyword"},
      "trigger":            {"type": "keyword"},
      "channel":            {"type": "keyword"},
      "recipient_username": {"type": "keyword"},
      "status":             {"type": "keyword"},
      "attempts":           {"type": "integer"},
      "error":              {"type": "text"},
      "provider_metadata":  {"type": "object", "enabled": false},
      "created_at":         {"type": "date"}
    }
  }
}`

type document struct {
	LogID             int64                  `json:"log_id"`
	NotificationID    string                 `json:"notification_id"`
	Trigger           string                 `json:"trigger"`
	Channel           string                 `json:"channel"`
	RecipientUsername string                 `json:"recipient_username"`
	Status            string                 `json:"status"`
	Attempts          int                    `json:"attempts"`
	Error             string                 `json:"error,omitempty"`
	ProviderMetadata  map[string]interface{} `json:"provider_metadata,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
}

func toDocument(e *models.DeliveryLogEntry) document {
	doc := document{
		LogID:             e.ID,
		NotificationID:    e.NotificationID,
		Trigger:           e.Trigger,
		Channel:           string(e.Channel),
		RecipientUsername: e.RecipientUsername,
		Status:            string(e.Status),
		Attempts:          e.Attempts,
		ProviderMetadata:  e.ProviderMetadata,
		CreatedAt:         e.CreatedAt,
	}
	if e.Error != nil {
		doc.Error = *e.Error
	}
	return doc
}

// AuditIndexer writes delivery log entries to the audit index. Indexing is
// best effort: failures are logged and never returned. A nil *AuditIndexer
// does nothing.
type AuditIndexer struct {
	client  *elasticsearch.Client
	index   string
	timeout time.Duration
	logger  logger.Logger
}

func NewAuditIndexer(client *elasticsearch.Client, index string, log logger.Logger) *AuditIndexer {
	if index == "" {
		index = DefaultIndex
	}
	return &AuditIndexer{
		client:  client,
		index:   index,
		timeout: 5 * time.Second,
		logger:  logger.ForComponent(log, "audit-indexer"),
	}
}

func (a *AuditIndexer) Index(ctx context.Context, entry *models.DeliveryLogEntry) {
	if a == nil || a.client == nil || entry == nil {
		return
	}
	body, err := json.Marshal(toDocument(entry))
	if err != nil {
		a.logger.Warn("Failed to encode delivery log entry", map[string]interface{}{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req := esapi.IndexRequest{
		Index: a.index,
		Body:  strings.NewReader(string(body)),
	}
	if entry.ID > 0 {
		req.DocumentID = strconv.FormatInt(entry.ID, 10)
	}

	res, err := req.Do(ctx, a.client)
	if err != nil {
		a.logger.Warn("Failed to index delivery log entry", map[string]interface{}{
			"notificationId": entry.NotificationID,
			"error":          err.Error(),
		})
		return
	}
	defer res.Body.Close()

	if res.IsError() {
		a.logger.Warn("Elasticsearch rejected delivery log entry", map[string]interface{}{
			"notificationId": entry.NotificationID,
			"status":         res.Status(),
		})
	}
}

// History returns the indexed entries of one notification, oldest first.
func (a *AuditIndexer) History(ctx context.Context, notificationID string) ([]*models.DeliveryLogEntry, error) {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"notification_id": notificationID},
		},
		"sort": []interface{}{
			map[string]interface{}{"created_at": map[string]interface{}{"order": "asc"}},
		},
	}
	body, _ := json.Marshal(query)

	size := 100
	req := esapi.SearchRequest{
		Index: []string{a.index},
		Body:  strings.NewReader(string(body)),
		Size:  &size,
	}
	res, err := req.Do(ctx, a.client)
	if err != nil {
		return nil, fmt.Errorf("search delivery log: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search delivery log: %s", res.Status())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source document `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	entries := make([]*models.DeliveryLogEntry, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		d := hit.Source
		e := &models.DeliveryLogEntry{
			ID:                d.LogID,
			NotificationID:    d.NotificationID,
			Trigger:           d.Trigger,
			Channel:           models.Channel(d.Channel),
			RecipientUsername: d.RecipientUsername,
			Status:            models.Status(d.Status),
			Attempts:          d.Attempts,
			ProviderMetadata:  d.ProviderMetadata,
			CreatedAt:         d.CreatedAt,
		}
		if d.Error != "" {
			msg := d.Error
			e.Error = &msg
		}
		entries = append(entries, e)
	}
	return entries, nil
}
