package homeassistant

import (
	"context"
	"net/url"
	"time"
)

// LogbookEntry is one row of the HA logbook. The context_* fields name
// the entity whose change caused this one, when HA knows it.
type LogbookEntry struct {
	When                time.Time `json:"when"`
	Name                string    `json:"name"`
	Message             string    `json:"message"`
	EntityID            string    `json:"entity_id"`
	State               string    `json:"state"`
	Domain              string    `json:"domain"`
	ContextEntityID     string    `json:"context_entity_id"`
	ContextEntityIDName string    `json:"context_entity_id_name"`
	ContextEventType    string    `json:"context_event_type"`
	ContextDomain       string    `json:"context_domain"`
	ContextService      string    `json:"context_service"`
}

// GetLogbook returns logbook entries between start and end, oldest
// first.
func (c *Client) GetLogbook(ctx context.Context, start, end time.Time) ([]LogbookEntry, error) {
	path := "/api/logbook/" + url.PathEscape(start.UTC().Format(time.RFC3339)) +
		"?end_time=" + url.QueryEscape(end.UTC().Format(time.RFC3339))

	var entries []LogbookEntry
	if err := c.get(ctx, path, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
