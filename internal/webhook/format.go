package webhook

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/adrien-gtd/artist-data-acquisition/internal/event"
)

// formatPayload returns the request body and content-type for a delivery.
func formatPayload(ep *Endpoint, e event.Event) ([]byte, string) {
	switch ep.Type {
	case TypeDiscord:
		return formatDiscord(e)
	case TypeSlack:
		return formatSlack(e)
	case TypeGotify:
		return formatGotify(e)
	default:
		return formatGeneric(e)
	}
}

func formatGeneric(e event.Event) ([]byte, string) {
	body, _ := json.Marshal(map[string]any{
		"event":     string(e.Type),
		"timestamp": e.Timestamp,
		"data":      e.Data,
	})
	return body, "application/json"
}

func formatDiscord(e event.Event) ([]byte, string) {
	body, _ := json.Marshal(map[string]any{
		"embeds": []map[string]any{
			{
				"title":       title(e),
				"description": describe(e),
				"color":       color(e.Type),
				"timestamp":   e.Timestamp.Format("2006-01-02T15:04:05Z"),
			},
		},
	})
	return body, "application/json"
}

func formatSlack(e event.Event) ([]byte, string) {
	body, _ := json.Marshal(map[string]any{
		"text": fmt.Sprintf("*%s*\n%s", title(e), describe(e)),
	})
	return body, "application/json"
}

func formatGotify(e event.Event) ([]byte, string) {
	priority := 5
	if e.Type == event.RunFailed {
		priority = 8
	}
	body, _ := json.Marshal(map[string]any{
		"title":    title(e),
		"message":  describe(e),
		"priority": priority,
	})
	return body, "application/json"
}

func title(e event.Event) string {
	kind, _ := e.Data["kind"].(string)
	if kind == "" {
		return "artistdata: " + string(e.Type)
	}
	return fmt.Sprintf("artistdata: %s %s", kind, strings.TrimPrefix(string(e.Type), "run."))
}

// describe renders the run summary carried in e.Data.
func describe(e event.Event) string {
	if msg, ok := e.Data["message"].(string); ok {
		return msg
	}
	if e.Data == nil {
		return string(e.Type)
	}
	b, _ := json.Marshal(e.Data)
	return string(b)
}

func color(t event.Type) int {
	switch t {
	case event.RunFailed:
		return 15158332 // red
	case event.RunPartial:
		return 15105570 // orange
	default:
		return 3066993 // green
	}
}
