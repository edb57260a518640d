package webhook

// Endpoint is one configured notification target.
type Endpoint struct {
	Name string
	URL  string
	Type string
	// Events lists the event types delivered to the endpoint. Empty means
	// run.partial and run.failed.
	Events []string
}

// Endpoint types.
const (
	TypeGeneric = "generic"
	TypeDiscord = "discord"
	TypeSlack   = "slack"
	TypeGotify  = "gotify"
)

func (e Endpoint) wants(t string) bool {
	if len(e.Events) == 0 {
		return t == "run.partial" || t == "run.failed"
	}
	for _, ev := range e.Events {
		if ev == t {
			return true
		}
	}
	return false
}
