package fanout

import (
	"encoding/json"
	"strings"

	"PRelay/tools/errs"
	"PRelay/tools/ids"
)

// Event is the broadcast payload shared across relay processes. ID is
// minted by the accepting relay and is what remote nodes dedupe on.
type Event struct {
	ID           string `json:"id,omitempty"`
	// ClientRef echoes the sender's own message token. It never takes part
	// in dedupe.
	ClientRef    string `json:"client_ref,omitempty"`
	Content      string `json:"content"`
	Sender       string `json:"sender"`
	OriginalLang string `json:"original_lang"`
	// Origin is the node id of the publishing relay.
	Origin string `json:"origin,omitempty"`
}

func (e Event) Marshal() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, errs.WrapMsg(err, "marshal event", "id", e.ID)
	}
	return b, nil
}

// DecodeEvent parses a broker payload. Publishers that predate event ids get
// one assigned here so downstream correlation still works.
func DecodeEvent(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, errs.WrapMsg(err, "decode event", "size", len(payload))
	}
	if strings.TrimSpace(ev.Content) == "" {
		return Event{}, errs.New("event has no content", "id", ev.ID)
	}
	if ev.ID == "" {
		ev.ID = ids.GenerateString()
	}
	return ev, nil
}
