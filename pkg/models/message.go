package models

import "time"

// Broadcast is the destination address carried by messages sent to every
// node on a channel rather than to one node.
const Broadcast = "broadcast"

// Packet holds the decoded fields of one frame as handed over by a
// transport. Payload is the raw text payload; the router normalizes it to
// valid UTF-8 before anything else sees it.
type Packet struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Payload []byte `json:"payload"`
	Channel int    `json:"channel"`
}

// Message is the routing core's record of one text message. It is built
// once per routing pass and handed to collaborators by value; the id is
// source-assigned and not guaranteed unique across links.
type Message struct {
	ID         string    `json:"id"`
	SourceLink string    `json:"source_link"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Text       string    `json:"text"`
	Channel    int       `json:"channel"`
	ReceivedAt time.Time `json:"received_at"`
}
