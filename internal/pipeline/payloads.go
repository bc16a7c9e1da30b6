package pipeline

// FetchPayload drives occurrence_fetch_raw.
type FetchPayload struct {
	OccurrenceID string `json:"occurrence_id"`
}

// ParsePayload drives occurrence_parse.
type ParsePayload struct {
	OccurrenceID string `json:"occurrence_id"`
}

// StitchPayload drives occurrence_stitch.
type StitchPayload struct {
	OccurrenceID string `json:"occurrence_id"`
}

// RoutePayload drives ticket_apply_routing. TicketID and IsNewTicket are
// carried from the stitch stage rather than re-derived, since the
// occurrence itself doesn't record whether its stitch created a ticket.
type RoutePayload struct {
	OccurrenceID string `json:"occurrence_id"`
	TicketID     string `json:"ticket_id"`
	IsNewTicket  bool   `json:"is_new_ticket"`
}
