package email

// Locate walks a BodyPart tree depth-first looking for the part with the
// given PartID, as attachment retrieval does once it has a stored
// part_id and needs the original node back out of the structure. Returns
// nil if no part in the tree carries that ID.
func (p BodyPart) Locate(partID string) *BodyPart {
	if p.PartID == partID {
		return &p
	}
	for _, sub := range p.SubParts {
		if found := sub.Locate(partID); found != nil {
			return found
		}
	}
	return nil
}
