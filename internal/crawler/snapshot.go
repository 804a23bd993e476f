package crawler

// Snapshot maps item IDs to their most recently observed fingerprint. It is
// built once per run and only read afterwards.
type Snapshot map[string]Fingerprint

// NewSnapshot builds a Snapshot from an event history ordered newest first.
// The first event seen for an item wins; older events for it are ignored.
func NewSnapshot(events []FingerprintEvent) Snapshot {
	snap := make(Snapshot, len(events))
	for _, evt := range events {
		if _, seen := snap[evt.ItemID]; seen {
			continue
		}
		snap[evt.ItemID] = evt.Fingerprint
	}
	return snap
}

// Lookup returns the fingerprint stored for itemID.
func (s Snapshot) Lookup(itemID string) (Fingerprint, bool) {
	fp, ok := s[itemID]
	return fp, ok
}
