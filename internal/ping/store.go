package ping

import "iter"

// Store is the ping spool. Put is safe against interleaved Pending calls in
// the same process: a ping is never observable half-written.
type Store interface {
	// Put persists p under its type and document id.
	Put(p *Ping) error

	// Count returns the number of valid pings queued for pingType.
	Count(pingType string) int

	// Pending yields the queued pings of pingType in document id order.
	// Malformed files are discarded and skipped. A hard I/O error is yielded
	// once with a nil ping and ends the sequence. Breaking out of the loop
	// leaves every remaining ping in place.
	Pending(pingType string) iter.Seq2[*Ping, error]

	// Remove deletes p. Removing a ping that no longer exists is not an error.
	Remove(p *Ping) error
}

// Handler is invoked per ping by Process. Returning false leaves the ping in
// place and stops the pass.
type Handler func(uploadPath string, body []byte) bool

// Process walks every pending ping of pingType, deleting each one the handler
// accepts and stopping at the first one it does not. It returns true iff every
// discovered ping was handled and removed.
func Process(s Store, pingType string, handle Handler) bool {
	for p, err := range s.Pending(pingType) {
		if err != nil {
			return false
		}
		if !handle(p.UploadPath, p.Body) {
			return false
		}
		if err := s.Remove(p); err != nil {
			return false
		}
	}
	return true
}
