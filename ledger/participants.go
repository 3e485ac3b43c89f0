package ledger

// ParticipantRegistry is the whitelist of valid senders and receivers. The
// registry itself is maintained by an external collaborator; the ledger only
// consults it.
type ParticipantRegistry interface {
	IsParticipant(name string) bool
}

// StaticParticipants is a fixed in-memory whitelist.
type StaticParticipants map[string]struct{}

// NewStaticParticipants builds a whitelist from names.
func NewStaticParticipants(names ...string) StaticParticipants {
	set := make(StaticParticipants, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

func (s StaticParticipants) IsParticipant(name string) bool {
	_, ok := s[name]
	return ok
}
