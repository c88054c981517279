package santa

// Truncate shortens name to at most limit runes.
func Truncate(name string, limit int) string {
	if limit <= 0 {
		return name
	}
	r := []rune(name)
	if len(r) <= limit {
		return name
	}
	return string(r[:limit])
}

func (s *Session) index(id int64) int {
	for i := range s.Participants {
		if s.Participants[i].ID == id {
			return i
		}
	}
	return -1
}

// Has reports whether id is on the roster.
func (s *Session) Has(id int64) bool { return s.index(id) >= 0 }

// Participant returns the roster entry for id.
func (s *Session) Participant(id int64) (Participant, bool) {
	if i := s.index(id); i >= 0 {
		return s.Participants[i], true
	}
	return Participant{}, false
}

// Name returns the stored display name for id.
func (s *Session) Name(id int64) string {
	p, _ := s.Participant(id)
	return p.Name
}

// IDs returns participant ids in join order.
func (s *Session) IDs() []int64 {
	ids := make([]int64, len(s.Participants))
	for i, p := range s.Participants {
		ids[i] = p.ID
	}
	return ids
}

// Add puts id on the roster. A participant that is already present is
// removed and appended again, which resets its join correlation id.
func (s *Session) Add(id int64, name string) error {
	if !s.Open() {
		return ErrSessionClosed
	}
	if i := s.index(id); i >= 0 {
		s.Participants = append(s.Participants[:i], s.Participants[i+1:]...)
	}
	s.Participants = append(s.Participants, Participant{
		ID:   id,
		Name: Truncate(name, s.NameLimit),
	})
	return nil
}

// Remove drops id from the roster. Removing an absent id is a no-op.
func (s *Session) Remove(id int64) error {
	if !s.Open() {
		return ErrSessionClosed
	}
	if i := s.index(id); i >= 0 {
		s.Participants = append(s.Participants[:i], s.Participants[i+1:]...)
	}
	return nil
}

// DuplicateName returns the stored name equal to candidate, if any.
// The comparison is case-sensitive and is applied after truncation.
func (s *Session) DuplicateName(candidate string) (string, bool) {
	candidate = Truncate(candidate, s.NameLimit)
	for _, p := range s.Participants {
		if p.Name == candidate {
			return p.Name, true
		}
	}
	return "", false
}

// Rename updates the display name of id and reports whether it changed.
// Renames are cosmetic and allowed in every state.
func (s *Session) Rename(id int64, name string) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	name = Truncate(name, s.NameLimit)
	if s.Participants[i].Name == name {
		return false
	}
	s.Participants[i].Name = name
	return true
}

// SetJoinCorrelation records the private join acknowledgement sent to id.
func (s *Session) SetJoinCorrelation(id int64, correlationID string) {
	if i := s.index(id); i >= 0 {
		s.Participants[i].JoinCorrelationID = correlationID
	}
}

// SetMatchCorrelation records the private message carrying id's recipient.
func (s *Session) SetMatchCorrelation(id int64, correlationID string) {
	if i := s.index(id); i >= 0 {
		s.Participants[i].MatchCorrelationID = correlationID
	}
}
