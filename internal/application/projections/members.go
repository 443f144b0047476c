package projections

import (
	"sort"
	"time"

	"kafer/internal/domain/record"
)

// MemberSet is a set of member ids.
type MemberSet map[string]struct{}

// Contains reports whether id is in the set.
func (s MemberSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// IDs returns the members in ascending id order.
func (s MemberSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Identity is the current profile of a member.
type Identity struct {
	MemberID       string
	DisplayName    string
	PasswordSecret string
	RegisteredAt   time.Time
}

// ActiveMembers returns every member whose latest register is not followed
// by a remove.
// INVARIANT: records is not mutated; result depends only on ledger order
func ActiveMembers(records []record.Record) MemberSet {
	active := map[string]bool{}
	for _, r := range record.Sorted(records) {
		switch p := r.Payload.(type) {
		case record.Register:
			active[p.MemberID] = true
		case record.Remove:
			active[p.TargetMemberID] = false
		}
	}
	set := MemberSet{}
	for id, ok := range active {
		if ok {
			set[id] = struct{}{}
		}
	}
	return set
}

// CurrentIdentity resolves a member's display name and password from the
// latest register, superseded by later name_update and pass_update records.
// PRE: none
// POST: ok is false when the member never registered
// INVARIANT: updates ordered before the latest register are ignored
func CurrentIdentity(memberID string, records []record.Record) (Identity, bool) {
	var id Identity
	found := false
	for _, r := range record.Sorted(records) {
		switch p := r.Payload.(type) {
		case record.Register:
			if p.MemberID == memberID {
				id = Identity{
					MemberID:       memberID,
					DisplayName:    p.DisplayName,
					PasswordSecret: p.PasswordSecret,
					RegisteredAt:   r.Timestamp,
				}
				found = true
			}
		case record.NameUpdate:
			if found && p.TargetMemberID == memberID {
				id.DisplayName = p.NewName
			}
		case record.PassUpdate:
			if found && p.TargetMemberID == memberID {
				id.PasswordSecret = p.NewPasswordSecret
			}
		}
	}
	return id, found
}

// Identities resolves every registered member in one pass.
func Identities(records []record.Record) map[string]Identity {
	out := map[string]Identity{}
	for _, r := range record.Sorted(records) {
		switch p := r.Payload.(type) {
		case record.Register:
			out[p.MemberID] = Identity{
				MemberID:       p.MemberID,
				DisplayName:    p.DisplayName,
				PasswordSecret: p.PasswordSecret,
				RegisteredAt:   r.Timestamp,
			}
		case record.NameUpdate:
			if id, ok := out[p.TargetMemberID]; ok {
				id.DisplayName = p.NewName
				out[p.TargetMemberID] = id
			}
		case record.PassUpdate:
			if id, ok := out[p.TargetMemberID]; ok {
				id.PasswordSecret = p.NewPasswordSecret
				out[p.TargetMemberID] = id
			}
		}
	}
	return out
}
