package core

// ResolveEligibleVoters returns the members whose votes count toward
// approval, in encounter order: active non-observer members, then the
// creator if not already present and not an observer. Duplicates are
// dropped, first occurrence wins.
//
// The result is derived from the current project state on every call and is
// never stored on a spending. Enforcement and display both go through here.
func ResolveEligibleVoters(p Project) []Person {
	seen := make(map[string]struct{}, len(p.Members)+1)
	out := make([]Person, 0, len(p.Members)+1)
	add := func(u User) {
		if u.ID == "" {
			return
		}
		if _, ok := seen[u.ID]; ok {
			return
		}
		seen[u.ID] = struct{}{}
		out = append(out, u.Person())
	}

	for _, m := range p.Members {
		if m.Role != MemberActive || m.User.IsObserver() {
			continue
		}
		add(m.User)
	}
	if !p.Creator.IsObserver() {
		add(p.Creator)
	}
	return out
}

// IsEligible reports whether id is in the eligible set.
func IsEligible(eligible []Person, id string) bool {
	_, ok := findPerson(eligible, id)
	return ok
}

func findPerson(people []Person, id string) (Person, bool) {
	for _, p := range people {
		if p.ID == id {
			return p, true
		}
	}
	return Person{}, false
}
