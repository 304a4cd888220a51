package leadboard

import (
	"regexp"
	"strings"
	"time"
)

// Snapshot maps every stage of a pipeline to the leads it holds, in board order.
type Snapshot map[Stage][]Lead

// Count returns the number of leads on the board.
func (s Snapshot) Count() int {
	n := 0
	for _, leads := range s {
		n += len(leads)
	}
	return n
}

// Find returns the lead with the given id.
func (s Snapshot) Find(id string) (Lead, bool) {
	for _, leads := range s {
		for _, l := range leads {
			if l.ID == id {
				return l, true
			}
		}
	}
	return Lead{}, false
}

// Search returns up to limit leads whose name, email, course, or current stage
// has a word starting with query, case-insensitively. Stages are visited in
// pipeline order. A limit of zero or less means no limit.
func (s Snapshot) Search(p Pipeline, query string, limit int) []Lead {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Lead{}
	}
	re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(strings.ToLower(query)))

	found := []Lead{}
	for _, st := range p.stages {
		for _, l := range s[st.ID] {
			if re.MatchString(l.Name) ||
				re.MatchString(l.Email) ||
				re.MatchString(l.Course) ||
				re.MatchString(string(l.Stage())) {
				found = append(found, l)
				if limit > 0 && len(found) == limit {
					return found
				}
			}
		}
	}
	return found
}

// AsOf rebuilds the board as it stood on the calendar day of day, in day's
// location. A lead shows up only if its history has an entry on that day, and
// it is placed in the stage of the first such entry.
func (s Snapshot) AsOf(p Pipeline, day time.Time) Snapshot {
	loc := day.Location()
	y, m, d := day.Date()

	out := make(Snapshot, len(p.stages))
	for _, st := range p.stages {
		out[st.ID] = []Lead{}
	}
	for _, st := range p.stages {
		for _, l := range s[st.ID] {
			for _, e := range l.StatusHistory {
				ey, em, ed := e.Date.In(loc).Date()
				if ey == y && em == m && ed == d {
					if _, ok := out[e.Status]; ok {
						out[e.Status] = append(out[e.Status], l)
					}
					break
				}
			}
		}
	}
	return out
}
