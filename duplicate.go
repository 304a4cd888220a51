package leadboard

import "strings"

// NormalizeString prepares a name or email for comparison.
func NormalizeString(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizePhone keeps only the digits of a phone number.
func NormalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		// ASCII digits only.
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
}

type fingerprint struct {
	name, email, phone string
}

func fingerprintOf(name, email, phone string) fingerprint {
	return fingerprint{
		name:  NormalizeString(name),
		email: NormalizeString(email),
		phone: NormalizePhone(phone),
	}
}

func (f fingerprint) collides(o fingerprint) bool {
	return same(f.name, o.name) || same(f.email, o.email) || same(f.phone, o.phone)
}

// same treats a field left blank on either side as no match.
func same(a, b string) bool {
	return a != "" && a == b
}

// IsDuplicate reports whether the candidate shares a normalized name, email, or
// phone with any lead of the snapshot. A single field match in any stage is
// enough. Blank fields never match.
func IsDuplicate(candidate NewLead, snap Snapshot) bool {
	c := fingerprintOf(candidate.Name, candidate.Email, candidate.Phone)
	for _, leads := range snap {
		for _, l := range leads {
			if c.collides(fingerprintOf(l.Name, l.Email, l.Phone)) {
				return true
			}
		}
	}
	return false
}
