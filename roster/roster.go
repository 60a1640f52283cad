/*
Package roster holds the publisher roster types and ordering rules.

PURPOSE:
  Publishers are owned by the records collaborator; this package is the
  read-only in-memory shape plus the sort rule every roster-driven
  screen shares: pioneers first, then everyone else, alphabetical by
  (last name, first name) within each tier.

The core never edits roster fields. Contact and address fields are
carried so batch payloads can be built by stripping them, not so they
can be changed here.
*/
package roster

import (
	"sort"
	"strings"
)

// PublisherID identifies a publisher in the collaborator's records.
type PublisherID int

// PublisherType is the reporting category a publisher files under.
type PublisherType int

const (
	TypePublisher        PublisherType = 1
	TypeRegularPioneer   PublisherType = 2
	TypeAuxiliaryPioneer PublisherType = 3
)

// Valid reports whether the value is one of the three known categories.
func (t PublisherType) Valid() bool {
	return t == TypePublisher || t == TypeRegularPioneer || t == TypeAuxiliaryPioneer
}

func (t PublisherType) String() string {
	switch t {
	case TypePublisher:
		return "Publicador"
	case TypeRegularPioneer:
		return "Precursor Regular"
	case TypeAuxiliaryPioneer:
		return "Precursor Auxiliar"
	default:
		return "Desconocido"
	}
}

// Privilege is an appointed position, independent of publisher type.
type Privilege int

const (
	PrivilegeNone               Privilege = 0
	PrivilegeElder              Privilege = 1
	PrivilegeMinisterialServant Privilege = 2
)

func (p Privilege) String() string {
	switch p {
	case PrivilegeElder:
		return "Anciano"
	case PrivilegeMinisterialServant:
		return "Siervo Ministerial"
	default:
		return ""
	}
}

// GroupRole marks field-service-group responsibility.
type GroupRole int

const (
	GroupRoleNone      GroupRole = 0
	GroupRoleOverseer  GroupRole = 1
	GroupRoleAssistant GroupRole = 2
)

// Publisher is one roster record as served by the collaborator.
type Publisher struct {
	ID        PublisherID
	FirstName string
	LastName  string
	Group     int
	GroupRole GroupRole
	Sex       string // "H" or "M"
	Type      PublisherType
	Privilege Privilege
	Anointed  bool

	// Contact block, carried opaquely.
	BirthDate        string
	BaptismDate      string
	Street           string
	Number           string
	Neighborhood     string
	Phone            string
	Mobile           string
	EmergencyContact string
	EmergencyPhone   string
	EmergencyEmail   string
}

// DisplayName returns "Apellidos, Nombre", the roster list form.
func (p Publisher) DisplayName() string {
	return p.LastName + ", " + p.FirstName
}

// Tier is the section a publisher sorts into. Pioneers (regular or
// auxiliary) form the elevated tier and precede all publishers; the
// boundary is exposed so list renderers can draw a separator.
type Tier int

const (
	TierPioneer   Tier = 0
	TierPublisher Tier = 1
)

func (t Tier) String() string {
	if t == TierPioneer {
		return "Precursores"
	}
	return "Publicadores"
}

// TierOf returns the sort tier for a publisher type.
func TierOf(t PublisherType) Tier {
	if t == TypeRegularPioneer || t == TypeAuxiliaryPioneer {
		return TierPioneer
	}
	return TierPublisher
}

// Less is the roster ordering: tier first, then case-insensitive
// (LastName, FirstName).
func Less(a, b Publisher) bool {
	ta, tb := TierOf(a.Type), TierOf(b.Type)
	if ta != tb {
		return ta < tb
	}
	if c := strings.Compare(fold(a.LastName), fold(b.LastName)); c != 0 {
		return c < 0
	}
	return fold(a.FirstName) < fold(b.FirstName)
}

// Sort orders publishers in place by the roster rule. The sort is
// stable so equal names keep their collaborator order.
func Sort(publishers []Publisher) {
	sort.SliceStable(publishers, func(i, j int) bool {
		return Less(publishers[i], publishers[j])
	})
}

// FilterGroup returns the publishers belonging to the given field
// service group. Group 0 selects the whole roster.
func FilterGroup(publishers []Publisher, group int) []Publisher {
	if group == 0 {
		out := make([]Publisher, len(publishers))
		copy(out, publishers)
		return out
	}
	var out []Publisher
	for _, p := range publishers {
		if p.Group == group {
			out = append(out, p)
		}
	}
	return out
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
