package roster_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warp/congregation-engine/roster"
)

func TestSort_PioneersPrecedePublishers(t *testing.T) {
	// GIVEN: A standard publisher sorting before a pioneer by name alone
	// WHEN: Sorting with the roster rule
	// THEN: The pioneer still comes first (tier outranks name)
	pubs := []roster.Publisher{
		{ID: 1, LastName: "Alonso", FirstName: "Pedro", Type: roster.TypePublisher},
		{ID: 2, LastName: "Zamora", FirstName: "Ana", Type: roster.TypeRegularPioneer},
	}
	roster.Sort(pubs)

	assert.Equal(t, roster.PublisherID(2), pubs[0].ID, "pioneer Zamora first")
	assert.Equal(t, roster.PublisherID(1), pubs[1].ID)
}

func TestSort_WithinTierByLastThenFirstName(t *testing.T) {
	pubs := []roster.Publisher{
		{ID: 1, LastName: "García", FirstName: "Pablo", Type: roster.TypePublisher},
		{ID: 2, LastName: "García", FirstName: "Ana", Type: roster.TypePublisher},
		{ID: 3, LastName: "Alonso", FirstName: "Zoe", Type: roster.TypePublisher},
	}
	roster.Sort(pubs)

	assert.Equal(t, []roster.PublisherID{3, 2, 1},
		[]roster.PublisherID{pubs[0].ID, pubs[1].ID, pubs[2].ID})
}

func TestSort_AuxiliaryPioneerIsElevated(t *testing.T) {
	pubs := []roster.Publisher{
		{ID: 1, LastName: "Aguilar", Type: roster.TypePublisher},
		{ID: 2, LastName: "Zamora", Type: roster.TypeAuxiliaryPioneer},
	}
	roster.Sort(pubs)
	assert.Equal(t, roster.TierPioneer, roster.TierOf(pubs[0].Type))
	assert.Equal(t, roster.PublisherID(2), pubs[0].ID)
}

func TestFilterGroup(t *testing.T) {
	pubs := []roster.Publisher{
		{ID: 1, Group: 1},
		{ID: 2, Group: 2},
		{ID: 3, Group: 1},
	}

	g1 := roster.FilterGroup(pubs, 1)
	assert.Len(t, g1, 2)

	all := roster.FilterGroup(pubs, 0)
	assert.Len(t, all, 3)

	// The filtered slice is a copy; mutating it leaves the roster alone.
	all[0].Group = 9
	assert.Equal(t, 1, pubs[0].Group)
}

func TestPublisherType_Valid(t *testing.T) {
	assert.True(t, roster.TypeAuxiliaryPioneer.Valid())
	assert.False(t, roster.PublisherType(7).Valid())
}

func TestDisplayName(t *testing.T) {
	p := roster.Publisher{FirstName: "Ana", LastName: "García"}
	assert.Equal(t, "García, Ana", p.DisplayName())
}
