package beacon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTeamPool(t *testing.T) {
	tests := []struct {
		name      string
		numTeams  int
		draws     []int
		hostTeam  int
		available []int
	}{
		{"single team", 1, nil, 0, []int{}},
		{"zero collapses to one", 0, nil, 0, []int{}},
		{"negative collapses to one", -3, nil, 0, []int{}},
		{"host draws first", 4, []int{0}, 0, []int{1, 2, 3}},
		{"host draws last", 4, []int{3}, 3, []int{0, 1, 2}},
		{"two teams", 2, []int{1}, 1, []int{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewTeamPool(tt.numTeams, &seqRand{draws: tt.draws})
			assert.Equal(t, tt.hostTeam, p.HostTeam())
			assert.Equal(t, tt.available, p.Available())
			assert.True(t, p.HasAvailable())
		})
	}
}

func TestTeamPool_AssignAndRelease(t *testing.T) {
	p := NewTeamPool(3, zeroRand{})
	assert.Equal(t, 3, p.NumTeams())
	assert.Equal(t, 0, p.HostTeam())

	a := p.Assign()
	b := p.Assign()
	assert.ElementsMatch(t, []int{1, 2}, []int{a, b})
	assert.False(t, p.HasAvailable())
	assert.Empty(t, p.Available())

	p.Release(b)
	assert.True(t, p.HasAvailable())
	assert.Equal(t, []int{b}, p.Available())
	assert.Equal(t, b, p.Assign())
}

func TestTeamPool_SingleTeamIsShared(t *testing.T) {
	p := NewTeamPool(1, nil)
	for i := 0; i < 5; i++ {
		assert.Equal(t, 0, p.Assign())
	}
	p.Release(0)
	assert.True(t, p.HasAvailable())
	assert.Empty(t, p.Available())
}

func TestTeamPool_AvailableIsACopy(t *testing.T) {
	p := NewTeamPool(3, zeroRand{})
	got := p.Available()
	got[0] = 99
	assert.Equal(t, []int{1, 2}, p.Available())
}
