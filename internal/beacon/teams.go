package beacon

import (
	"math/rand"
	"sort"
	"time"
)

// Rand is the randomness used for team draws. *rand.Rand satisfies it.
type Rand interface {
	Intn(n int) int
}

// NewRand returns a time-seeded generator.
func NewRand() Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// TeamPool hands out team indices to parties. With more than one team the
// host's own team is drawn at creation and never handed out.
type TeamPool struct {
	numTeams  int
	hostTeam  int
	available []int
	rng       Rand
}

// NewTeamPool creates a pool for numTeams teams. A count of one or less
// collapses to a single team 0 shared by everyone.
func NewTeamPool(numTeams int, rng Rand) *TeamPool {
	p := &TeamPool{rng: rng}
	if numTeams <= 1 {
		p.numTeams = 1
		return p
	}

	p.numTeams = numTeams
	p.available = make([]int, 0, numTeams)
	for i := 0; i < numTeams; i++ {
		p.available = append(p.available, i)
	}
	p.hostTeam = p.take()
	return p
}

// NumTeams returns the effective number of teams.
func (p *TeamPool) NumTeams() int { return p.numTeams }

// HostTeam returns the team reserved for the host.
func (p *TeamPool) HostTeam() int { return p.hostTeam }

// HasAvailable reports whether Assign can hand out a team.
func (p *TeamPool) HasAvailable() bool {
	return p.numTeams <= 1 || len(p.available) > 0
}

// Assign removes a random team from the pool and returns it.
func (p *TeamPool) Assign() int {
	if p.numTeams <= 1 {
		return 0
	}
	return p.take()
}

// Release returns a team to the pool.
func (p *TeamPool) Release(team int) {
	if p.numTeams <= 1 {
		return
	}
	p.available = append(p.available, team)
}

// Available returns the unassigned teams in ascending order.
func (p *TeamPool) Available() []int {
	out := make([]int, len(p.available))
	copy(out, p.available)
	sort.Ints(out)
	return out
}

func (p *TeamPool) take() int {
	idx := p.rng.Intn(len(p.available))
	team := p.available[idx]
	p.available = append(p.available[:idx], p.available[idx+1:]...)
	return team
}
