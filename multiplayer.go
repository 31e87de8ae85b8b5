package bagplay

import (
	"time"

	"github.com/pkg/errors"
)

// MultiPlayer merges playback across several bags.  All bags share the same
// origin and scale; after open, the earliest message across the set maps to
// the origin and each bag keeps its internal offsets.
type MultiPlayer struct {
	players []*Player
	scale   float64

	// Registrations made before Open are replayed onto every player, in
	// order, when the players come into existence.
	pending []func(p *Player)
}

// Open opens every path in order.  Any failure closes the partially opened
// set and fails the whole open.
func (mp *MultiPlayer) Open(paths []string, origin Time, scale float64, allowFuture bool) error {
	if scale <= 0 {
		scale = 1.0
	}
	mp.scale = scale

	var firstDuration Duration
	haveFirst := false

	for _, path := range paths {
		p := NewPlayer(scale)
		if err := p.Open(path, origin, allowFuture); err != nil {
			mp.Close()
			return errors.Wrapf(err, "failed to open %q", path)
		}
		for _, register := range mp.pending {
			register(p)
		}
		mp.players = append(mp.players, p)

		if !haveFirst || p.FirstDuration().Before(firstDuration) {
			firstDuration = p.FirstDuration()
			haveFirst = true
		}
	}

	// Align every bag so the globally earliest message lands on the origin
	// while relative offsets within each bag survive.
	for _, p := range mp.players {
		p.Shift(scaledDuration(p.FirstDuration().Sub(firstDuration), scale))
	}
	return nil
}

// AddHandler registers an inflating handler on every player.
func (mp *MultiPlayer) AddHandler(topic string, cap MessageCapability, fn MessageFunc) {
	mp.register(func(p *Player) { p.AddHandler(topic, cap, fn) })
}

// AddFilteredRawHandler registers a typed raw handler on every player.
func (mp *MultiPlayer) AddFilteredRawHandler(topic string, cap MessageCapability, fn RawFunc) {
	mp.register(func(p *Player) { p.AddFilteredRawHandler(topic, cap, fn) })
}

// AddRawHandler registers a wildcard raw handler on every player.
func (mp *MultiPlayer) AddRawHandler(topic string, fn RawFunc) {
	mp.register(func(p *Player) { p.AddRawHandler(topic, fn) })
}

func (mp *MultiPlayer) register(fn func(p *Player)) {
	mp.pending = append(mp.pending, fn)
	for _, p := range mp.players {
		fn(p)
	}
}

// NextTime returns the minimum pending playback time across the set, or
// false when every player is done.
func (mp *MultiPlayer) NextTime() (Time, bool) {
	var minTime Time
	found := false
	for _, p := range mp.players {
		t, ok := p.NextTime()
		if !ok {
			continue
		}
		if !found || t.Before(minTime) {
			minTime = t
			found = true
		}
	}
	return minTime, found
}

// Advance dispatches one record from the player with the earliest pending
// playback time, ties broken by open order.  It returns true if any player
// still had records at entry.
func (mp *MultiPlayer) Advance() bool {
	var next *Player
	var minTime Time
	remaining := false

	for _, p := range mp.players {
		t, ok := p.NextTime()
		if !ok {
			continue
		}
		remaining = true
		if next == nil || t.Before(minTime) {
			next = p
			minTime = t
		}
	}

	if next != nil {
		next.Advance()
	}
	return remaining
}

// Duration returns the largest recorded span any player has reached.
func (mp *MultiPlayer) Duration() Duration {
	var d Duration
	for _, p := range mp.players {
		if d.Before(p.Duration()) {
			d = p.Duration()
		}
	}
	return d
}

// Shift moves the time translation of every player by delta.
func (mp *MultiPlayer) Shift(delta time.Duration) {
	for _, p := range mp.players {
		p.Shift(delta)
	}
}

// Close closes every player and empties the set.  It does not prevent a
// later Open, which opens a fresh set of players.
func (mp *MultiPlayer) Close() {
	for _, p := range mp.players {
		p.Close()
	}
	mp.players = nil
}
