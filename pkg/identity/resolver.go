// Package identity derives event identity from document names and matches local and remote events.
//
// Matching is exact and ordered: the remote id first, then the embedded link, then the (date, summary)
// natural key. The first tier with candidates decides. More than one candidate in that tier is
// ambiguous and is reported instead of guessed.
package identity

import (
	"github.com/Septikai/obsidian-google-calendar-sync/pkg/event"
)

type Match int

const (
	NoMatch Match = iota
	MatchByID
	MatchByLink
	MatchByKey
	Ambiguous
)

func (m Match) String() string {
	switch m {
	case NoMatch:
		return "none"
	case MatchByID:
		return "id"
	case MatchByLink:
		return "link"
	case MatchByKey:
		return "key"
	case Ambiguous:
		return "ambiguous"
	default:
		return "unknown"
	}
}

func (m Match) Found() bool {
	return m == MatchByID || m == MatchByLink || m == MatchByKey
}

type LocalIndex interface {
	Get(id string) (event.LocalEvent, bool)
	FindByLink(token string) []event.LocalEvent
	FindByKey(key event.Key) []event.LocalEvent
}

type RemoteIndex interface {
	Get(id string) (event.RemoteEvent, bool)
	FindByLink(token string) []event.RemoteEvent
	FindByKey(key event.Key) []event.RemoteEvent
}

// FindRemoteMatch finds the remote counterpart of a local event. Remote events already linked to a
// different local record are never matched by link or key.
func FindRemoteMatch(local event.LocalEvent, remotes RemoteIndex, locals LocalIndex) (event.RemoteEvent, Match) {
	if local.ID != "" {
		if remote, ok := remotes.Get(local.ID); ok {
			return remote, MatchByID
		}
	}
	unclaimed := func(remote event.RemoteEvent) bool {
		if remote.ID == "" || remote.ID == local.ID {
			return true
		}
		_, claimed := locals.Get(remote.ID)
		return !claimed
	}
	if local.Link != "" {
		if remote, m := decide(filter(remotes.FindByLink(local.Link), unclaimed), MatchByLink); m != NoMatch {
			return remote, m
		}
	}
	return decide(filter(remotes.FindByKey(local.Key()), unclaimed), MatchByKey)
}

// FindLocalMatch finds the local counterpart of a remote event. Local records linked to another id
// are never matched by link or key.
func FindLocalMatch(remote event.RemoteEvent, locals LocalIndex) (event.LocalEvent, Match) {
	if remote.ID != "" {
		if local, ok := locals.Get(remote.ID); ok {
			return local, MatchByID
		}
	}
	unclaimed := func(local event.LocalEvent) bool {
		return local.ID == "" || local.ID == remote.ID
	}
	if remote.Link != "" {
		if local, m := decide(filter(locals.FindByLink(remote.Link), unclaimed), MatchByLink); m != NoMatch {
			return local, m
		}
	}
	return decide(filter(locals.FindByKey(remote.Key()), unclaimed), MatchByKey)
}

func filter[E any](candidates []E, keep func(E) bool) []E {
	kept := candidates[:0:0]
	for _, c := range candidates {
		if keep(c) {
			kept = append(kept, c)
		}
	}
	return kept
}

func decide[E any](candidates []E, tier Match) (E, Match) {
	var zero E
	switch len(candidates) {
	case 0:
		return zero, NoMatch
	case 1:
		return candidates[0], tier
	default:
		return zero, Ambiguous
	}
}
