// Package queue orders a room's pending tracks by net vote score.
package queue

import (
	"slices"

	"github.com/google/uuid"

	"github.com/music-room-server/pkg/models"
)

// Entry is a track waiting in a room's queue.
type Entry struct {
	// Seq is assigned on insertion and never reused; lower means earlier.
	Seq        uint64       `json:"seq"`
	Track      models.Track `json:"track"`
	Upvotes    int          `json:"upvotes"`
	Downvotes  int          `json:"downvotes"`
	HasUpvoted bool         `json:"has_upvoted"`
}

func (e Entry) Score() int {
	return e.Upvotes - e.Downvotes
}

// Rank returns a new slice ordered by score descending, earlier Seq first
// on ties. The input is not modified.
func Rank(entries []Entry) []Entry {
	ranked := slices.Clone(entries)
	slices.SortStableFunc(ranked, compare)
	return ranked
}

func compare(a, b Entry) int {
	if sa, sb := a.Score(), b.Score(); sa != sb {
		if sa > sb {
			return -1
		}
		return 1
	}
	switch {
	case a.Seq < b.Seq:
		return -1
	case a.Seq > b.Seq:
		return 1
	default:
		return 0
	}
}

// Queue holds one client's pending entries. It is not safe for concurrent
// use; the owner serialises access.
type Queue struct {
	entries []Entry
	nextSeq uint64
}

func New() *Queue {
	return &Queue{nextSeq: 1}
}

// Push appends a track. Its Seq is the server-assigned track.Seq when set,
// so every client breaks ties the same way, and a local counter otherwise.
// A track already queued is left in place and its existing entry is returned.
func (q *Queue) Push(track models.Track, upvotes int, hasUpvoted bool) Entry {
	if i := q.index(track.ID); i >= 0 {
		return q.entries[i]
	}
	seq := track.Seq
	if seq == 0 {
		seq = q.nextSeq
	}
	e := Entry{
		Seq:        seq,
		Track:      track,
		Upvotes:    max(upvotes, 0),
		HasUpvoted: hasUpvoted,
	}
	q.nextSeq = max(q.nextSeq, seq+1)
	q.entries = append(q.entries, e)
	return e
}

// Reinsert puts back an entry that previously left the queue, keeping its
// original Seq so ranking places it where it would naturally fall.
func (q *Queue) Reinsert(e Entry) {
	if q.index(e.Track.ID) >= 0 {
		return
	}
	if e.Seq >= q.nextSeq {
		q.nextSeq = e.Seq + 1
	}
	q.entries = append(q.entries, e)
}

func (q *Queue) Remove(trackID uuid.UUID) (Entry, bool) {
	i := q.index(trackID)
	if i < 0 {
		return Entry{}, false
	}
	e := q.entries[i]
	q.entries = slices.Delete(q.entries, i, i+1)
	return e, true
}

func (q *Queue) Get(trackID uuid.UUID) (Entry, bool) {
	if i := q.index(trackID); i >= 0 {
		return q.entries[i], true
	}
	return Entry{}, false
}

// SetTally replaces the upvote count with an authoritative value.
func (q *Queue) SetTally(trackID uuid.UUID, upvotes int) bool {
	i := q.index(trackID)
	if i < 0 {
		return false
	}
	q.entries[i].Upvotes = max(upvotes, 0)
	return true
}

func (q *Queue) SetHasUpvoted(trackID uuid.UUID, voted bool) bool {
	i := q.index(trackID)
	if i < 0 {
		return false
	}
	q.entries[i].HasUpvoted = voted
	return true
}

// Top removes and returns the highest ranked entry.
func (q *Queue) Top() (Entry, bool) {
	if len(q.entries) == 0 {
		return Entry{}, false
	}
	best := 0
	for i := 1; i < len(q.entries); i++ {
		if compare(q.entries[i], q.entries[best]) < 0 {
			best = i
		}
	}
	e := q.entries[best]
	q.entries = slices.Delete(q.entries, best, best+1)
	return e, true
}

func (q *Queue) Ranked() []Entry {
	return Rank(q.entries)
}

func (q *Queue) Len() int {
	return len(q.entries)
}

func (q *Queue) index(trackID uuid.UUID) int {
	return slices.IndexFunc(q.entries, func(e Entry) bool { return e.Track.ID == trackID })
}
