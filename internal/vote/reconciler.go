// Package vote applies idempotent upvote toggles against the vote store
// and reports the store's authoritative tally back to the caller.
package vote

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/music-room-server/pkg/database"
)

var (
	ErrAlreadyVoted  = errors.New("already voted")
	ErrNoActiveVote  = errors.New("no active vote")
	ErrTrackNotFound = errors.New("track not found")
	ErrInvalidID     = errors.New("invalid id")
)

type Direction int

const (
	Upvote Direction = iota
	Retract
)

func (d Direction) String() string {
	switch d {
	case Upvote:
		return "upvote"
	case Retract:
		return "retract"
	default:
		return "unknown"
	}
}

// Store is the persistent vote ledger. CreateVote must fail with
// database.ErrDuplicate when the pair already exists and DeleteVote with
// database.ErrNotFound when it does not.
type Store interface {
	TrackExists(ctx context.Context, trackID uuid.UUID) (bool, error)
	CreateVote(ctx context.Context, participantID, trackID uuid.UUID) error
	DeleteVote(ctx context.Context, participantID, trackID uuid.UUID) error
	CountVotes(ctx context.Context, trackID uuid.UUID) (int, error)
	HasVote(ctx context.Context, participantID, trackID uuid.UUID) (bool, error)
}

type Result struct {
	TrackID  uuid.UUID `json:"track_id"`
	Tally    int       `json:"upvotes"`
	HasVoted bool      `json:"has_upvoted"`
}

type Reconciler struct {
	store Store
}

func NewReconciler(store Store) *Reconciler {
	return &Reconciler{store: store}
}

// ApplyVote records or retracts the participant's upvote. The returned
// tally is read from the store after the change, never computed locally.
func (r *Reconciler) ApplyVote(ctx context.Context, participantID, trackID string, dir Direction) (*Result, error) {
	pid, err := uuid.Parse(participantID)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "participant %q", participantID), ErrInvalidID)
	}
	tid, err := uuid.Parse(trackID)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "track %q", trackID), ErrInvalidID)
	}

	exists, err := r.store.TrackExists(ctx, tid)
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up track")
	}
	if !exists {
		return nil, ErrTrackNotFound
	}

	switch dir {
	case Upvote:
		if err := r.store.CreateVote(ctx, pid, tid); err != nil {
			if errors.Is(err, database.ErrDuplicate) {
				return nil, ErrAlreadyVoted
			}
			return nil, errors.Wrap(err, "failed to store vote")
		}
	case Retract:
		if err := r.store.DeleteVote(ctx, pid, tid); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return nil, ErrNoActiveVote
			}
			return nil, errors.Wrap(err, "failed to remove vote")
		}
	default:
		return nil, errors.Newf("unknown vote direction %d", dir)
	}

	tally, err := r.store.CountVotes(ctx, tid)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count votes")
	}
	voted, err := r.store.HasVote(ctx, pid, tid)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read vote")
	}

	return &Result{TrackID: tid, Tally: tally, HasVoted: voted}, nil
}
