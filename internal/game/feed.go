package game

import (
	"context"
	"iter"
	mathrand "math/rand"
	"sync"
	"time"
)

type FeedSelector struct {
	store    FeedStore
	poolSize int

	mu   sync.Mutex
	rand *mathrand.Rand
}

func NewFeedSelector(store FeedStore, poolSize int) *FeedSelector {
	if poolSize <= 0 {
		poolSize = DefaultFeedPoolSize
	}
	return &FeedSelector{
		store:    store,
		poolSize: poolSize,
		rand:     mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
	}
}

// NextCandidates yields up to limit swipeable users in random order. The pool
// is fetched when iteration starts and the sequence can be ranged only once.
func (f *FeedSelector) NextCandidates(ctx context.Context, userID int64, limit int) iter.Seq2[User, error] {
	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	var once sync.Once
	return func(yield func(User, error) bool) {
		used := true
		once.Do(func() { used = false })
		if used {
			return
		}
		pool, err := f.store.CandidatePool(ctx, userID, f.poolSize)
		if err != nil {
			yield(User{}, err)
			return
		}
		f.shuffle(pool)
		n := 0
		for _, u := range pool {
			if n == limit {
				return
			}
			// the store already excludes these; keep the guarantee local too
			if u.UserID == userID || u.VerificationStatus != StatusVerified {
				continue
			}
			n++
			if !yield(u, nil) {
				return
			}
		}
	}
}

func (f *FeedSelector) shuffle(users []User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rand.Shuffle(len(users), func(i, j int) { users[i], users[j] = users[j], users[i] })
}

// CollectCandidates drains NextCandidates into a slice.
func (f *FeedSelector) CollectCandidates(ctx context.Context, userID int64, limit int) ([]User, error) {
	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	out := make([]User, 0, limit)
	for u, err := range f.NextCandidates(ctx, userID, limit) {
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}
