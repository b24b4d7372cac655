// Package progress tracks a running analysis and streams it to HTTP
// clients as server-sent events.
package progress

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"expectree/internal/evaluator"
)

const (
	PhaseIdle       = "idle"
	PhaseBuilding   = "building"
	PhaseEvaluating = "evaluating"
	PhaseDone       = "done"
	PhaseFailed     = "failed"
)

// Snapshot is the JSON view of a Tracker.
type Snapshot struct {
	RunID     string    `json:"run_id,omitempty"`
	Phase     string    `json:"phase"`
	StartedAt time.Time `json:"started_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
	Shards    int       `json:"shards"`
	ShardsOK  int       `json:"shards_done"`
	Games     int64     `json:"games"`
	Skipped   int64     `json:"skipped"`
	Leaves    int       `json:"leaves"`
	Evaluated int       `json:"evaluated"`
	Cached    int       `json:"cached"`
	Failed    int       `json:"failed"`
	Error     string    `json:"error,omitempty"`
}

type Tracker struct {
	mu   sync.Mutex
	snap Snapshot
	b    *Broadcaster
	now  func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{snap: Snapshot{Phase: PhaseIdle}, b: NewBroadcaster(), now: time.Now}
}

func (t *Tracker) update(fn func(s *Snapshot)) {
	t.mu.Lock()
	fn(&t.snap)
	t.snap.UpdatedAt = t.now()
	t.mu.Unlock()
	t.b.Publish()
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

func (t *Tracker) Broadcaster() *Broadcaster {
	return t.b
}

// Begin resets the tracker for a new run.
func (t *Tracker) Begin(runID string, shards int) {
	t.update(func(s *Snapshot) {
		*s = Snapshot{RunID: runID, Phase: PhaseBuilding, StartedAt: t.now(), Shards: shards}
	})
}

// ShardDone adds the games of one finished corpus shard.
func (t *Tracker) ShardDone(games, skipped int64) {
	t.update(func(s *Snapshot) {
		s.ShardsOK++
		s.Games += games
		s.Skipped += skipped
	})
}

func (t *Tracker) Evaluating(leaves int) {
	t.update(func(s *Snapshot) {
		s.Phase = PhaseEvaluating
		s.Leaves = leaves
	})
}

// Observe counts one leaf result.
func (t *Tracker) Observe(res evaluator.Result) {
	t.update(func(s *Snapshot) {
		s.Evaluated++
		switch {
		case res.Err != nil:
			s.Failed++
		case res.Cached:
			s.Cached++
		}
	})
}

// Finish marks the run done, or failed when err is not nil.
func (t *Tracker) Finish(err error) {
	t.update(func(s *Snapshot) {
		if err != nil {
			s.Phase = PhaseFailed
			s.Error = err.Error()
			return
		}
		s.Phase = PhaseDone
	})
}

// Handler serves the current snapshot as JSON.
func (t *Tracker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(t.Snapshot())
	}
}

// SSEHandler pushes a snapshot on connect and after every change.
func (t *Tracker) SSEHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		ch, unsubscribe := t.b.Subscribe()
		defer unsubscribe()

		if err := t.writeEvent(w, t.b.Seq()); err != nil {
			return
		}
		flusher.Flush()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case seq, ok := <-ch:
				if !ok {
					return
				}
				if err := t.writeEvent(w, seq); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

func (t *Tracker) writeEvent(w http.ResponseWriter, seq uint64) error {
	data, err := json.Marshal(t.Snapshot())
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: progress\ndata: ", seq); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}
