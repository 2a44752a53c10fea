// Package realtimetest provides an in-memory realtime.Notifier for tests.
package realtimetest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/telecare/telecare/internal/platform/realtime"
)

// Emission is one recorded Emit call.
type Emission struct {
	To      realtime.Target
	Event   string
	Payload interface{}
}

// Decode unmarshals the payload's JSON form into v.
func (e Emission) Decode(v interface{}) error {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Recorder records emissions. FailTargets makes Emit return Err for the
// listed targets while still recording the attempt.
type Recorder struct {
	mu          sync.Mutex
	emissions   []Emission
	FailTargets map[realtime.Target]bool
	Err         error
}

func NewRecorder() *Recorder {
	return &Recorder{FailTargets: make(map[realtime.Target]bool)}
}

func (r *Recorder) Emit(_ context.Context, to realtime.Target, event string, payload interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emissions = append(r.emissions, Emission{To: to, Event: event, Payload: payload})
	if r.FailTargets[to] {
		return r.Err
	}
	return nil
}

// All returns a copy of every recorded emission.
func (r *Recorder) All() []Emission {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Emission, len(r.emissions))
	copy(out, r.emissions)
	return out
}

// Events returns the emissions with the given event name.
func (r *Recorder) Events(event string) []Emission {
	var out []Emission
	for _, e := range r.All() {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// Reset clears recorded emissions.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.emissions = nil
	r.mu.Unlock()
}
