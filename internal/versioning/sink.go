package versioning

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Sink is an abstract write destination for versioned artifacts. All sinks
// are treated uniformly regardless of backend.
type Sink interface {
	Name() string
	Write(ctx context.Context, key string, data []byte) error
	FingerprintExists(ctx context.Context, key, fingerprint string) (bool, error)
}

// SinkWriteError is a per-sink failure. It is recoverable: the versioner
// isolates it and keeps writing to the remaining sinks.
type SinkWriteError struct {
	Sink string
	Key  string
	Err  error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("sink %q failed to write %q: %v", e.Sink, e.Key, e.Err)
}

func (e *SinkWriteError) Unwrap() error {
	return e.Err
}

// ErrAllSinksFailed escalates when no sink accepted the dataset. Fatal for
// the run.
var ErrAllSinksFailed = errors.New("all sinks failed")

type SinkResult struct {
	Succeeded bool   `json:"succeeded"`
	Skipped   bool   `json:"skipped"`
	Error     string `json:"error,omitempty"`
}

// Outcome maps sink name to the result of this run's write attempt. It is
// logged for observability, never persisted.
type Outcome map[string]SinkResult

func (o Outcome) Succeeded() []string {
	return o.filter(func(r SinkResult) bool { return r.Succeeded })
}

func (o Outcome) Failed() []string {
	return o.filter(func(r SinkResult) bool { return !r.Succeeded })
}

func (o Outcome) filter(keep func(SinkResult) bool) []string {
	var names []string
	for name, result := range o {
		if keep(result) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
