package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dealtrack/internal/config"
	"github.com/sells-group/dealtrack/internal/resilience"
	"github.com/sells-group/dealtrack/internal/store"
)

// initStore opens the configured backend behind the retry/circuit guard.
func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	st, err := store.Open(ctx, c.Store)
	if err != nil {
		return nil, err
	}
	guard := resilience.NewGuard(c.Store.Driver,
		resilience.FromRetryConfig(c.Resilience.MaxAttempts, c.Resilience.InitialBackoffMs, c.Resilience.MaxBackoffMs),
		resilience.FromCircuitConfig(c.Resilience.FailureThreshold, c.Resilience.ResetTimeoutSecs),
	)
	timeout := time.Duration(c.Resilience.OperationTimeoutMs) * time.Millisecond
	return store.NewGuarded(st, guard, timeout), nil
}

// storeState reports the circuit state of a guarded store, or "" for a
// bare backend.
func storeState(st store.Store) string {
	if g, ok := st.(*store.Guarded); ok {
		return g.State().String()
	}
	return ""
}

// openInput opens path for reading; "-" or "" is stdin.
func openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	return f, nil
}

// decodeList reads either a JSON array of T or a stream of T values
// (one per line or concatenated).
func decodeList[T any](r io.Reader) ([]T, error) {
	br := bufio.NewReader(r)
	for {
		b, err := br.Peek(1)
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "read input")
		}
		if !bytes.ContainsAny(b, " \t\r\n") {
			break
		}
		if _, err := br.ReadByte(); err != nil {
			return nil, eris.Wrap(err, "read input")
		}
	}

	dec := json.NewDecoder(br)
	if b, _ := br.Peek(1); len(b) == 1 && b[0] == '[' {
		var out []T
		if err := dec.Decode(&out); err != nil {
			return nil, eris.Wrap(err, "decode input array")
		}
		return out, nil
	}

	var out []T
	for {
		var v T
		err := dec.Decode(&v)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, eris.Wrapf(err, "decode input record %d", len(out)+1)
		}
		out = append(out, v)
	}
}

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "write output")
}
