package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealtrack/internal/risk"
)

var testAlerts = []risk.Alert{
	{DealID: "d1", Condition: risk.ConditionDwell, Severity: risk.SeverityWarning, DedupKey: "d1:dwell"},
	{DealID: "d2", Condition: risk.ConditionDOMissing, Severity: risk.SeverityCritical, DedupKey: "d2:do_missing"},
}

func TestJSONSink(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewJSONSink(&buf).Send(context.Background(), testAlerts))

	dec := json.NewDecoder(&buf)
	for _, want := range testAlerts {
		var got risk.Alert
		require.NoError(t, dec.Decode(&got))
		assert.Equal(t, want.DedupKey, got.DedupKey)
	}
}

func TestWebhookSink(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var a risk.Alert
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&a)) {
			return
		}
		assert.NotEmpty(t, a.DedupKey)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	require.NoError(t, NewWebhookSink(ts.URL).Send(context.Background(), testAlerts))
	assert.Equal(t, int32(2), received.Load())
}

func TestWebhookSink_PartialFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var a risk.Alert
		_ = json.NewDecoder(r.Body).Decode(&a)
		if a.DealID == "d1" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	assert.NoError(t, NewWebhookSink(ts.URL).Send(context.Background(), testAlerts))
}

func TestWebhookSink_AllFail(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	err := NewWebhookSink(ts.URL).Send(context.Background(), testAlerts)
	assert.ErrorContains(t, err, "status 500")
}

type errSink struct{}

func (errSink) Send(context.Context, []risk.Alert) error { return errors.New("sink down") }

func TestMultiSink(t *testing.T) {
	a, b := &CollectSink{}, &CollectSink{}
	require.NoError(t, MultiSink{a, b}.Send(context.Background(), testAlerts))
	assert.Len(t, a.Alerts(), 2)
	assert.Len(t, b.Alerts(), 2)

	c := &CollectSink{}
	assert.Error(t, MultiSink{errSink{}, c}.Send(context.Background(), testAlerts))
	assert.Empty(t, c.Alerts())
}

func TestDiscardSink(t *testing.T) {
	assert.NoError(t, DiscardSink{}.Send(context.Background(), testAlerts))
}
