package prober

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shelfwatch/internal/catalog"
)

const availabilityJSON = `{
  "entities": {
    "bibItems": {
      "1": {
        "availability": {"status": "AVAILABLE"},
        "branch": {"name": "Tigard Public Library"},
        "collection": "Best Sellers - Not Holdable",
        "callNumber": "BLURAY ROAD"
      },
      "2": {
        "availability": {"status": "CHECKEDOUT"},
        "branch": {"name": "Beaverton City Library"},
        "collection": "Best Sellers - Not Holdable",
        "callNumber": "4K ROAD"
      }
    }
  }
}`

func TestCopiesDecodesGatewayPayload(t *testing.T) {
	t.Parallel()

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(availabilityJSON))
	}))
	t.Cleanup(srv.Close)

	g, err := New(Config{URLTemplate: srv.URL + "/bibs/%s/availability", UserAgent: "shelfwatch-test"}, zap.NewNop())
	require.NoError(t, err)

	copies, err := g.Copies(context.Background(), "abc1")
	require.NoError(t, err)
	require.Equal(t, "/bibs/abc1/availability", gotPath)
	require.Len(t, copies, 2)
	require.Contains(t, copies, catalog.Copy{
		Branch:     "Tigard Public Library",
		Status:     "AVAILABLE",
		Collection: "Best Sellers - Not Holdable",
		CallNumber: "BLURAY ROAD",
	})
	require.Contains(t, copies, catalog.Copy{
		Branch:     "Beaverton City Library",
		Status:     "CHECKEDOUT",
		Collection: "Best Sellers - Not Holdable",
		CallNumber: "4K ROAD",
	})
}

func TestCopiesUpstreamStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "throttled", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	g, err := New(Config{URLTemplate: srv.URL + "/bibs/%s/availability"}, zap.NewNop())
	require.NoError(t, err)

	_, err = g.Copies(context.Background(), "abc1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "429")
}

func TestCopiesUndecodablePayload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	t.Cleanup(srv.Close)

	g, err := New(Config{URLTemplate: srv.URL + "/bibs/%s/availability"}, zap.NewNop())
	require.NoError(t, err)

	_, err = g.Copies(context.Background(), "abc1")
	require.Error(t, err)
}

func TestNewRejectsTemplateWithoutVerb(t *testing.T) {
	t.Parallel()

	_, err := New(Config{URLTemplate: "https://gateway.example.org/availability"}, zap.NewNop())
	require.Error(t, err)
}
