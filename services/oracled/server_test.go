package oracled

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"alkahest/journal"
)

type stubStatus struct {
	status  RunStatus
	healthy bool
}

func (s stubStatus) Status() (RunStatus, bool) { return s.status, s.healthy }

func serve(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestAdminServerHealthAndReadiness(t *testing.T) {
	store := openStore(t)
	notReady := NewAdminServer(store, stubStatus{status: RunStatus{Error: "rpc down"}}, testOracle)
	require.Equal(t, http.StatusOK, serve(t, notReady, "/healthz").Code)

	rec := serve(t, notReady, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "rpc down")

	ready := NewAdminServer(store, stubStatus{status: RunStatus{RunID: "run-1"}, healthy: true}, testOracle)
	rec = serve(t, ready, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "run-1")

	require.NoError(t, store.SetCheckpoint(77))
	rec = serve(t, ready, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.EqualValues(t, 77, status["checkpoint_block"])
}

func TestAdminServerDecisions(t *testing.T) {
	store := openStore(t)
	uid := common.HexToHash("0x0badc0de")
	require.NoError(t, store.Record(journal.Entry{
		FulfillmentUID: uid,
		Oracle:         testOracle,
		Decision:       true,
		Submitted:      true,
		BlockNumber:    9,
		Phase:          "past",
		RecordedAt:     time.Unix(1_700_000_000, 0).UTC(),
	}))
	srv := NewAdminServer(store, stubStatus{healthy: true}, testOracle)

	rec := serve(t, srv, "/decisions")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Decisions []journal.Entry `json:"decisions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Decisions, 1)
	require.Equal(t, uid, list.Decisions[0].FulfillmentUID)

	rec = serve(t, srv, "/decisions/"+uid.Hex())
	require.Equal(t, http.StatusOK, rec.Code)
	var entry journal.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	require.True(t, entry.Decision)

	other := common.HexToAddress("0xbb").Hex()
	require.Equal(t, http.StatusNotFound, serve(t, srv, "/decisions/"+uid.Hex()+"?oracle="+other).Code)
	require.Equal(t, http.StatusBadRequest, serve(t, srv, "/decisions/0x1234").Code)
	require.Equal(t, http.StatusBadRequest, serve(t, srv, "/decisions/"+uid.Hex()+"?oracle=nope").Code)
	require.Equal(t, http.StatusBadRequest, serve(t, srv, "/decisions?limit=-1").Code)
}

func TestAdminServerMetrics(t *testing.T) {
	NewMetrics().RecordRestart()
	rec := serve(t, NewAdminServer(openStore(t), stubStatus{}, testOracle), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "alkahest_oracled_restarts_total")
}
