package crewjobsdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crewjob/internal/domain"
	cjerrors "crewjob/internal/errors"
)

func writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "message": msg, "details": details},
	})
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(srv.URL + "/v1")
	c.BearerToken = "tok"
	return c
}

func TestGetMyParty_NoContentIsNil(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/me/party", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	})
	p, err := c.GetMyParty(context.Background())
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestGetMyParty_DecodesParty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.Party{
			ID: "p1", JobID: "heist", OwnerID: "A", RequiredCrew: 2,
			Crew: []domain.CrewMember{{ID: "A"}, {ID: "B"}},
		})
	})
	p, err := c.GetMyParty(context.Background())
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.IsComplete())
	assert.Equal(t, []string{"A", "B"}, p.MemberIDs())
}

func TestJoinParty_PartyFullDecoded(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/parties/p1/join", r.URL.Path)
		writeError(w, http.StatusConflict, "party_full", "party is full", nil)
	})
	_, err := c.JoinParty(context.Background(), "p1")
	require.Error(t, err)
	assert.ErrorIs(t, err, cjerrors.ErrPartyFull)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "party_full", apiErr.Code)
}

func TestExecuteJob_RateLimitCarriesRemainingSeconds(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "12")
		writeError(w, http.StatusTooManyRequests, "rate_limited", "slow down", map[string]any{"remaining_seconds": 12})
	})
	_, err := c.ExecuteJob(context.Background(), "courier-run")
	secs, ok := cjerrors.RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, 12, secs)
	assert.ErrorIs(t, err, cjerrors.ErrRateLimited)
}

func TestExecuteJob_RetryAfterHeaderFallback(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		writeError(w, http.StatusTooManyRequests, "restricted", "restricted", nil)
	})
	_, err := c.ExecuteJob(context.Background(), "courier-run")
	var rl *cjerrors.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, cjerrors.CodeRestricted, rl.Code)
	assert.Equal(t, 7, rl.RemainingSeconds)
}

func TestNonEnvelopeErrorIsTransport(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})
	err := c.LeaveParty(context.Background())
	assert.ErrorIs(t, err, cjerrors.ErrTransport)
}

func TestUnreachableServerIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := New(srv.URL)
	_, err := c.ListJobs(context.Background())
	assert.ErrorIs(t, err, cjerrors.ErrTransport)
}

func TestExecutePartyJob_SendsMemberIDs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/jobs/heist/execute-party", r.URL.Path)
		var body struct {
			MemberIDs []string `json:"member_ids"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"A", "B"}, body.MemberIDs)
		_ = json.NewEncoder(w).Encode(domain.JobResult{RunID: "r1", JobID: "heist", MemberIDs: body.MemberIDs})
	})
	res, err := c.ExecutePartyJob(context.Background(), "heist", []string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, "r1", res.RunID)
}

func TestLoginStoresToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{"token": "fresh", "player_id": "A"})
	})
	c.BearerToken = ""
	res, err := c.Login(context.Background(), "A", "")
	require.NoError(t, err)
	assert.Equal(t, "A", res.PlayerID)
	assert.Equal(t, "fresh", c.BearerToken)
}

func TestSetPreferredAutoJob(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "party", body["category"])
		assert.Equal(t, "heist", body["job_id"])
		w.WriteHeader(http.StatusNoContent)
	})
	require.NoError(t, c.SetPreferredAutoJob(context.Background(), domain.CategoryParty, "heist"))
}
