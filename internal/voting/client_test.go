package voting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/SlpAus/contest-vote-engine/internal/contest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientContestantsFormats(t *testing.T) {
	cases := map[string]string{
		"wrapped": `{"contestants":[{"id":"a","votesCount":3,"rank":1},{"id":"b","votesCount":1}]}`,
		"bare":    ` [{"id":"a","votesCount":3},{"id":"b","votesCount":1,"rank":2}]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/contests/c1/contestants", r.URL.Path)
				assert.Equal(t, "no-store", r.Header.Get("Cache-Control"))
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			standings, err := NewClient(srv.URL, "", nil).Contestants(context.Background(), "c1")
			require.NoError(t, err)
			require.Len(t, standings, 2)
			assert.Equal(t, "a", standings[0].ContestantID)
			assert.Equal(t, int64(3), standings[0].VoteCount)
			assert.Equal(t, int64(1), standings[1].VoteCount)
		})
	}
}

func TestClientCastVoteAdoptsIssuedToken(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get(VoterTokenHeader))
		mu.Unlock()
		var req contest.VoteRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "c1", req.ContestID)
		assert.Equal(t, "a", req.ContestantID)
		w.Header().Set(VoterTokenHeader, "issued-token")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", "", nil)
	require.NoError(t, client.CastVote(context.Background(), "c1", "a"))
	require.NoError(t, client.CastVote(context.Background(), "c1", "a"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"", "issued-token"}, seen)
	assert.Equal(t, "issued-token", client.VoterToken())
}

func TestClientServerRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/contest-votes/a", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"比赛不在投票期内"}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "voter", nil).RemoveVote(context.Background(), "a")
	var rejected *ServerRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusConflict, rejected.StatusCode)
	assert.Equal(t, "比赛不在投票期内", rejected.Message)
	assert.Contains(t, err.Error(), "比赛不在投票期内")
}

func TestClientVoterLedgerNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewClient(srv.URL, "voter", nil).VoterLedger(context.Background(), "c1")
	assert.True(t, IsNotFound(err))
}
