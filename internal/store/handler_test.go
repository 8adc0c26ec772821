package store

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/SlpAus/contest-vote-engine/internal/contest"
	"github.com/SlpAus/contest-vote-engine/internal/session"
	"github.com/SlpAus/contest-vote-engine/internal/voting"
)

func (s *StoreSuite) request(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *StoreSuite) decode(w *httptest.ResponseRecorder, out any) {
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}

func (s *StoreSuite) TestHTTPVoteFlow() {
	c, cs := s.votingContest(1, "A", "B")

	w := s.request(http.MethodPost, "/contest-votes", contest.VoteRequest{ContestID: c.ID, ContestantID: cs[0].ID}, nil)
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	voterToken := w.Header().Get(VoterTokenHeader)
	s.Require().NotEmpty(voterToken, "首次请求应签发投票者令牌")
	s.Contains(w.Header().Get("Set-Cookie"), VoterCookieName+"=")
	headers := map[string]string{VoterTokenHeader: voterToken}

	w = s.request(http.MethodGet, "/contests/"+c.ID+"/my-votes", nil, headers)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Empty(w.Header().Get(VoterTokenHeader), "有效令牌不应重新签发")
	var ledger contest.VoterLedger
	s.decode(w, &ledger)
	s.Equal([]string{cs[0].ID}, ledger.ContestantIDs)
	s.Equal(1, ledger.MaxVotesPerUser)

	w = s.request(http.MethodPost, "/contest-votes", contest.VoteRequest{ContestID: c.ID, ContestantID: cs[1].ID}, headers)
	s.Equal(http.StatusConflict, w.Code)
	var errBody map[string]string
	s.decode(w, &errBody)
	s.Equal(ErrQuotaExhausted.Error(), errBody["error"])

	w = s.request(http.MethodGet, "/contests/"+c.ID+"/contestants", nil, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Equal("no-store", w.Header().Get("Cache-Control"))
	var snap struct {
		Contestants []struct {
			ID         string `json:"id"`
			VotesCount int64  `json:"votesCount"`
			Rank       int    `json:"rank"`
		} `json:"contestants"`
	}
	s.decode(w, &snap)
	s.Require().Len(snap.Contestants, 2)
	s.Equal(cs[0].ID, snap.Contestants[0].ID)
	s.Equal(int64(1), snap.Contestants[0].VotesCount)
	s.Equal(1, snap.Contestants[0].Rank)

	w = s.request(http.MethodDelete, "/contest-votes/"+cs[0].ID, nil, headers)
	s.Equal(http.StatusOK, w.Code)
	w = s.request(http.MethodDelete, "/contest-votes/"+cs[0].ID, nil, headers)
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *StoreSuite) TestHTTPInvalidRequests() {
	w := s.request(http.MethodGet, "/contests/missing", nil, nil)
	s.Equal(http.StatusNotFound, w.Code)

	w = s.request(http.MethodGet, "/contests/missing/contestants", nil, nil)
	s.Equal(http.StatusNotFound, w.Code)

	w = s.request(http.MethodPost, "/contest-votes", map[string]string{"contestId": "x"}, nil)
	s.Equal(http.StatusBadRequest, w.Code)

	w = s.request(http.MethodGet, "/contests/missing/my-votes", nil, map[string]string{VoterTokenHeader: "forged.token"})
	s.Equal(http.StatusNotFound, w.Code)
	s.NotEmpty(w.Header().Get(VoterTokenHeader), "伪造的令牌会被替换")
}

func (s *StoreSuite) TestHTTPVoterCookie() {
	c, cs := s.votingContest(2, "A")
	tok, voterID, err := s.signer.Issue()
	s.Require().NoError(err)

	req := httptest.NewRequest(http.MethodGet, "/contests/"+c.ID+"/my-votes", nil)
	req.AddCookie(&http.Cookie{Name: VoterCookieName, Value: tok})
	s.Require().NoError(s.module.Service.CastVote(s.ctx, voterID, c.ID, cs[0].ID))

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	s.Require().Equal(http.StatusOK, w.Code)
	var ledger contest.VoterLedger
	s.decode(w, &ledger)
	s.Equal([]string{cs[0].ID}, ledger.ContestantIDs)
}

func (s *StoreSuite) TestHTTPAdmin() {
	admin := map[string]string{AdminTokenHeader: testAdminToken}
	now := s.now

	w := s.request(http.MethodPost, "/admin/contests", map[string]any{"title": "x"}, nil)
	s.Equal(http.StatusForbidden, w.Code)
	w = s.request(http.MethodPost, "/admin/contests", map[string]any{"title": "x"}, map[string]string{AdminTokenHeader: "wrong"})
	s.Equal(http.StatusForbidden, w.Code)

	w = s.request(http.MethodPost, "/admin/contests", map[string]any{
		"title":           "决赛",
		"startTime":       now.Add(-time.Minute),
		"endTime":         now.Add(time.Hour),
		"maxVotesPerUser": 2,
	}, admin)
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	var created contest.Contest
	s.decode(w, &created)
	s.Equal(contest.StatusDraft, created.Status)

	w = s.request(http.MethodPost, "/admin/contests/"+created.ID+"/contestants", map[string]string{"name": "A"}, admin)
	s.Require().Equal(http.StatusCreated, w.Code)
	var cs contest.Contestant
	s.decode(w, &cs)

	w = s.request(http.MethodPut, "/admin/contests/"+created.ID+"/status", map[string]string{"status": "bogus"}, admin)
	s.Equal(http.StatusBadRequest, w.Code)
	w = s.request(http.MethodPut, "/admin/contests/"+created.ID+"/status", map[string]string{"status": "active"}, admin)
	s.Require().Equal(http.StatusOK, w.Code)

	s.Require().NoError(s.module.Service.CastVote(s.ctx, "v1", created.ID, cs.ID))

	w = s.request(http.MethodPost, "/admin/contests/"+created.ID+"/close", nil, admin)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var closed contest.Contest
	s.decode(w, &closed)
	s.Equal(contest.StatusCompleted, closed.Status)

	w = s.request(http.MethodPost, "/contest-votes", contest.VoteRequest{ContestID: created.ID, ContestantID: cs.ID}, nil)
	s.Equal(http.StatusConflict, w.Code)
}

// TestClientSessionAgainstServer 用真实的HTTP客户端和会话驱动服务端
func (s *StoreSuite) TestClientSessionAgainstServer() {
	c, cs := s.votingContest(2, "A", "B", "C")
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	client := voting.NewClient(srv.URL, "", nil)
	sess := session.New(client, c.ID, session.Options{Interval: time.Hour})
	s.Require().NoError(sess.Load(s.ctx))
	s.Require().NoError(sess.Refresh(s.ctx))

	s.Require().NoError(sess.Vote(s.ctx, cs[1].ID))
	s.Require().NoError(sess.Vote(s.ctx, cs[2].ID))
	s.ErrorIs(sess.Vote(s.ctx, cs[0].ID), voting.ErrQuotaExceeded)
	s.NotEmpty(client.VoterToken())

	// 新会话使用同一令牌，从服务端重建账本
	reloaded := session.New(voting.NewClient(srv.URL, client.VoterToken(), nil), c.ID, session.Options{Interval: time.Hour})
	s.Require().NoError(reloaded.Load(s.ctx))
	s.Equal(2, reloaded.Quota().Used)
	s.True(reloaded.HasVotedFor(cs[1].ID))

	s.Require().NoError(reloaded.RemoveVote(s.ctx, cs[1].ID))
	s.Require().NoError(reloaded.Refresh(s.ctx))
	view := reloaded.Leaderboard()
	s.Require().Len(view.Entries, 3)
	s.Equal(cs[2].ID, view.Entries[0].ContestantID)
	s.Equal(int64(1), view.Entries[0].VoteCount)

	// 服务端拒绝时本地账本不变
	_, err := s.module.Service.SetStatus(s.ctx, c.ID, "completed")
	s.Require().NoError(err)
	err = reloaded.Vote(s.ctx, cs[0].ID)
	var rejected *voting.ServerRejectedError
	s.Require().ErrorAs(err, &rejected)
	s.Equal(http.StatusConflict, rejected.StatusCode)
	s.Equal(1, reloaded.Quota().Used)
}
