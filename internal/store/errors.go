package store

import (
	"errors"
	"net/http"
)

var (
	ErrContestNotFound    = errors.New("比赛不存在")
	ErrContestantNotFound = errors.New("参赛者不存在")
	ErrContestClosed      = errors.New("比赛当前不接受投票")
	ErrContestFinal       = errors.New("比赛已结束，状态不可再修改")
	ErrQuotaExhausted     = errors.New("投票名额已用完")
	ErrAlreadyVoted       = errors.New("已经为该参赛者投过票")
	ErrVoteNotFound       = errors.New("没有找到该投票记录")
	ErrInvalidInput       = errors.New("参数无效")
)

// httpStatus 把业务错误映射为HTTP状态码，未知错误视为500
func httpStatus(err error) int {
	switch {
	case errors.Is(err, ErrContestNotFound),
		errors.Is(err, ErrContestantNotFound),
		errors.Is(err, ErrVoteNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrContestClosed),
		errors.Is(err, ErrContestFinal),
		errors.Is(err, ErrQuotaExhausted),
		errors.Is(err, ErrAlreadyVoted):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// rejectReason 是拒绝原因的指标标签
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrContestNotFound):
		return "contest_not_found"
	case errors.Is(err, ErrContestantNotFound):
		return "contestant_not_found"
	case errors.Is(err, ErrVoteNotFound):
		return "vote_not_found"
	case errors.Is(err, ErrContestClosed):
		return "contest_closed"
	case errors.Is(err, ErrQuotaExhausted):
		return "quota_exhausted"
	case errors.Is(err, ErrAlreadyVoted):
		return "already_voted"
	}
	return "internal"
}
