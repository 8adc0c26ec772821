package voting

import (
	"errors"
	"fmt"
	"net/http"
)

// 本地前置条件失败：不会发起网络请求，也不会修改投票账本
var (
	// ErrQuotaExceeded 表示投票名额已用完，需要先撤回一票才能继续投票
	ErrQuotaExceeded = errors.New("投票名额已用完")
	// ErrSubmissionInProgress 表示同一作用域内已有提交在进行中，调用方应在其完成后重试
	ErrSubmissionInProgress = errors.New("已有投票请求正在提交")
	// ErrAlreadyVoted 表示已经为该参赛者投过票
	ErrAlreadyVoted = errors.New("已经为该参赛者投过票")
	// ErrNotVoted 表示没有为该参赛者投过票，无法撤票
	ErrNotVoted = errors.New("尚未为该参赛者投票")
)

// NetworkError 表示传输层失败（超时、DNS、连接被重置等），可以重试
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: 网络错误: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ServerRejectedError 表示服务端返回了非2xx响应
type ServerRejectedError struct {
	Op         string
	StatusCode int
	// Message 是服务端响应体中的错误信息，可能为空
	Message string
}

func (e *ServerRejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: 服务端拒绝 (%d %s)", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s: 服务端拒绝 (%d): %s", e.Op, e.StatusCode, e.Message)
}

// IsRetryable 判断一个错误是否值得原样重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSubmissionInProgress) {
		return true
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var rejected *ServerRejectedError
	if errors.As(err, &rejected) {
		return rejected.StatusCode >= 500 || rejected.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// IsNotFound 判断错误是否是服务端返回的404
func IsNotFound(err error) bool {
	var rejected *ServerRejectedError
	return errors.As(err, &rejected) && rejected.StatusCode == http.StatusNotFound
}
