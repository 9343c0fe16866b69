package domain

import "fmt"

// ErrPinFailed はピン留めアセットの取得失敗エラー.
type ErrPinFailed struct {
	URL string
	Err error
}

func (e *ErrPinFailed) Error() string {
	return fmt.Sprintf("failed to pin asset %s: %v", e.URL, e.Err)
}

func (e *ErrPinFailed) Unwrap() error {
	return e.Err
}

// ErrFetchFailed はオリジンへの取得失敗エラー.
type ErrFetchFailed struct {
	URL string
	Err error
}

func (e *ErrFetchFailed) Error() string {
	return fmt.Sprintf("failed to fetch %s: %v", e.URL, e.Err)
}

func (e *ErrFetchFailed) Unwrap() error {
	return e.Err
}
