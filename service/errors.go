package service

import (
	"context"
	"errors"
	neturl "net/url"
	"syscall"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"google.golang.org/api/googleapi"
)

// temporary is implemented by errors that may succeed on a later attempt
type temporary interface{ Temporary() bool }

type tmpError struct{ error }

func (e tmpError) Temporary() bool { return true }
func (e *tmpError) Unwrap() error  { return e.error }

// MakeTemporary marks the error as transient for Temporary
func MakeTemporary(err error) error { return &tmpError{err} }

// Temporary inspects the error chain and returns whether the failure is
// worth another attempt: errors marked with MakeTemporary, client errors
// exposing a Temporary status, rate limiting or server failures of the
// storage backends, and cancellations
func Temporary(err error) bool {
	var uerr *neturl.Error
	if errors.As(err, &uerr) {
		err = uerr.Err
	}

	// syscall.Errno implements Temporary but does not include these
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EIO, syscall.EBUSY, syscall.ECANCELED, syscall.ECONNABORTED, syscall.ECONNRESET, syscall.ENOMEM, syscall.EPIPE:
			return true
		}
	}

	var tmp temporary
	if errors.As(err, &tmp) {
		return tmp.Temporary()
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == 429 || gerr.Code >= 500
	}
	var aerr *awshttp.ResponseError
	if errors.As(err, &aerr) {
		return aerr.HTTPStatusCode() == 429 || aerr.HTTPStatusCode() >= 500
	}

	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
