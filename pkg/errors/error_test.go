package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ErrorTestSuite struct {
	suite.Suite
}

func TestErrorSuite(t *testing.T) {
	suite.Run(t, new(ErrorTestSuite))
}

func (suite *ErrorTestSuite) TestNewError() {
	err := New(ErrCodeInvalidParameter, "invalid parameter")
	suite.NotNil(err)
	suite.Equal(ErrCodeInvalidParameter, err.Code)
	suite.Equal("invalid parameter", err.Message)
	suite.Nil(err.Cause)
}

func (suite *ErrorTestSuite) TestNewfError() {
	err := Newf(ErrCodeInvalidLeverage, "leverage %v out of range", 120.0)
	suite.NotNil(err)
	suite.Equal(ErrCodeInvalidLeverage, err.Code)
	suite.Equal("leverage 120 out of range", err.Message)
	suite.Nil(err.Cause)
}

func (suite *ErrorTestSuite) TestWrapError() {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeQueryFailed, "failed to load bars", cause)
	suite.NotNil(err)
	suite.Equal(ErrCodeQueryFailed, err.Code)
	suite.Equal("failed to load bars", err.Message)
	suite.Equal(cause, err.Cause)
}

func (suite *ErrorTestSuite) TestWrapfError() {
	cause := errors.New("underlying error")
	err := Wrapf(ErrCodeDataColumnMissing, cause, "column %q not found", "close")
	suite.NotNil(err)
	suite.Equal(ErrCodeDataColumnMissing, err.Code)
	suite.Equal(`column "close" not found`, err.Message)
	suite.Equal(cause, err.Cause)
}

func (suite *ErrorTestSuite) TestErrorString() {
	err := New(ErrCodeInvalidParameter, "invalid parameter")
	suite.Equal("[100] invalid parameter", err.Error())
}

func (suite *ErrorTestSuite) TestErrorStringWithCause() {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeDataEmpty, "no bars loaded", cause)
	suite.Equal("[200] no bars loaded: underlying error", err.Error())
}

func (suite *ErrorTestSuite) TestUnwrap() {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeQueryFailed, "query failed", cause)
	suite.Equal(cause, errors.Unwrap(err))
	suite.True(errors.Is(err, cause))
}

func (suite *ErrorTestSuite) TestGetCode() {
	err := New(ErrCodeDataNotSorted, "time index not increasing")
	suite.Equal(ErrCodeDataNotSorted, GetCode(err))
	suite.Equal(ErrCodeUnknown, GetCode(errors.New("plain")))
}

func (suite *ErrorTestSuite) TestHasCodeThroughChain() {
	inner := New(ErrCodeDataEmpty, "no bars loaded")
	wrapped := fmt.Errorf("initialize: %w", inner)
	suite.True(HasCode(wrapped, ErrCodeDataEmpty))
	suite.False(HasCode(wrapped, ErrCodeQueryFailed))
}
