package conn

import "errors"

// Connection-level errors, returned by Serve and wrapped by lower-level
// codec/handshake errors where relevant.
var (
	ErrUnexpectedMessage         = errors.New("conn: unexpected message for current state")
	ErrInvalidConnectApp         = errors.New("conn: invalid connect command")
	ErrInvalidTcURL              = errors.New("conn: invalid tcUrl")
	ErrInvalidChunkSize          = errors.New("conn: invalid chunk size")
	ErrInvalidPlay               = errors.New("conn: invalid play command")
	ErrInvalidPublish            = errors.New("conn: invalid publish command")
	ErrReleaseStreamWithoutStream = errors.New("conn: releaseStream without a stream name")
	ErrCreateStreamDepth         = errors.New("conn: createStream recursion too deep")
	ErrPlayNotWhitelisted        = errors.New("conn: play not allowed from this address")
)
