package domain

import "errors"

var (
	ErrMediaPermissionDenied = errors.New("camera/microphone access denied")
	ErrInvalidUsername       = errors.New("username must contain letters, digits, '_' or '-'")
	ErrNotLoggedIn           = errors.New("session is not logged in")
	ErrAlreadyLoggedIn       = errors.New("session already started")
	ErrNoLocalMedia          = errors.New("local media not acquired")
	ErrEmptyRemoteID         = errors.New("remote identity is empty")
	ErrSelfCall              = errors.New("cannot call yourself")
	ErrCallInProgress        = errors.New("a call is already in progress")
	ErrConnectionFailed      = errors.New("could not create connection")
	ErrNoPendingCall         = errors.New("no pending invitation")
	ErrNoActiveCall          = errors.New("no active call")
	ErrPeerUnavailable       = errors.New("user not found or offline")
	ErrChannelClosed         = errors.New("data channel is not open")
	ErrAlreadySharing        = errors.New("screen share already active")
	ErrNotSharing            = errors.New("screen share not active")
	ErrInvalidVideoLink      = errors.New("invalid YouTube link")
	ErrNoActivity            = errors.New("no matching activity running")
	ErrImageTooLarge         = errors.New("image too large")
	ErrNotAnImage            = errors.New("only images can be shared")
	ErrInvalidBlob           = errors.New("invalid data URL")
	ErrEmptyMessage          = errors.New("message is empty")
	ErrPeerNotFound          = errors.New("peer not found")
	ErrIdentityTaken         = errors.New("identity already registered")
)
