package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peercord/internal/core/domain"
	"peercord/internal/core/ports"
	"peercord/internal/core/protocol"
)

func logMessages(v domain.View) []string {
	out := make([]string, len(v.Logs))
	for i, e := range v.Logs {
		out[i] = e.Message
	}
	return out
}

func TestLogin_DerivesIdentityAndDisablesCamera(t *testing.T) {
	h := newHarness(t)
	h.login(t, "  al!ce ")

	v := h.client.Snapshot()
	assert.Equal(t, domain.PeerID("alce-1234"), v.Session.LocalID)
	assert.Equal(t, "1234", v.Session.Discriminator())
	assert.False(t, v.LocalStatus.VideoEnabled)

	cam := trackOf(h.devices.Camera(0), domain.TrackVideo)
	assert.False(t, cam.Enabled())
	assert.Contains(t, logMessages(v), "Logged in as alce-1234")
}

func TestLogin_Errors(t *testing.T) {
	t.Run("empty username", func(t *testing.T) {
		h := newHarness(t)
		err := h.client.Login(context.Background(), "!!!")
		assert.ErrorIs(t, err, domain.ErrInvalidUsername)
		assert.Equal(t, domain.StatusLoggedOut, h.client.Snapshot().Session.Status)
	})

	t.Run("media denied", func(t *testing.T) {
		h := newHarness(t)
		h.devices.userErr = errors.New("NotAllowedError")
		err := h.client.Login(context.Background(), "alice")
		assert.ErrorIs(t, err, domain.ErrMediaPermissionDenied)

		v := h.client.Snapshot()
		assert.Equal(t, domain.StatusError, v.Session.Status)
		assert.Equal(t, domain.ErrMediaPermissionDenied.Error(), v.Session.LoginError)
	})

	t.Run("registration failure", func(t *testing.T) {
		h := newHarness(t)
		h.transport.registerErr = &ports.TransportError{Kind: ports.ErrKindUnavailableID, Message: "taken"}
		err := h.client.Login(context.Background(), "alice")
		require.Error(t, err)
		assert.Equal(t, domain.StatusError, h.client.Snapshot().Session.Status)
	})

	t.Run("twice", func(t *testing.T) {
		h := newHarness(t)
		h.login(t, "alice")
		assert.ErrorIs(t, h.client.Login(context.Background(), "alice"), domain.ErrAlreadyLoggedIn)
	})
}

func TestInitiateCall_SelfCallRejected(t *testing.T) {
	h := newHarness(t)
	h.login(t, "alice")

	err := h.client.InitiateCall("alice-1234")
	assert.ErrorIs(t, err, domain.ErrSelfCall)
	assert.Zero(t, h.transport.Connects())

	v := h.client.Snapshot()
	assert.Equal(t, domain.PhaseIdle, v.Phase)
	assert.Empty(t, v.RemoteID)
}

func TestInitiateCall_Preconditions(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.client.InitiateCall(""), domain.ErrEmptyRemoteID)
	assert.ErrorIs(t, h.client.InitiateCall("bob-1"), domain.ErrNotLoggedIn)

	h.login(t, "alice")
	h.dial(t, "bob-1")
	assert.ErrorIs(t, h.client.InitiateCall("carol-2"), domain.ErrCallInProgress)
	assert.Equal(t, 1, h.transport.Connects())
}

func TestInitiateCall_ConnectFailure(t *testing.T) {
	h := newHarness(t)
	h.login(t, "alice")
	h.transport.connectErr = errors.New("no route")

	err := h.client.InitiateCall("bob-1")
	assert.ErrorIs(t, err, domain.ErrConnectionFailed)
	assert.Equal(t, domain.PhaseIdle, h.client.Snapshot().Phase)
}

func TestDial_ConnectsOnRemoteStream(t *testing.T) {
	h := newHarness(t)
	h.login(t, "alice")

	require.NoError(t, h.client.InitiateCall("bob-1"))
	assert.Equal(t, domain.PhaseDialing, h.client.Snapshot().Phase)

	data := h.transport.LastData()
	data.Open()
	h.client.Snapshot()
	assert.Contains(t, h.presenter.Cues(), domain.CueJoin)

	statuses := data.statuses(t)
	require.Len(t, statuses, 1)
	assert.Equal(t, protocol.Status{}, statuses[0])

	remote, _, _ := newCameraStream("remote")
	h.transport.LastMedia().Stream(remote)
	v := h.client.Snapshot()
	assert.Equal(t, domain.PhaseConnected, v.Phase)
	assert.Equal(t, domain.PeerID("bob-1"), v.RemoteID)
	assert.Equal(t, 1, h.metrics.counts().callsStarted)
}

func TestIncomingCall_AcceptAndReject(t *testing.T) {
	t.Run("accept", func(t *testing.T) {
		h := newHarness(t)
		h.login(t, "alice")
		_, media := h.incoming(t, "bob-1")
		assert.Contains(t, h.presenter.Cues(), domain.CueRingtone)
		assert.Equal(t, domain.PhaseRingingInbound, h.client.Snapshot().Phase)

		require.NoError(t, h.client.AcceptCall())
		v := h.client.Snapshot()
		assert.Equal(t, domain.PhaseConnected, v.Phase)
		assert.Empty(t, v.IncomingFrom)
		assert.NotNil(t, media.answered)
		assert.ErrorIs(t, h.client.AcceptCall(), domain.ErrNoPendingCall)
	})

	t.Run("reject closes both links", func(t *testing.T) {
		h := newHarness(t)
		h.login(t, "alice")
		data, media := h.incoming(t, "bob-1")

		require.NoError(t, h.client.RejectCall())
		v := h.client.Snapshot()
		assert.Empty(t, v.RemoteID)
		assert.Empty(t, v.IncomingFrom)
		assert.Equal(t, 1, media.Closes())
		assert.Equal(t, 1, data.Closes())
		assert.ErrorIs(t, h.client.RejectCall(), domain.ErrNoPendingCall)
	})
}

func TestIncomingCall_WhileBusyIsRefused(t *testing.T) {
	h := newHarness(t)
	h.login(t, "alice")
	h.dial(t, "bob-1")

	intruder := newFakeMediaLink("carol-2")
	h.transport.Handler().OnCall(intruder)

	v := h.client.Snapshot()
	assert.Equal(t, 1, intruder.Closes())
	assert.Equal(t, domain.PeerID("bob-1"), v.RemoteID)
	assert.Equal(t, domain.PhaseConnected, v.Phase)
	assert.Contains(t, logMessages(v), "Missed call from carol-2")
}

func TestEndCall_ResetsPerCallState(t *testing.T) {
	h := newHarness(t)
	h.login(t, "alice")
	data, media := h.dial(t, "bob-1")

	data.Deliver(t, protocol.Status{Muted: true, VideoEnabled: true})
	require.True(t, h.client.Snapshot().RemoteStatus.Muted)

	require.NoError(t, h.client.EndCall())
	require.NoError(t, h.client.EndCall())

	v := h.client.Snapshot()
	assert.Equal(t, domain.PhaseEnded, v.Phase)
	assert.Equal(t, domain.StatusSnapshot{}, v.RemoteStatus)
	assert.Nil(t, v.Activity)
	assert.Equal(t, 1, media.Closes())
	assert.Equal(t, 1, data.Closes())
	assert.Contains(t, h.presenter.Cues(), domain.CueLeave)
	assert.Equal(t, 1, h.metrics.counts().callsEnded)
}

func TestRemoteHangup_TearsDownCall(t *testing.T) {
	h := newHarness(t)
	h.login(t, "alice")
	data, _ := h.dial(t, "bob-1")

	data.Hangup()
	v := h.client.Snapshot()
	assert.Equal(t, domain.PhaseEnded, v.Phase)
	assert.Contains(t, logMessages(v), "Connection lost")

	// A fresh call is possible afterwards.
	h.dial(t, "bob-1")
}

func TestPeerUnavailable_DropsDialingLink(t *testing.T) {
	h := newHarness(t)
	h.login(t, "alice")
	require.NoError(t, h.client.InitiateCall("ghost-1"))

	h.transport.Handler().OnError(&ports.TransportError{Kind: ports.ErrKindPeerUnavailable, Message: "Could not connect to peer ghost-1"})
	v := h.client.Snapshot()
	assert.Empty(t, v.RemoteID)
	assert.Contains(t, logMessages(v), domain.ErrPeerUnavailable.Error())
	assert.Equal(t, domain.StatusLoggedIn, v.Session.Status)
}

func TestRemoteStatus_ReplacedWholesale(t *testing.T) {
	h := newHarness(t)
	h.login(t, "alice")
	data, _ := h.dial(t, "bob-1")

	data.Deliver(t, protocol.Status{Deafened: true, ScreenSharing: true})
	v := h.client.Snapshot()
	assert.Equal(t, domain.StatusSnapshot{Deafened: true, ScreenSharing: true}, v.RemoteStatus)
	assert.Equal(t, domain.PinnedRemote, v.Pinned)

	data.DeliverRaw([]byte(`{"type":"status","muted":true,"deafened":false,"videoEnabled":true,"isScreenSharing":false}`))
	assert.Equal(t, domain.StatusSnapshot{Muted: true, VideoEnabled: true}, h.client.Snapshot().RemoteStatus)
}

func TestMalformedMessage_Ignored(t *testing.T) {
	h := newHarness(t)
	h.login(t, "alice")
	data, _ := h.dial(t, "bob-1")

	data.DeliverRaw([]byte(`{"type":"teleport"}`))
	data.DeliverRaw([]byte(`not json`))
	assert.Equal(t, domain.PhaseConnected, h.client.Snapshot().Phase)
}
