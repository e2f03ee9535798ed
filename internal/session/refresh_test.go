package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newCoordinatorFixture(t *testing.T, fn RefreshFunc) (*Coordinator, *Context, *eventLog) {
	t.Helper()
	sc := NewContext(nil, nil)
	ev := &eventLog{}
	sc.Bus().Subscribe(ev.handle)
	return NewCoordinator(sc, fn, time.Second, nil), sc, ev
}

func TestCoordinator_RecoverRotatesCredential(t *testing.T) {
	var gotRefresh string
	c, sc, ev := newCoordinatorFixture(t, func(_ context.Context, p Profile, rt string) (Credential, error) {
		require.Equal(t, AudienceAdmin, p.Audience)
		gotRefresh = rt
		return Credential{AccessToken: "A2"}, nil
	})
	ctx := context.Background()
	sc.Store().Set(ctx, Credential{Audience: AudienceAdmin, AccessToken: "A1", RefreshToken: "R1"})

	cred, err := c.Recover(ctx, AudienceAdmin, "A1")
	require.NoError(t, err)
	require.Equal(t, "R1", gotRefresh)
	require.Equal(t, Credential{Audience: AudienceAdmin, AccessToken: "A2", RefreshToken: "R1"}, cred)

	stored, _ := sc.Credential(ctx, AudienceAdmin)
	require.Equal(t, cred, stored)
	require.Equal(t, 1, ev.count(EventTokenRefreshed, AudienceAdmin))
	require.Equal(t, StateIdle, c.State(AudienceAdmin))
}

func TestCoordinator_ConcurrentRecoverSharesOneCall(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	c, sc, _ := newCoordinatorFixture(t, func(context.Context, Profile, string) (Credential, error) {
		calls.Add(1)
		<-release
		return Credential{AccessToken: "T2"}, nil
	})
	ctx := context.Background()
	sc.Store().Set(ctx, Credential{Audience: AudienceUser, AccessToken: "T1", RefreshToken: "R1"})

	const n = 10
	var wg sync.WaitGroup
	results := make([]Credential, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Recover(ctx, AudienceUser, "T1")
		}(i)
	}

	require.Eventually(t, func() bool { return c.State(AudienceUser) == StateRefreshing }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, calls.Load())
	for i, r := range results {
		require.NoError(t, errs[i])
		require.Equal(t, "T2", r.AccessToken)
	}
}

func TestCoordinator_ReusesNewerStoredToken(t *testing.T) {
	var called atomic.Int32
	c, sc, ev := newCoordinatorFixture(t, func(context.Context, Profile, string) (Credential, error) {
		called.Add(1)
		return Credential{}, nil
	})
	ctx := context.Background()
	sc.Store().Set(ctx, Credential{Audience: AudienceUser, AccessToken: "T2", RefreshToken: "R1"})

	cred, err := c.Recover(ctx, AudienceUser, "T1")
	require.NoError(t, err)
	require.Equal(t, "T2", cred.AccessToken)
	require.Empty(t, ev.all())
	require.Zero(t, called.Load())
}

func TestCoordinator_RejectionTerminates(t *testing.T) {
	rejected := &Error{Kind: KindSessionTerminal, Status: 401, Message: "Invalid refresh token"}
	c, sc, ev := newCoordinatorFixture(t, func(context.Context, Profile, string) (Credential, error) {
		return Credential{}, rejected
	})
	ctx := context.Background()
	sc.Store().Set(ctx, Credential{Audience: AudienceEmployee, AccessToken: "S1", RefreshToken: "SR1"})

	_, err := c.Recover(ctx, AudienceEmployee, "S1")
	require.ErrorIs(t, err, ErrRefreshRejected)
	require.ErrorIs(t, err, rejected)
	require.False(t, sc.Store().Has(ctx, AudienceEmployee))
	require.Empty(t, sc.Store().RefreshToken(ctx, AudienceEmployee))

	evs := ev.all()
	require.Len(t, evs, 1)
	require.Equal(t, EventLoggedOut, evs[0].Kind)
	require.Equal(t, ReasonRefreshFailed, evs[0].Reason)
}

func TestCoordinator_EmptyTokenIsRejection(t *testing.T) {
	c, sc, _ := newCoordinatorFixture(t, func(context.Context, Profile, string) (Credential, error) {
		return Credential{}, nil
	})
	ctx := context.Background()
	sc.Store().Set(ctx, Credential{Audience: AudienceUser, AccessToken: "T1", RefreshToken: "R1"})

	_, err := c.Recover(ctx, AudienceUser, "T1")
	require.ErrorIs(t, err, ErrRefreshRejected)
	require.False(t, sc.Store().Has(ctx, AudienceUser))
}

func TestCoordinator_NetworkFailureKeepsSession(t *testing.T) {
	c, sc, ev := newCoordinatorFixture(t, func(context.Context, Profile, string) (Credential, error) {
		return Credential{}, &Error{Kind: KindNetwork, Err: errors.New("connection refused")}
	})
	ctx := context.Background()
	sc.Store().Set(ctx, Credential{Audience: AudienceUser, AccessToken: "T1", RefreshToken: "R1"})

	_, err := c.Recover(ctx, AudienceUser, "T1")
	require.Equal(t, KindNetwork, KindOf(err))
	require.True(t, sc.Store().Has(ctx, AudienceUser))
	require.Empty(t, ev.all())
}

func TestCoordinator_NoRefreshToken(t *testing.T) {
	var called atomic.Int32
	c, sc, ev := newCoordinatorFixture(t, func(context.Context, Profile, string) (Credential, error) {
		called.Add(1)
		return Credential{}, nil
	})
	ctx := context.Background()

	_, err := c.Recover(ctx, AudienceAdmin, "")
	require.ErrorIs(t, err, ErrNoCredential)
	require.Empty(t, ev.all(), "nothing stored, nothing to announce")

	sc.Store().Set(ctx, Credential{Audience: AudienceAdmin, AccessToken: "A1"})
	_, err = c.Recover(ctx, AudienceAdmin, "A1")
	require.ErrorIs(t, err, ErrNoRefreshToken)
	require.Equal(t, 1, ev.count(EventLoggedOut, AudienceAdmin))
	require.Zero(t, called.Load())
}

func TestCoordinator_AudiencesAreIndependent(t *testing.T) {
	release := make(chan struct{})
	var calls sync.Map
	c, sc, _ := newCoordinatorFixture(t, func(_ context.Context, p Profile, _ string) (Credential, error) {
		v, _ := calls.LoadOrStore(p.Audience, new(atomic.Int32))
		v.(*atomic.Int32).Add(1)
		if p.Audience == AudienceUser {
			<-release
		}
		return Credential{AccessToken: "new-" + p.Audience.String()}, nil
	})
	ctx := context.Background()
	sc.Store().Set(ctx, Credential{Audience: AudienceUser, AccessToken: "U1", RefreshToken: "UR"})
	sc.Store().Set(ctx, Credential{Audience: AudienceAdmin, AccessToken: "A1", RefreshToken: "AR"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Recover(ctx, AudienceUser, "U1")
	}()
	require.Eventually(t, func() bool { return c.State(AudienceUser) == StateRefreshing }, time.Second, time.Millisecond)

	// admin no espera al vuelo de user
	cred, err := c.Recover(ctx, AudienceAdmin, "A1")
	require.NoError(t, err)
	require.Equal(t, "new-admin", cred.AccessToken)

	close(release)
	<-done
}
