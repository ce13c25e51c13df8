package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/optionrelay/internal/broker"
	"github.com/relayforge/optionrelay/internal/catalog"
	"github.com/relayforge/optionrelay/internal/credential"
	"github.com/relayforge/optionrelay/internal/feedsession"
)

// stubCredentialStore is a minimal credential.Store that always reports no
// credential on file, which is enough for Attach/Detach: the Feed Session
// only consults it when it first connects to the broker or on AuthInvalid,
// never during Attach.
type stubCredentialStore struct{}

func (stubCredentialStore) Lookup(_ context.Context, _ string) (credential.Record, error) {
	return credential.Record{}, credential.ErrNotFound
}
func (stubCredentialStore) MarkInvalidated(_ context.Context, _ string) error { return nil }
func (stubCredentialStore) Refresh(_ context.Context, _, _ string, _ time.Time) error {
	return nil
}

// erroringDialer never connects, exercising Attach without ever reaching a
// real broker — the Feed Session's own reconnect/backoff loop absorbs the
// failure in the background.
func erroringDialer(_ context.Context, _ string) (broker.Conn, error) {
	return nil, errors.New("dial refused")
}

type auditRecorder struct {
	mu   sync.Mutex
	recs []AuditRecord
}

func (a *auditRecorder) Write(_ context.Context, rec AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, rec)
	return nil
}

func (a *auditRecorder) events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.recs))
	for i, r := range a.recs {
		out[i] = r.EventType
	}
	return out
}

func newTestRegistry(t *testing.T, audit AuditSink) *Registry {
	t.Helper()
	return New(
		context.Background(),
		feedsession.DefaultConfig(),
		catalog.New(),
		stubCredentialStore{},
		nil,
		erroringDialer,
		"ws://unused.invalid/broker",
		10*time.Millisecond, 50*time.Millisecond,
		audit,
		nil,
	)
}

func TestAttachCreatesExactlyOneSessionPerUser(t *testing.T) {
	r := newTestRegistry(t, nil)
	defer r.Shutdown()

	s1, err := r.Attach("alice")
	require.NoError(t, err)
	s2, err := r.Attach("alice")
	require.NoError(t, err)

	assert.Same(t, s1, s2, "Attach must return the existing session on re-attach")
	assert.Equal(t, 1, r.Count())
}

func TestAttachDifferentUsersGetDifferentSessions(t *testing.T) {
	r := newTestRegistry(t, nil)
	defer r.Shutdown()

	a, err := r.Attach("alice")
	require.NoError(t, err)
	b, err := r.Attach("bob")
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, 2, r.Count())
}

func TestDetachRemovesSessionAndAllowsReattach(t *testing.T) {
	r := newTestRegistry(t, nil)
	defer r.Shutdown()

	first, err := r.Attach("alice")
	require.NoError(t, err)

	r.Detach("alice")
	assert.Equal(t, 0, r.Count())

	second, err := r.Attach("alice")
	require.NoError(t, err)
	assert.NotSame(t, first, second, "Detach then Attach must create a fresh session")
}

func TestLookupWithoutAttachDoesNotCreate(t *testing.T) {
	r := newTestRegistry(t, nil)
	defer r.Shutdown()

	_, ok := r.Lookup("alice")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Count())
}

func TestAttachAndDetachRecordAudit(t *testing.T) {
	rec := &auditRecorder{}
	r := newTestRegistry(t, rec)
	defer r.Shutdown()

	_, err := r.Attach("alice")
	require.NoError(t, err)
	r.Detach("alice")

	require.Eventually(t, func() bool {
		return len(rec.events()) >= 2
	}, time.Second, 10*time.Millisecond)

	events := rec.events()
	assert.Equal(t, "attach", events[0])
	assert.Equal(t, "detach", events[1])
}
