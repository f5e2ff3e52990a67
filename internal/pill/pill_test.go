package pill

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourceops/cloud-custodian/internal/fixture"
	"github.com/sourceops/cloud-custodian/internal/session"
)

// fakeCloud answers every call with the next canned body and counts live calls.
type fakeCloud struct {
	bodies []string
	calls  int
}

func (f *fakeCloud) Handle(ctx context.Context, req *session.Request) (*session.Response, error) {
	body := `{}`
	if f.calls < len(f.bodies) {
		body = f.bodies[f.calls]
	}
	f.calls++
	return &session.Response{StatusCode: 200, Body: json.RawMessage(body)}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func recordCalls(t *testing.T, st *fixture.Store, name string, ops []string, bodies []string) *fakeCloud {
	t.Helper()
	cloud := &fakeCloud{bodies: bodies}
	sess := session.New(cloud)

	p, err := Attach(sess, st, name, ModeRecord, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, p.Record())
	defer p.Stop()

	for _, op := range ops {
		var out map[string]any
		require.NoError(t, sess.Call(context.Background(), "ec2", op, map[string]string{"op": op}, &out))
	}
	return cloud
}

func TestRecordThenReplay_RoundTrip(t *testing.T) {
	st := fixture.NewStore(t.TempDir())
	ops := []string{"DescribeInstances", "DescribeTags", "DescribeVolumes"}
	bodies := []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}

	cloud := recordCalls(t, st, "round-trip", ops, bodies)
	assert.Equal(t, 3, cloud.calls)

	sess := session.New(nil)
	p, err := Attach(sess, st, "round-trip", ModeReplay, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, p.Playback())
	defer p.Stop()

	for i, op := range ops {
		resp, err := sess.Invoke(context.Background(), &session.Request{Service: "ec2", Method: op})
		require.NoError(t, err)
		assert.Equal(t, bodies[i], string(resp.Body), "call %d", i)
		assert.Equal(t, 200, resp.StatusCode)
	}
	assert.Equal(t, 3, p.Calls())
}

func TestReplay_ListInstancesScenario(t *testing.T) {
	st := fixture.NewStore(t.TempDir())
	listing := `{"Instances":[{"InstanceId":"i-aaa"},{"InstanceId":"i-bbb"}]}`

	cloud := recordCalls(t, st, "list-instances", []string{"DescribeInstances"}, []string{listing})
	require.Equal(t, 1, cloud.calls)

	c, err := st.Open("list-instances")
	require.NoError(t, err)
	entries, err := c.ListEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 0, entries[0].Index)
	assert.Equal(t, listing, string(entries[0].Response))

	replayCloud := &fakeCloud{}
	sess := session.New(replayCloud)
	p, err := Attach(sess, st, "list-instances", ModeReplay, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, p.Playback())
	defer p.Stop()

	var out struct {
		Instances []struct{ InstanceId string }
	}
	require.NoError(t, sess.Call(context.Background(), "ec2", "DescribeInstances", nil, &out))
	require.Len(t, out.Instances, 2)
	assert.Equal(t, "i-aaa", out.Instances[0].InstanceId)
	assert.Equal(t, "i-bbb", out.Instances[1].InstanceId)
	assert.Equal(t, 0, replayCloud.calls, "replay must not reach the transport")
}

func TestReplay_OverCallFailsOnExtraCallOnly(t *testing.T) {
	st := fixture.NewStore(t.TempDir())
	recordCalls(t, st, "over-call", []string{"A", "B"}, nil)

	sess := session.New(nil)
	p, err := Attach(sess, st, "over-call", ModeReplay, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, p.Playback())
	defer p.Stop()

	require.NoError(t, sess.Call(context.Background(), "ec2", "A", nil, nil))
	require.NoError(t, sess.Call(context.Background(), "ec2", "B", nil, nil))

	err = sess.Call(context.Background(), "ec2", "C", nil, nil)
	require.Error(t, err)
	assert.True(t, fixture.IsFixtureNotFound(err))

	var fe *fixture.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "over-call", fe.TestCase)
	assert.Equal(t, 2, fe.Index)
	assert.Equal(t, "ec2.C", fe.Operation)
}

func TestReplay_OrderOnlyMatching(t *testing.T) {
	st := fixture.NewStore(t.TempDir())
	recordCalls(t, st, "reordered", []string{"First", "Second"}, []string{`{"who":"first"}`, `{"who":"second"}`})

	var logs bytes.Buffer
	sess := session.New(nil)
	p, err := Attach(sess, st, "reordered", ModeReplay,
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	require.NoError(t, err)
	require.NoError(t, p.Playback())
	defer p.Stop()

	// Calls issued in the opposite order still get entries by position.
	resp, err := sess.Invoke(context.Background(), &session.Request{Service: "ec2", Method: "Second"})
	require.NoError(t, err)
	assert.Equal(t, `{"who":"first"}`, string(resp.Body))
	assert.Contains(t, logs.String(), "different operation")
}

func TestReplay_MissingDirectoryRejectedAtAttach(t *testing.T) {
	st := fixture.NewStore(t.TempDir())
	sess := session.New(nil)

	_, err := Attach(sess, st, "never-recorded", ModeReplay)
	require.Error(t, err)
	assert.True(t, fixture.IsInvalidFixtureDirectory(err))
	assert.False(t, sess.Has(MiddlewareName))
}

func TestRecord_APIErrorIsRecordedAndReplayed(t *testing.T) {
	st := fixture.NewStore(t.TempDir())
	denied := &session.APIError{Code: "UnauthorizedOperation", Message: "denied", StatusCode: 403}

	live := session.New(session.HandlerFunc(func(ctx context.Context, req *session.Request) (*session.Response, error) {
		return nil, denied
	}))
	p, err := Attach(live, st, "api-error", ModeRecord, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, p.Record())

	err = live.Call(context.Background(), "ec2", "TerminateInstances", nil, nil)
	assert.Same(t, denied, err)
	p.Stop()

	sess := session.New(nil)
	rp, err := Attach(sess, st, "api-error", ModeReplay, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, rp.Playback())
	defer rp.Stop()

	err = sess.Call(context.Background(), "ec2", "TerminateInstances", nil, nil)
	var apiErr *session.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, *denied, *apiErr)
}

func TestRecord_TransportFailureNotRecorded(t *testing.T) {
	st := fixture.NewStore(t.TempDir())
	boom := errors.New("connection reset")
	sess := session.New(session.HandlerFunc(func(ctx context.Context, req *session.Request) (*session.Response, error) {
		return nil, boom
	}))

	p, err := Attach(sess, st, "transport-failure", ModeRecord, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, p.Record())
	defer p.Stop()

	err = sess.Call(context.Background(), "ec2", "DescribeInstances", nil, nil)
	assert.ErrorIs(t, err, boom)

	n, err := p.Cassette().Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecord_WriteErrorSurfaces(t *testing.T) {
	st := fixture.NewStore(t.TempDir())
	sess := session.New(&fakeCloud{})

	p, err := Attach(sess, st, "write-error", ModeRecord, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, p.Record())
	defer p.Stop()

	require.NoError(t, st.Remove("write-error"))

	err = sess.Call(context.Background(), "ec2", "DescribeInstances", nil, nil)
	require.Error(t, err)
	assert.True(t, fixture.IsWriteError(err))
	assert.Contains(t, err.Error(), "write-error")
}

func TestRerecord_DiscardsPreviousCassette(t *testing.T) {
	st := fixture.NewStore(t.TempDir())
	recordCalls(t, st, "rerecord", []string{"A", "B", "C"}, nil)
	recordCalls(t, st, "rerecord", []string{"Only"}, []string{`{"v":2}`})

	c, err := st.Open("rerecord")
	require.NoError(t, err)
	entries, err := c.ListEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ec2.Only", entries[0].Operation)

	_, err = c.ReadEntry(1)
	assert.True(t, fixture.IsFixtureNotFound(err))
}

func TestStop_IsIdempotentAndRestoresSession(t *testing.T) {
	st := fixture.NewStore(t.TempDir())
	cloud := &fakeCloud{}
	sess := session.New(cloud)

	p, err := Attach(sess, st, "stop-twice", ModeRecord, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, p.Record())
	assert.Equal(t, StateRecording, p.State())

	p.Stop()
	p.Stop()
	assert.Equal(t, StateIdle, p.State())
	assert.False(t, sess.Has(MiddlewareName))

	// Calls after Stop go live and are not recorded.
	require.NoError(t, sess.Call(context.Background(), "ec2", "DescribeInstances", nil, nil))
	assert.Equal(t, 1, cloud.calls)
	n, err := p.Cassette().Count()
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.ErrorIs(t, p.Record(), ErrDetached)
}

func TestAttach_OnePillPerSession(t *testing.T) {
	st := fixture.NewStore(t.TempDir())
	sess := session.New(&fakeCloud{})

	first, err := Attach(sess, st, "first", ModeRecord, WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = Attach(sess, st, "second", ModeRecord)
	assert.ErrorIs(t, err, ErrAlreadyAttached)

	first.Stop()
	second, err := Attach(sess, st, "second", ModeRecord, WithLogger(quietLogger()))
	require.NoError(t, err)
	second.Stop()
}

func TestStateTransitions(t *testing.T) {
	st := fixture.NewStore(t.TempDir())
	p, err := Attach(session.New(&fakeCloud{}), st, "states", ModeRecord, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer p.Stop()

	assert.Equal(t, StateIdle, p.State())
	assert.ErrorIs(t, p.Playback(), ErrModeMismatch)
	require.NoError(t, p.Record())
	assert.ErrorIs(t, p.Record(), ErrNotIdle)
	assert.Equal(t, "recording", p.State().String())
}

func TestIdlePillPassesThrough(t *testing.T) {
	st := fixture.NewStore(t.TempDir())
	cloud := &fakeCloud{bodies: []string{`{"live":true}`}}
	sess := session.New(cloud)

	p, err := Attach(sess, st, "idle", ModeRecord, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer p.Stop()

	resp, err := sess.Invoke(context.Background(), &session.Request{Service: "ec2", Method: "X"})
	require.NoError(t, err)
	assert.Equal(t, `{"live":true}`, string(resp.Body))
	n, err := p.Cassette().Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDebugLogsAtInfoAndNotifiesObserver(t *testing.T) {
	st := fixture.NewStore(t.TempDir())
	var logs bytes.Buffer
	var seen []fixture.Entry

	sess := session.New(&fakeCloud{})
	p, err := Attach(sess, st, "debug", ModeRecord,
		WithDebug(true),
		WithLogger(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelInfo}))),
		WithObserver(func(mode Mode, e fixture.Entry) {
			assert.Equal(t, ModeRecord, mode)
			seen = append(seen, e)
		}),
	)
	require.NoError(t, err)
	require.NoError(t, p.Record())
	defer p.Stop()

	require.NoError(t, sess.Call(context.Background(), "s3", "ListBuckets", nil, nil))
	assert.Contains(t, logs.String(), "recorded call")
	assert.Contains(t, logs.String(), "operation=s3.ListBuckets")
	require.Len(t, seen, 1)
	assert.Equal(t, 0, seen[0].Index)
}

func TestCursor(t *testing.T) {
	var c Cursor
	assert.Equal(t, 0, c.Next())
	assert.Equal(t, 1, c.Next())
	assert.Equal(t, 2, c.Position())
	c.Reset()
	assert.Equal(t, 0, c.Position())
	assert.Equal(t, 0, c.Next())
}
