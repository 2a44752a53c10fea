package call

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telecare/telecare/internal/domain/account"
	"github.com/telecare/telecare/internal/platform/presence"
	"github.com/telecare/telecare/internal/platform/realtime"
	"github.com/telecare/telecare/internal/platform/realtime/realtimetest"
)

// -- Mocks --

type mockRepo struct {
	mu        sync.Mutex
	store     map[int64]*CallLog
	nextID    int64
	createErr error
	updateErr error
	getErr    error
}

func newMockRepo() *mockRepo {
	return &mockRepo{store: make(map[int64]*CallLog)}
}

func (m *mockRepo) Create(_ context.Context, c *CallLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	c.ID = m.nextID
	cp := *c
	m.store[c.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id int64) (*CallLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	c, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockRepo) UpdateStatus(_ context.Context, id int64, u Update) (*CallLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	c, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	if u.From != "" && c.Status != u.From {
		return nil, ErrInvalidTransition
	}
	c.Status = u.Status
	if u.StartedAt != nil {
		c.StartedAt = u.StartedAt
	}
	if u.EndedAt != nil {
		c.EndedAt = u.EndedAt
	}
	if u.Duration != nil {
		c.Duration = *u.Duration
	}
	c.UpdatedAt = u.At
	cp := *c
	return &cp, nil
}

func (m *mockRepo) sorted(keep func(*CallLog) bool) []*CallLog {
	var out []*CallLog
	for _, c := range m.store {
		if keep(c) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (m *mockRepo) ListMissed(_ context.Context, receiverID int64, limit int) ([]*CallLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sorted(func(c *CallLog) bool { return c.ReceiverID == receiverID && c.Status == StatusMissed })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockRepo) CountMissedUnseen(_ context.Context, receiverID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sorted(func(c *CallLog) bool {
		return c.ReceiverID == receiverID && c.Status == StatusMissed && c.SeenAt == nil
	})), nil
}

func (m *mockRepo) ListHistory(_ context.Context, identityID int64, limit, offset int) ([]*CallLog, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sorted(func(c *CallLog) bool { return c.IsParticipant(identityID) })
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *mockRepo) MarkSeen(_ context.Context, receiverID int64, ids []int64, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		c, ok := m.store[id]
		if ok && c.ReceiverID == receiverID && c.Status == StatusMissed && c.SeenAt == nil {
			seen := at
			c.SeenAt = &seen
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) MarkStaleRinging(_ context.Context, cutoff, at time.Time) ([]*CallLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*CallLog
	for _, c := range m.store {
		if c.Status == StatusRinging && c.CreatedAt.Before(cutoff) {
			ended := at
			c.Status = StatusMissed
			c.EndedAt = &ended
			c.UpdatedAt = at
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockRepo) get(id int64) *CallLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.store[id]
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

type mockResolver map[int64]account.Target

func (m mockResolver) ResolveTarget(_ context.Context, rawID int64) (account.Target, error) {
	t, ok := m[rawID]
	if !ok {
		return account.Target{}, account.ErrNotFound
	}
	return t, nil
}

// -- Fixture --

const (
	callerID   int64 = 5
	providerID int64 = 9
	profileRef int64 = 42
)

type fixture struct {
	svc      *Service
	repo     *mockRepo
	presence *presence.Registry
	recorder *realtimetest.Recorder
	clock    *clock.Mock
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	repo := newMockRepo()
	reg := presence.NewRegistry()
	rec := realtimetest.NewRecorder()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	resolver := mockResolver{
		profileRef: {AccountID: providerID, Role: account.RoleProvider, Name: "Dr. Dana", ViaProfile: true},
		providerID: {AccountID: providerID, Role: account.RoleProvider, Name: "Dr. Dana"},
		callerID:   {AccountID: callerID, Role: account.RolePatient, Name: "Pat"},
	}
	return &fixture{
		svc:      NewService(repo, resolver, reg, rec, nil, clk, cfg, zerolog.Nop()),
		repo:     repo,
		presence: reg,
		recorder: rec,
		clock:    clk,
	}
}

func audioRequest() Request {
	conv := int64(7)
	return Request{
		CallerID:       callerID,
		CallerRole:     account.RolePatient,
		CallerConnID:   "conn-caller",
		CallerName:     "Pat",
		TargetRef:      profileRef,
		ConversationID: &conv,
		CallType:       TypeAudio,
		ChannelName:    "room-7",
	}
}

// seedCall stores a call in the given status and returns its id.
func (f *fixture) seedCall(status Status) int64 {
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	f.repo.nextID++
	id := f.repo.nextID
	f.repo.store[id] = &CallLog{
		ID: id, CallerID: callerID, ReceiverID: providerID, CallType: TypeVideo, Status: status,
		ChannelName: "room-x", CreatedAt: f.clock.Now(), UpdatedAt: f.clock.Now(),
		CallerRole: account.RolePatient, ReceiverRole: account.RoleProvider,
	}
	return id
}

// -- Transition table --

func TestTransitionTable(t *testing.T) {
	assert.True(t, CanTransition(StatusRinging, StatusAnswered))
	assert.True(t, CanTransition(StatusRinging, StatusRejected))
	assert.True(t, CanTransition(StatusRinging, StatusMissed))
	assert.True(t, CanTransition(StatusInitiated, StatusRinging))
	assert.True(t, CanTransition(StatusAnswered, StatusEnded))
	assert.False(t, CanTransition(StatusRinging, StatusEnded))
	assert.False(t, CanTransition(StatusEnded, StatusAnswered))
	assert.False(t, CanTransition(StatusMissed, StatusAnswered))

	for _, s := range []Status{StatusRejected, StatusMissed, StatusFailed, StatusEnded} {
		assert.True(t, s.Terminal(), s)
		assert.Empty(t, transitions[s], s)
	}
	assert.False(t, StatusRinging.Terminal())
	assert.False(t, StatusAnswered.Terminal())
}

// -- Request --

func TestRequest_ReceiverOffline_MarksMissed(t *testing.T) {
	f := newFixture(t, Config{})

	rec, err := f.svc.Request(context.Background(), audioRequest())
	require.NoError(t, err)

	assert.Equal(t, StatusMissed, rec.Status)
	assert.Equal(t, providerID, rec.ReceiverID)
	require.NotNil(t, rec.EndedAt)
	assert.Nil(t, rec.StartedAt)

	stored := f.repo.get(rec.ID)
	require.NotNil(t, stored)
	assert.Equal(t, callerID, stored.CallerID)
	assert.Equal(t, providerID, stored.ReceiverID)
	assert.Equal(t, TypeAudio, stored.CallType)
	assert.Equal(t, StatusMissed, stored.Status)
	assert.NotNil(t, stored.EndedAt)

	assert.Empty(t, f.recorder.Events(realtime.EventIncomingCall))

	acks := f.recorder.Events(realtime.EventCallInitiated)
	require.Len(t, acks, 1)
	assert.Equal(t, realtime.ToConn("conn-caller"), acks[0].To)
	var ack CallInitiatedPayload
	require.NoError(t, acks[0].Decode(&ack))
	assert.Equal(t, StatusMissed, ack.Status)
	assert.Equal(t, rec.ID, ack.CallLogID)
}

func TestRequest_ReceiverOnline_Rings(t *testing.T) {
	f := newFixture(t, Config{})
	f.presence.Register(providerID, "conn-doc", account.RoleProvider)

	rec, err := f.svc.Request(context.Background(), audioRequest())
	require.NoError(t, err)

	assert.Equal(t, StatusRinging, rec.Status)
	assert.Nil(t, rec.EndedAt)
	assert.Nil(t, rec.StartedAt)
	assert.Equal(t, StatusRinging, f.repo.get(rec.ID).Status)

	incoming := f.recorder.Events(realtime.EventIncomingCall)
	require.Len(t, incoming, 2)
	assert.Equal(t, realtime.ToConn("conn-doc"), incoming[0].To)
	assert.Equal(t, realtime.ToChannel("doctor_9"), incoming[1].To)

	var payload IncomingCallPayload
	require.NoError(t, incoming[0].Decode(&payload))
	assert.Equal(t, rec.ID, payload.CallLogID)
	assert.Equal(t, callerID, payload.CallerID)
	assert.Equal(t, "Pat", payload.CallerName)
	assert.Equal(t, "room-7", payload.RoomID)
	require.NotNil(t, payload.ConversationID)
	assert.Equal(t, int64(7), *payload.ConversationID)
}

func TestRequest_Unresolvable_Aborts(t *testing.T) {
	f := newFixture(t, Config{})
	req := audioRequest()
	req.TargetRef = 404

	_, err := f.svc.Request(context.Background(), req)
	require.ErrorIs(t, err, ErrUnresolvable)
	assert.Empty(t, f.repo.store)
	assert.Empty(t, f.recorder.All())
}

func TestRequest_Validation(t *testing.T) {
	f := newFixture(t, Config{})

	req := audioRequest()
	req.CallType = "hologram"
	_, err := f.svc.Request(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	req = audioRequest()
	req.TargetRef = 0
	_, err = f.svc.Request(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	req = audioRequest()
	req.TargetRef = callerID
	_, err = f.svc.Request(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	assert.Empty(t, f.repo.store)
}

func TestRequest_PersistFailureStillRings(t *testing.T) {
	f := newFixture(t, Config{})
	f.repo.createErr = errors.New("connection refused")
	f.presence.Register(providerID, "conn-doc", account.RoleProvider)

	rec, err := f.svc.Request(context.Background(), audioRequest())
	require.NoError(t, err)
	assert.Zero(t, rec.ID)
	assert.Len(t, f.recorder.Events(realtime.EventIncomingCall), 2)
}

func TestRequest_PersistFailureAnswerReachesCaller(t *testing.T) {
	f := newFixture(t, Config{TransitionPolicy: PolicyStrict})
	f.repo.createErr = errors.New("connection refused")
	f.presence.Register(callerID, "conn-caller", account.RolePatient)
	f.presence.Register(providerID, "conn-doc", account.RoleProvider)

	rec, err := f.svc.Request(context.Background(), audioRequest())
	require.NoError(t, err)
	require.Zero(t, rec.ID)

	answered, err := f.svc.Respond(context.Background(), Response{
		ResponderID: providerID, CallLogID: rec.ID, Accepted: true, CallerHint: callerID,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusAnswered, answered.Status)
	assert.NotNil(t, answered.StartedAt)

	relayed := f.recorder.Events(realtime.EventCallResponse)
	require.Len(t, relayed, 1)
	assert.Equal(t, realtime.ToConn("conn-caller"), relayed[0].To)
	var payload CallResponsePayload
	require.NoError(t, relayed[0].Decode(&payload))
	assert.True(t, payload.Accepted)
	assert.Equal(t, providerID, payload.ResponderID)
	assert.Zero(t, payload.CallLogID)

	ended, err := f.svc.End(context.Background(), EndRequest{
		EnderID: callerID, CallLogID: rec.ID, Duration: 40, CounterpartHint: providerID,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, ended.Status)
	assert.Equal(t, 40, ended.Duration)

	hangups := f.recorder.Events(realtime.EventCallEnded)
	require.Len(t, hangups, 1)
	assert.Equal(t, realtime.ToConn("conn-doc"), hangups[0].To)
	assert.Empty(t, f.repo.store)
}

func TestRespond_UnpersistedWithoutHint(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.svc.Respond(context.Background(), Response{ResponderID: providerID, Accepted: true})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = f.svc.End(context.Background(), EndRequest{EnderID: providerID})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = f.svc.Respond(context.Background(), Response{ResponderID: providerID, CallLogID: -1, CallerHint: callerID})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Empty(t, f.recorder.All())
}

func TestEnd_UnreadableRecordRelaysOnHint(t *testing.T) {
	f := newFixture(t, Config{})
	f.presence.Register(providerID, "conn-doc", account.RoleProvider)
	id := f.seedCall(StatusAnswered)
	f.repo.getErr = errors.New("timeout")

	_, err := f.svc.End(context.Background(), EndRequest{EnderID: callerID, CallLogID: id, Duration: 8, CounterpartHint: providerID})
	require.Error(t, err)

	hangups := f.recorder.Events(realtime.EventCallEnded)
	require.Len(t, hangups, 1)
	assert.Equal(t, realtime.ToConn("conn-doc"), hangups[0].To)
}

func TestRequest_ChannelPolicy(t *testing.T) {
	tests := []struct {
		name      string
		policy    string
		requested string
		keep      bool
	}{
		{"validate keeps safe name", ChannelValidate, "room-7", true},
		{"validate replaces unsafe name", ChannelValidate, "room 7; drop", false},
		{"validate replaces empty name", ChannelValidate, "", false},
		{"validate replaces long name", ChannelValidate, strings.Repeat("a", 65), false},
		{"generate ignores client name", ChannelGenerate, "room-7", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{ChannelPolicy: tt.policy})
			req := audioRequest()
			req.ChannelName = tt.requested

			rec, err := f.svc.Request(context.Background(), req)
			require.NoError(t, err)
			if tt.keep {
				assert.Equal(t, tt.requested, rec.ChannelName)
			} else {
				assert.True(t, strings.HasPrefix(rec.ChannelName, "call_"), rec.ChannelName)
				assert.Regexp(t, channelNamePattern, rec.ChannelName)
			}
		})
	}
}

// -- Respond --

func TestRespond_Accept(t *testing.T) {
	f := newFixture(t, Config{})
	f.presence.Register(callerID, "conn-caller", account.RolePatient)
	id := f.seedCall(StatusRinging)

	rec, err := f.svc.Respond(context.Background(), Response{ResponderID: providerID, CallLogID: id, Accepted: true})
	require.NoError(t, err)
	assert.Equal(t, StatusAnswered, rec.Status)
	assert.NotNil(t, rec.StartedAt)
	assert.Nil(t, rec.EndedAt)

	stored := f.repo.get(id)
	assert.Equal(t, StatusAnswered, stored.Status)
	assert.Nil(t, stored.EndedAt)

	// The answer goes back on the caller's direct connection only.
	all := f.recorder.All()
	require.Len(t, all, 1)
	assert.Equal(t, realtime.EventCallResponse, all[0].Event)
	assert.Equal(t, realtime.ToConn("conn-caller"), all[0].To)
	var payload CallResponsePayload
	require.NoError(t, all[0].Decode(&payload))
	assert.True(t, payload.Accepted)
	assert.Equal(t, providerID, payload.ResponderID)
	assert.Equal(t, id, payload.CallLogID)
}

func TestRespond_Reject(t *testing.T) {
	f := newFixture(t, Config{})
	id := f.seedCall(StatusRinging)

	rec, err := f.svc.Respond(context.Background(), Response{ResponderID: providerID, CallLogID: id})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rec.Status)
	assert.NotNil(t, rec.EndedAt)
	assert.NotNil(t, f.repo.get(id).EndedAt)
	// Caller is offline: nothing to relay.
	assert.Empty(t, f.recorder.All())
}

func TestRespond_Errors(t *testing.T) {
	f := newFixture(t, Config{})
	id := f.seedCall(StatusRinging)

	_, err := f.svc.Respond(context.Background(), Response{ResponderID: callerID, CallLogID: id, Accepted: true})
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = f.svc.Respond(context.Background(), Response{ResponderID: providerID, CallLogID: 999, Accepted: true})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Respond(context.Background(), Response{ResponderID: providerID, Accepted: true})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	assert.Equal(t, StatusRinging, f.repo.get(id).Status)
}

func TestRespond_UnreadableRecordRelaysOnHint(t *testing.T) {
	f := newFixture(t, Config{})
	f.presence.Register(callerID, "conn-caller", account.RolePatient)
	id := f.seedCall(StatusRinging)
	f.repo.getErr = errors.New("timeout")

	_, err := f.svc.Respond(context.Background(), Response{ResponderID: providerID, CallLogID: id, Accepted: true, CallerHint: callerID})
	require.Error(t, err)

	relayed := f.recorder.Events(realtime.EventCallResponse)
	require.Len(t, relayed, 1)
	assert.Equal(t, realtime.ToConn("conn-caller"), relayed[0].To)
}

func TestRespond_UpdateFailureStillRelays(t *testing.T) {
	f := newFixture(t, Config{})
	f.presence.Register(callerID, "conn-caller", account.RolePatient)
	id := f.seedCall(StatusRinging)
	f.repo.updateErr = errors.New("deadlock detected")

	rec, err := f.svc.Respond(context.Background(), Response{ResponderID: providerID, CallLogID: id, Accepted: true})
	require.NoError(t, err)
	assert.Equal(t, StatusAnswered, rec.Status)
	assert.Len(t, f.recorder.Events(realtime.EventCallResponse), 1)
}

func TestRespond_StrictRejectsTerminal(t *testing.T) {
	f := newFixture(t, Config{TransitionPolicy: PolicyStrict})
	f.presence.Register(callerID, "conn-caller", account.RolePatient)
	id := f.seedCall(StatusMissed)

	_, err := f.svc.Respond(context.Background(), Response{ResponderID: providerID, CallLogID: id, Accepted: true})
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), "already missed")
	assert.Equal(t, StatusMissed, f.repo.get(id).Status)
	assert.Empty(t, f.recorder.All())
}

func TestRespond_PermissiveAppliesOffTable(t *testing.T) {
	f := newFixture(t, Config{TransitionPolicy: PolicyPermissive})
	id := f.seedCall(StatusMissed)

	rec, err := f.svc.Respond(context.Background(), Response{ResponderID: providerID, CallLogID: id, Accepted: true})
	require.NoError(t, err)
	assert.Equal(t, StatusAnswered, rec.Status)
}

// -- End --

func TestEnd_FromRingingPermissive(t *testing.T) {
	f := newFixture(t, Config{})
	id := f.seedCall(StatusRinging)

	rec, err := f.svc.End(context.Background(), EndRequest{EnderID: callerID, CallLogID: id, Duration: 12})
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, rec.Status)
	assert.Equal(t, 12, rec.Duration)
	assert.NotNil(t, rec.EndedAt)

	stored := f.repo.get(id)
	assert.Equal(t, StatusEnded, stored.Status)
	assert.Equal(t, 12, stored.Duration)
}

func TestEnd_FromRingingStrict(t *testing.T) {
	f := newFixture(t, Config{TransitionPolicy: PolicyStrict})
	f.presence.Register(providerID, "conn-doc", account.RoleProvider)
	id := f.seedCall(StatusRinging)

	_, err := f.svc.End(context.Background(), EndRequest{EnderID: callerID, CallLogID: id, Duration: 3})
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusRinging, f.repo.get(id).Status)
	assert.Empty(t, f.recorder.All())
}

func TestEnd_AnsweredRelaysToCounterpart(t *testing.T) {
	f := newFixture(t, Config{TransitionPolicy: PolicyStrict})
	f.presence.Register(providerID, "conn-doc", account.RoleProvider)
	f.presence.Register(callerID, "conn-caller", account.RolePatient)
	id := f.seedCall(StatusAnswered)

	rec, err := f.svc.End(context.Background(), EndRequest{EnderID: callerID, CallLogID: id, Duration: 95})
	require.NoError(t, err)
	assert.Equal(t, 95, rec.Duration)

	ended := f.recorder.Events(realtime.EventCallEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, realtime.ToConn("conn-doc"), ended[0].To)
	var payload CallEndedPayload
	require.NoError(t, ended[0].Decode(&payload))
	assert.Equal(t, callerID, payload.EndedBy)
	assert.Equal(t, 95, payload.Duration)
}

func TestEnd_NegativeDurationClamped(t *testing.T) {
	f := newFixture(t, Config{})
	id := f.seedCall(StatusAnswered)

	rec, err := f.svc.End(context.Background(), EndRequest{EnderID: providerID, CallLogID: id, Duration: -4})
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Duration)
	assert.Equal(t, 0, f.repo.get(id).Duration)
}

func TestEnd_Errors(t *testing.T) {
	f := newFixture(t, Config{})
	id := f.seedCall(StatusAnswered)

	_, err := f.svc.End(context.Background(), EndRequest{EnderID: 77, CallLogID: id})
	assert.ErrorIs(t, err, ErrNotParticipant)
	_, err = f.svc.End(context.Background(), EndRequest{EnderID: callerID, CallLogID: 999})
	assert.ErrorIs(t, err, ErrNotFound)
}

// -- Disconnect gap --

func TestRequest_CallerDisconnectLeavesRinging(t *testing.T) {
	f := newFixture(t, Config{})
	f.presence.Register(callerID, "conn-caller", account.RolePatient)
	f.presence.Register(providerID, "conn-doc", account.RoleProvider)

	rec, err := f.svc.Request(context.Background(), audioRequest())
	require.NoError(t, err)

	f.presence.Unregister("conn-caller")
	assert.Equal(t, StatusRinging, f.repo.get(rec.ID).Status)
}

// -- Sweeper --

func TestSweepRinging(t *testing.T) {
	f := newFixture(t, Config{})
	stale := f.seedCall(StatusRinging)
	f.clock.Add(45 * time.Second)
	fresh := f.seedCall(StatusRinging)
	answered := f.seedCall(StatusAnswered)
	f.clock.Add(20 * time.Second)

	n, err := f.svc.SweepRinging(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, StatusMissed, f.repo.get(stale).Status)
	assert.NotNil(t, f.repo.get(stale).EndedAt)
	assert.Equal(t, StatusRinging, f.repo.get(fresh).Status)
	assert.Equal(t, StatusAnswered, f.repo.get(answered).Status)

	missed := f.recorder.Events(realtime.EventCallMissed)
	require.Len(t, missed, 2)
	assert.Equal(t, realtime.ToChannel("user_5"), missed[0].To)
	assert.Equal(t, realtime.ToChannel("doctor_9"), missed[1].To)
}

func TestRunSweeper(t *testing.T) {
	f := newFixture(t, Config{})
	id := f.seedCall(StatusRinging)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.svc.RunSweeper(ctx, time.Minute, 15*time.Second)
		close(done)
	}()

	require.Eventually(t, func() bool {
		f.clock.Add(15 * time.Second)
		return f.repo.get(id).Status == StatusMissed
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestRunSweeper_DisabledReturns(t *testing.T) {
	f := newFixture(t, Config{})
	done := make(chan struct{})
	go func() {
		f.svc.RunSweeper(context.Background(), 0, time.Second)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled sweeper should return immediately")
	}
}

// -- Queries --

func TestQueries(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	missedA := f.seedCall(StatusMissed)
	missedB := f.seedCall(StatusMissed)
	f.seedCall(StatusEnded)

	missed, err := f.svc.Missed(ctx, providerID)
	require.NoError(t, err)
	require.Len(t, missed, 2)
	assert.Equal(t, missedB, missed[0].ID)
	assert.Equal(t, DirectionIncoming, missed[0].Direction)

	count, err := f.svc.MissedCount(ctx, providerID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = f.svc.MarkSeen(ctx, providerID, nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	n, err := f.svc.MarkSeen(ctx, callerID, []int64{missedA})
	require.NoError(t, err)
	assert.Zero(t, n, "caller cannot mark the receiver's missed calls")

	n, err = f.svc.MarkSeen(ctx, providerID, []int64{missedA})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	count, _ = f.svc.MissedCount(ctx, providerID)
	assert.Equal(t, 1, count)

	history, total, err := f.svc.History(ctx, callerID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, history, 2)
	for _, c := range history {
		assert.Equal(t, DirectionOutgoing, c.Direction)
	}

	got, err := f.svc.Get(ctx, missedA, providerID)
	require.NoError(t, err)
	assert.Equal(t, DirectionIncoming, got.Direction)
	_, err = f.svc.Get(ctx, missedA, 77)
	assert.ErrorIs(t, err, ErrNotParticipant)
}
