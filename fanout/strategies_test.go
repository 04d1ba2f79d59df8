package fanout

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubcast/clubcast-go/contracts"
)

// fakeLookup is a canned TokenLookup recording the ids it was asked for.
type fakeLookup struct {
	userTokens     map[string]string
	teamTokens     map[string][]string
	provinceTokens map[string][]string
	allTokens      []string
	err            error

	userIDs     []string
	teamIDs     []string
	provinceIDs []string
	allCalls    int
}

func (f *fakeLookup) GetUserToken(ctx context.Context, userID string) (string, error) {
	f.userIDs = append(f.userIDs, userID)
	return f.userTokens[userID], f.err
}

func (f *fakeLookup) GetTeamPlayerTokens(ctx context.Context, teamID string) ([]string, error) {
	f.teamIDs = append(f.teamIDs, teamID)
	return f.teamTokens[teamID], f.err
}

func (f *fakeLookup) GetProvinceUserTokens(ctx context.Context, provinceID string) ([]string, error) {
	f.provinceIDs = append(f.provinceIDs, provinceID)
	return f.provinceTokens[provinceID], f.err
}

func (f *fakeLookup) GetAllUserTokens(ctx context.Context) ([]string, error) {
	f.allCalls++
	return f.allTokens, f.err
}

// pushCall records one PushDelivery.Send invocation.
type pushCall struct {
	tokens []string
	title  string
	body   string
	data   map[string]interface{}
}

type fakePush struct {
	calls   []pushCall
	tickets []contracts.DeliveryTicket
	err     error
}

func (f *fakePush) Send(ctx context.Context, tokens []string, title, body string, data map[string]interface{}) ([]contracts.DeliveryTicket, error) {
	f.calls = append(f.calls, pushCall{tokens: tokens, title: title, body: body, data: data})
	return f.tickets, f.err
}

func mustEnvelope(t *testing.T, raw string) *contracts.Envelope {
	t.Helper()
	env, err := contracts.ParseEnvelope([]byte(raw))
	require.NoError(t, err)
	return env
}

func TestIndividualStrategy(t *testing.T) {
	t.Run("delivers to the user's single token", func(t *testing.T) {
		lookup := &fakeLookup{userTokens: map[string]string{"42": "token-42"}}
		push := &fakePush{}
		s := NewIndividualStrategy(lookup, push)

		env := mustEnvelope(t, `{"title":"Hello","body":"Welcome back","data":{"k":"v"}}`)
		err := s.Deliver(context.Background(), contracts.Classify("user.42.notification"), env)

		require.NoError(t, err)
		require.Len(t, push.calls, 1)
		assert.Equal(t, []string{"token-42"}, push.calls[0].tokens)
		assert.Equal(t, "Hello", push.calls[0].title)
		assert.Equal(t, "Welcome back", push.calls[0].body)
		assert.Equal(t, map[string]interface{}{"k": "v"}, push.calls[0].data)
	})

	t.Run("payload user_id wins over the routing key", func(t *testing.T) {
		lookup := &fakeLookup{userTokens: map[string]string{"99": "token-99"}}
		push := &fakePush{}
		s := NewIndividualStrategy(lookup, push)

		env := mustEnvelope(t, `{"user_id":"99","title":"T","body":"B"}`)
		err := s.Deliver(context.Background(), contracts.Classify("user.42.notification"), env)

		require.NoError(t, err)
		assert.Equal(t, []string{"99"}, lookup.userIDs)
	})

	t.Run("no registered device is a no-op", func(t *testing.T) {
		lookup := &fakeLookup{}
		push := &fakePush{}
		s := NewIndividualStrategy(lookup, push)

		env := mustEnvelope(t, `{"title":"T","body":"B"}`)
		err := s.Deliver(context.Background(), contracts.Classify("user.42.notification"), env)

		require.NoError(t, err)
		assert.Empty(t, push.calls)
	})

	t.Run("missing title or body is a no-op", func(t *testing.T) {
		lookup := &fakeLookup{userTokens: map[string]string{"42": "token-42"}}
		push := &fakePush{}
		s := NewIndividualStrategy(lookup, push)

		env := mustEnvelope(t, `{"title":"only title"}`)
		err := s.Deliver(context.Background(), contracts.Classify("user.42.notification"), env)

		require.NoError(t, err)
		assert.Empty(t, lookup.userIDs)
		assert.Empty(t, push.calls)
	})

	t.Run("lookup failure propagates", func(t *testing.T) {
		lookup := &fakeLookup{err: errors.New("store down")}
		s := NewIndividualStrategy(lookup, &fakePush{})

		env := mustEnvelope(t, `{"title":"T","body":"B"}`)
		err := s.Deliver(context.Background(), contracts.Classify("user.42.notification"), env)

		assert.Error(t, err)
	})
}

func TestTeamStrategy(t *testing.T) {
	t.Run("delivers to the full roster", func(t *testing.T) {
		lookup := &fakeLookup{teamTokens: map[string][]string{"T1": {"a", "b", "c"}}}
		push := &fakePush{}
		s := NewTeamStrategy(lookup, push)

		env := mustEnvelope(t, `{"body":{"title":"Practice"},"description":"desc"}`)
		err := s.Deliver(context.Background(), contracts.Classify("team.T1.event.created"), env)

		require.NoError(t, err)
		assert.Equal(t, []string{"T1"}, lookup.teamIDs)
		require.Len(t, push.calls, 1)
		assert.Equal(t, []string{"a", "b", "c"}, push.calls[0].tokens)
		assert.Equal(t, "Practice", push.calls[0].title)
		assert.Equal(t, "desc", push.calls[0].body)
	})

	t.Run("defaults the body text", func(t *testing.T) {
		lookup := &fakeLookup{teamTokens: map[string][]string{"T1": {"a"}}}
		push := &fakePush{}
		s := NewTeamStrategy(lookup, push)

		env := mustEnvelope(t, `{"body":{"title":"Match"}}`)
		err := s.Deliver(context.Background(), contracts.Classify("team.T1.event.updated"), env)

		require.NoError(t, err)
		require.Len(t, push.calls, 1)
		assert.Equal(t, "A new team event has occurred", push.calls[0].body)
	})

	t.Run("empty roster skips push", func(t *testing.T) {
		lookup := &fakeLookup{}
		push := &fakePush{}
		s := NewTeamStrategy(lookup, push)

		env := mustEnvelope(t, `{"body":{"title":"Match"}}`)
		err := s.Deliver(context.Background(), contracts.Classify("team.T9.event.created"), env)

		require.NoError(t, err)
		assert.Empty(t, push.calls)
	})
}

func TestProvinceStrategy(t *testing.T) {
	t.Run("delivers to province users", func(t *testing.T) {
		lookup := &fakeLookup{provinceTokens: map[string][]string{"7": {"x", "y"}}}
		push := &fakePush{}
		s := NewProvinceStrategy(lookup, push)

		env := mustEnvelope(t, `{"body":{"title":"Notice","content":"Season opens"}}`)
		err := s.Deliver(context.Background(), contracts.Classify("province.7.notification"), env)

		require.NoError(t, err)
		assert.Equal(t, []string{"7"}, lookup.provinceIDs)
		require.Len(t, push.calls, 1)
		assert.Equal(t, "Notice", push.calls[0].title)
		assert.Equal(t, "Season opens", push.calls[0].body)
	})

	t.Run("missing body object is a no-op", func(t *testing.T) {
		lookup := &fakeLookup{provinceTokens: map[string][]string{"7": {"x"}}}
		push := &fakePush{}
		s := NewProvinceStrategy(lookup, push)

		env := mustEnvelope(t, `{"description":"no nested body"}`)
		err := s.Deliver(context.Background(), contracts.Classify("province.7.notification"), env)

		require.NoError(t, err)
		assert.Empty(t, lookup.provinceIDs)
		assert.Empty(t, push.calls)
	})
}

func TestGlobalStrategy(t *testing.T) {
	t.Run("broadcasts a notification payload to all tokens", func(t *testing.T) {
		lookup := &fakeLookup{allTokens: []string{"t1", "t2", "t3"}}
		push := &fakePush{}
		s := NewGlobalStrategy(lookup, push)

		env := mustEnvelope(t, `{"notification":{"title":"T","body":"B","data":{}}}`)
		err := s.Deliver(context.Background(), contracts.Classify("all.users.notification"), env)

		require.NoError(t, err)
		assert.Equal(t, 1, lookup.allCalls)
		require.Len(t, push.calls, 1)
		assert.Equal(t, []string{"t1", "t2", "t3"}, push.calls[0].tokens)
		assert.Equal(t, "T", push.calls[0].title)
		assert.Equal(t, "B", push.calls[0].body)
	})

	t.Run("missing content defaults to empty string", func(t *testing.T) {
		lookup := &fakeLookup{allTokens: []string{"t1"}}
		push := &fakePush{}
		s := NewGlobalStrategy(lookup, push)

		env := mustEnvelope(t, `{"body":{"title":"X"}}`)
		err := s.Deliver(context.Background(), contracts.Classify("all.users.notification"), env)

		require.NoError(t, err)
		require.Len(t, push.calls, 1)
		assert.Equal(t, "X", push.calls[0].title)
		assert.Equal(t, "", push.calls[0].body)
	})

	t.Run("missing title gets the default", func(t *testing.T) {
		lookup := &fakeLookup{allTokens: []string{"t1"}}
		push := &fakePush{}
		s := NewGlobalStrategy(lookup, push)

		env := mustEnvelope(t, `{"body":{"content":"hello"}}`)
		err := s.Deliver(context.Background(), contracts.Classify("all.users.notification"), env)

		require.NoError(t, err)
		require.Len(t, push.calls, 1)
		assert.Equal(t, "Global Notification", push.calls[0].title)
	})

	t.Run("extra keys pass through as data", func(t *testing.T) {
		lookup := &fakeLookup{allTokens: []string{"t1"}}
		push := &fakePush{}
		s := NewGlobalStrategy(lookup, push)

		env := mustEnvelope(t, `{"body":{"title":"T","content":"C","link":"/events/5","data":{"k":"v"}}}`)
		err := s.Deliver(context.Background(), contracts.Classify("all.users.notification"), env)

		require.NoError(t, err)
		require.Len(t, push.calls, 1)
		assert.Equal(t, map[string]interface{}{"link": "/events/5", "k": "v"}, push.calls[0].data)
	})

	t.Run("missing body object is a no-op", func(t *testing.T) {
		lookup := &fakeLookup{allTokens: []string{"t1"}}
		push := &fakePush{}
		s := NewGlobalStrategy(lookup, push)

		env := mustEnvelope(t, `{"unrelated":"payload"}`)
		err := s.Deliver(context.Background(), contracts.Classify("all.users.notification"), env)

		require.NoError(t, err)
		assert.Empty(t, push.calls)
	})
}

func TestPushFailuresAreBestEffort(t *testing.T) {
	t.Run("partial ticket failure does not fail the message", func(t *testing.T) {
		lookup := &fakeLookup{allTokens: []string{"a", "b", "c", "d", "e"}}
		push := &fakePush{
			tickets: []contracts.DeliveryTicket{
				{Token: "a", Status: contracts.DeliverySuccess},
				{Token: "b", Status: contracts.DeliveryFailed, Detail: "DeviceNotRegistered"},
				{Token: "c", Status: contracts.DeliverySuccess},
				{Token: "d", Status: contracts.DeliverySuccess},
				{Token: "e", Status: contracts.DeliverySuccess},
			},
		}
		s := NewGlobalStrategy(lookup, push)

		env := mustEnvelope(t, `{"body":{"title":"T","content":"C"}}`)
		err := s.Deliver(context.Background(), contracts.Classify("all.users.notification"), env)

		require.NoError(t, err)
		require.Len(t, push.calls, 1)
		assert.Len(t, push.calls[0].tokens, 5)
	})

	t.Run("push transport error does not fail the message", func(t *testing.T) {
		lookup := &fakeLookup{allTokens: []string{"a"}}
		push := &fakePush{err: errors.New("gateway unreachable")}
		s := NewGlobalStrategy(lookup, push)

		env := mustEnvelope(t, `{"body":{"title":"T"}}`)
		err := s.Deliver(context.Background(), contracts.Classify("all.users.notification"), env)

		assert.NoError(t, err)
	})
}
