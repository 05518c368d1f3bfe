package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestParseAliases(t *testing.T) {
	cases := map[string]Capability{
		"mail":     Mail,
		"gmail":    Mail,
		"email":    Mail,
		"GMAIL":    Mail,
		" mail ":   Mail,
		"calendar": Calendar,
		"gcal":     Calendar,
		"storage":  Storage,
		"drive":    Storage,
		"files":    Storage,
	}
	for name, want := range cases {
		got, err := Parse(name)
		require.NoError(t, err, "Parse(%q)", name)
		assert.Equal(t, want, got, "Parse(%q)", name)
	}
}

func TestParseRejectsUnknown(t *testing.T) {
	for _, name := range []string{"", "contacts", "sheets", "mailbox"} {
		_, err := Parse(name)
		assert.Error(t, err, "Parse(%q)", name)
	}
}

func TestCapabilityJSONRoundTrip(t *testing.T) {
	raw, err := json.Marshal([]Capability{Mail, Storage})
	require.NoError(t, err)
	assert.JSONEq(t, `["mail","storage"]`, string(raw))

	var caps []Capability
	require.NoError(t, json.Unmarshal([]byte(`["drive","email"]`), &caps))
	assert.Equal(t, []Capability{Storage, Mail}, caps)
}

func TestActionResultDescribe(t *testing.T) {
	ok := ActionResult{Capability: Mail, OK: true, Detail: "sent email to sam@example.com"}
	assert.Equal(t, "mail: sent email to sam@example.com", ok.Describe())

	failed := ActionResult{Capability: Calendar, Error: "event_id is required"}
	assert.Equal(t, "calendar: failed - event_id is required", failed.Describe())

	expired := ActionResult{Capability: Storage, AuthExpired: true}
	assert.Equal(t, "storage: failed - authorization expired, please reconnect", expired.Describe())
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want FailureClass
	}{
		{"nil", nil, FailurePermanent},
		{"plain error", errors.New("boom"), FailurePermanent},
		{"revoked grant", ErrAuthRevoked, FailureAuth},
		{"wrapped revoked grant", fmt.Errorf("call failed: %w", ErrAuthRevoked), FailureAuth},
		{"marked transient", Transient(errors.New("flaky")), FailureTransient},
		{"api 401", &googleapi.Error{Code: 401}, FailureAuth},
		{"api 403", &googleapi.Error{Code: 403}, FailureAuth},
		{"api 404", &googleapi.Error{Code: 404}, FailurePermanent},
		{"api 429", &googleapi.Error{Code: 429}, FailureTransient},
		{"api 503", &googleapi.Error{Code: 503}, FailureTransient},
		{"wrapped api error", fmt.Errorf("gmail: %w", &googleapi.Error{Code: 500}), FailureTransient},
		{"deadline", context.DeadlineExceeded, FailureTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestTransientNilStaysNil(t *testing.T) {
	assert.NoError(t, Transient(nil))
}

func TestStringParamPrefersFirstKey(t *testing.T) {
	params := map[string]any{"recipient": "sam@example.com", "to": "other@example.com", "count": 3}

	assert.Equal(t, "sam@example.com", stringParam(params, "recipient", "to"))
	assert.Equal(t, "other@example.com", stringParam(params, "to"))
	assert.Equal(t, "3", stringParam(params, "count"))
	assert.Equal(t, "", stringParam(params, "missing"))
	assert.Equal(t, "", stringParam(nil, "recipient"))
}

func TestActionHas(t *testing.T) {
	assert.True(t, actionHas("send_email", "send"))
	assert.True(t, actionHas("create_calendar_event", "create", "schedule"))
	assert.False(t, actionHas("search_files", "send", "share"))
}
