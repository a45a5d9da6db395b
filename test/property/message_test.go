// +build property

package property

import (
	"testing"
	"time"

	"github.com/CodingButter/team-dashboard-sub004/pkg/models"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

const (
	MinTestIterations = 100
)

// TestMessageRoundTrip checks that envelope serialization never loses
// the fields routing and history depend on.
func TestMessageRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = MinTestIterations
	properties := gopter.NewProperties(parameters)

	properties.Property("direct envelope survives JSON round trip", prop.ForAll(
		func(from string, to string, key string, value string) bool {
			msg := models.NewDirectMessage(from, to, map[string]interface{}{key: value}, models.MsgDirect, "")

			data, err := msg.ToJSON()
			if err != nil {
				return false
			}
			decoded, err := models.MessageFromJSON(data)
			if err != nil {
				return false
			}

			return decoded.ID == msg.ID &&
				decoded.Type == msg.Type &&
				decoded.From == msg.From &&
				decoded.To == msg.To &&
				decoded.Content[key] == value
		},
		gen.AlphaString().SuchThat(func(s string) bool { return len(s) > 0 }),
		gen.AlphaString().SuchThat(func(s string) bool { return len(s) > 0 }),
		gen.AlphaString().SuchThat(func(s string) bool { return len(s) > 0 }),
		gen.AlphaString(),
	))

	properties.Property("timestamp preserved within JSON precision", prop.ForAll(
		func(offsetSeconds int) bool {
			msg := models.NewDirectMessage("agent-a", "agent-b", nil, models.MsgDirect, "")
			msg.Timestamp = time.Now().Add(time.Duration(offsetSeconds) * time.Second)

			data, _ := msg.ToJSON()
			decoded, _ := models.MessageFromJSON(data)

			diff := msg.Timestamp.Sub(decoded.Timestamp)
			if diff < 0 {
				diff = -diff
			}
			return diff < time.Microsecond
		},
		gen.IntRange(-86400, 86400),
	))

	properties.Property("correlation ID preserved for request chains", prop.ForAll(
		func(correlationID string) bool {
			msg := models.NewDirectMessage("agent-a", "agent-b", nil, models.MsgRequest, correlationID)

			data, _ := msg.ToJSON()
			decoded, _ := models.MessageFromJSON(data)

			return decoded.Metadata.CorrelationID == correlationID
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// TestMessageValidation checks that constructed envelopes are valid
// exactly when their required fields are populated.
func TestMessageValidation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = MinTestIterations
	properties := gopter.NewProperties(parameters)

	properties.Property("constructed direct messages always validate", prop.ForAll(
		func(from string, to string) bool {
			msg := models.NewDirectMessage(from, to, nil, models.MsgDirect, "")
			return msg.Validate() == nil
		},
		gen.AlphaString().SuchThat(func(s string) bool { return len(s) > 0 }),
		gen.AlphaString().SuchThat(func(s string) bool { return len(s) > 0 }),
	))

	properties.Property("missing sender always rejected", prop.ForAll(
		func(to string) bool {
			msg := models.NewDirectMessage("", to, nil, models.MsgDirect, "")
			return msg.Validate() != nil
		},
		gen.AlphaString().SuchThat(func(s string) bool { return len(s) > 0 }),
	))

	properties.Property("missing recipient and channel always rejected", prop.ForAll(
		func(from string) bool {
			msg := models.NewDirectMessage(from, "", nil, models.MsgDirect, "")
			return msg.Validate() != nil
		},
		gen.AlphaString().SuchThat(func(s string) bool { return len(s) > 0 }),
	))

	properties.TestingRun(t)
}
