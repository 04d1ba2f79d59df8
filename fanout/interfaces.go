package fanout

import (
	"context"

	"github.com/clubcast/clubcast-go/contracts"
)

// TokenLookup resolves device tokens for notification recipients. It is
// read-only from this package's perspective and must be safe for concurrent
// use; the four category queues are consumed in parallel.
type TokenLookup interface {
	// GetUserToken returns the device token for one user, or "" when the
	// user has no registered device. An absent token is not an error.
	GetUserToken(ctx context.Context, userID string) (string, error)

	// GetTeamPlayerTokens returns the tokens of a team's full roster.
	GetTeamPlayerTokens(ctx context.Context, teamID string) ([]string, error)

	// GetProvinceUserTokens returns the tokens of all users in a province.
	GetProvinceUserTokens(ctx context.Context, provinceID string) ([]string, error)

	// GetAllUserTokens returns every registered token.
	GetAllUserTokens(ctx context.Context) ([]string, error)
}

// PushDelivery sends a notification to a batch of device tokens. It is best
// effort: partial failures are reported per token in the returned tickets
// and must not short-circuit the rest of the batch.
type PushDelivery interface {
	Send(ctx context.Context, tokens []string, title, body string, data map[string]interface{}) ([]contracts.DeliveryTicket, error)
}
