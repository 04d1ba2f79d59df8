package fanout

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/clubcast/clubcast-go/contracts"
)

const (
	defaultTeamEventBody = "A new team event has occurred"
	defaultGlobalTitle   = "Global Notification"
)

// loggerSetter lets the dispatcher push its logger into the standard
// strategies after options are applied.
type loggerSetter interface {
	setLogger(*slog.Logger)
}

// pushDispatch is the shared tail of every strategy: hand the resolved
// token set to push delivery and log the outcome. Push failures are best
// effort by contract; they never propagate into the ack decision.
type pushDispatch struct {
	lookup TokenLookup
	push   PushDelivery
	logger *slog.Logger
}

func (p *pushDispatch) setLogger(logger *slog.Logger) {
	p.logger = logger
}

func (p *pushDispatch) send(ctx context.Context, category contracts.Category, tokens []string, title, body string, data map[string]interface{}) {
	if len(tokens) == 0 {
		p.logger.Info("no recipients for notification",
			"category", category.String(),
			"title", title,
		)
		return
	}

	tickets, err := p.push.Send(ctx, tokens, title, body, data)
	if err != nil {
		p.logger.Error("push delivery failed",
			"category", category.String(),
			"tokens", len(tokens),
			"error", err,
		)
		return
	}

	if failed := contracts.FailedTickets(tickets); len(failed) > 0 {
		p.logger.Warn("push delivery partially failed",
			"category", category.String(),
			"tokens", len(tokens),
			"failed", len(failed),
			"firstDetail", failed[0].Detail,
		)
	}
}

// IndividualStrategy delivers to one user's device.
type IndividualStrategy struct {
	pushDispatch
}

// NewIndividualStrategy creates the individual-notification strategy.
func NewIndividualStrategy(lookup TokenLookup, push PushDelivery) *IndividualStrategy {
	return &IndividualStrategy{pushDispatch{lookup: lookup, push: push, logger: slog.Default()}}
}

// Deliver resolves the recipient from the payload's user_id, falling back
// to the routing key's embedded id, and pushes to that single token. A user
// with no registered device is an expected state, not an error.
func (s *IndividualStrategy) Deliver(ctx context.Context, c contracts.Classification, env *contracts.Envelope) error {
	userID, ok := contracts.StringField(env.Body, "user_id")
	if !ok {
		userID = c.ScopeID
	}
	if userID == "" {
		s.logger.Warn("individual notification without a recipient id")
		return nil
	}

	title, hasTitle := contracts.StringField(env.Body, "title")
	body, hasBody := contracts.StringField(env.Body, "body")
	if !hasTitle || !hasBody {
		s.logger.Warn("individual notification missing title or body",
			"userId", userID,
			"hasTitle", hasTitle,
			"hasBody", hasBody,
		)
		return nil
	}

	token, err := s.lookup.GetUserToken(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to look up token for user %s: %w", userID, err)
	}
	if token == "" {
		s.logger.Info("user has no registered device", "userId", userID)
		return nil
	}

	data, _ := contracts.MapField(env.Body, "data")
	s.send(ctx, c.Category, []string{token}, title, body, data)
	return nil
}

// TeamStrategy delivers to a team's full roster.
type TeamStrategy struct {
	pushDispatch
}

// NewTeamStrategy creates the team-notification strategy.
func NewTeamStrategy(lookup TokenLookup, push PushDelivery) *TeamStrategy {
	return &TeamStrategy{pushDispatch{lookup: lookup, push: push, logger: slog.Default()}}
}

// Deliver resolves the roster's tokens by team id. The title comes from the
// nested body object and the text from the top-level description field.
func (s *TeamStrategy) Deliver(ctx context.Context, c contracts.Classification, env *contracts.Envelope) error {
	tokens, err := s.lookup.GetTeamPlayerTokens(ctx, c.ScopeID)
	if err != nil {
		return fmt.Errorf("failed to look up roster tokens for team %s: %w", c.ScopeID, err)
	}

	var title string
	if inner, ok := contracts.MapField(env.Body, "body"); ok {
		title, _ = contracts.StringField(inner, "title")
	}

	body, ok := contracts.StringField(env.Body, "description")
	if !ok {
		body = defaultTeamEventBody
	}

	data, _ := contracts.MapField(env.Body, "data")
	s.send(ctx, c.Category, tokens, title, body, data)
	return nil
}

// ProvinceStrategy delivers to every user registered in a province.
type ProvinceStrategy struct {
	pushDispatch
}

// NewProvinceStrategy creates the province-notification strategy.
func NewProvinceStrategy(lookup TokenLookup, push PushDelivery) *ProvinceStrategy {
	return &ProvinceStrategy{pushDispatch{lookup: lookup, push: push, logger: slog.Default()}}
}

// Deliver resolves tokens by province id. The payload must carry a nested
// body object; without one the message is logged and skipped.
func (s *ProvinceStrategy) Deliver(ctx context.Context, c contracts.Classification, env *contracts.Envelope) error {
	inner, ok := contracts.MapField(env.Body, "body")
	if !ok {
		s.logger.Warn("province notification without a body object", "provinceId", c.ScopeID)
		return nil
	}

	tokens, err := s.lookup.GetProvinceUserTokens(ctx, c.ScopeID)
	if err != nil {
		return fmt.Errorf("failed to look up tokens for province %s: %w", c.ScopeID, err)
	}

	title, _ := contracts.StringField(inner, "title")
	content, _ := contracts.StringField(inner, "content")

	data, _ := contracts.MapField(env.Body, "data")
	s.send(ctx, c.Category, tokens, title, content, data)
	return nil
}

// GlobalStrategy broadcasts to every registered device.
type GlobalStrategy struct {
	pushDispatch
}

// NewGlobalStrategy creates the global-broadcast strategy.
func NewGlobalStrategy(lookup TokenLookup, push PushDelivery) *GlobalStrategy {
	return &GlobalStrategy{pushDispatch{lookup: lookup, push: push, logger: slog.Default()}}
}

// Deliver broadcasts to all registered tokens. The notification content
// lives in a nested object under "body" or, for older publishers,
// "notification". Keys other than title and content pass through as
// auxiliary push data.
func (s *GlobalStrategy) Deliver(ctx context.Context, c contracts.Classification, env *contracts.Envelope) error {
	inner, ok := contracts.MapField(env.Body, "body")
	if !ok {
		inner, ok = contracts.MapField(env.Body, "notification")
	}
	if !ok {
		s.logger.Warn("global notification without a body object")
		return nil
	}

	title, hasTitle := contracts.StringField(inner, "title")
	if !hasTitle {
		title = defaultGlobalTitle
	}

	content, hasContent := contracts.StringField(inner, "content")
	if !hasContent {
		// Older publishers put the text under "body".
		content, _ = contracts.StringField(inner, "body")
	}

	tokens, err := s.lookup.GetAllUserTokens(ctx)
	if err != nil {
		return fmt.Errorf("failed to look up all user tokens: %w", err)
	}

	data := make(map[string]interface{})
	for key, value := range inner {
		switch key {
		case "title", "content", "body":
			continue
		case "data":
			if nested, ok := value.(map[string]interface{}); ok {
				for k, v := range nested {
					data[k] = v
				}
				continue
			}
		}
		data[key] = value
	}

	s.send(ctx, c.Category, tokens, title, content, data)
	return nil
}
