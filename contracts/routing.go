package contracts

import (
	"fmt"
	"strings"
)

// Category identifies the recipient scope a routing key addresses.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryIndividual
	CategoryTeam
	CategoryProvince
	CategoryGlobal
)

func (c Category) String() string {
	switch c {
	case CategoryIndividual:
		return "individual"
	case CategoryTeam:
		return "team"
	case CategoryProvince:
		return "province"
	case CategoryGlobal:
		return "global"
	default:
		return "unknown"
	}
}

// GlobalRoutingKey is the exact key for broadcasts to every registered user.
const GlobalRoutingKey = "all.users.notification"

// TeamEventKey builds a routing key for a team-scoped event notification.
func TeamEventKey(teamID, action string) string {
	return fmt.Sprintf("team.%s.event.%s", teamID, action)
}

// UserKey builds a routing key for an individual notification.
func UserKey(userID string) string {
	return fmt.Sprintf("user.%s.notification", userID)
}

// ProvinceKey builds a routing key for a province-scoped notification.
func ProvinceKey(provinceID string) string {
	return fmt.Sprintf("province.%s.notification", provinceID)
}

// Classification is the result of inspecting a routing key. ScopeID carries
// the team or province identifier embedded in the key; it is empty for
// global keys and for individual keys, where the recipient is taken from
// the payload when present.
type Classification struct {
	Category Category
	ScopeID  string
	Action   string
}

// Classify determines the category of a routing key from its leading tokens
// only. The payload is never consulted. Keys that match no known shape
// classify as CategoryUnknown; callers decide how to treat those.
func Classify(routingKey string) Classification {
	if routingKey == GlobalRoutingKey {
		return Classification{Category: CategoryGlobal, Action: "notification"}
	}

	tokens := strings.Split(routingKey, ".")

	switch tokens[0] {
	case "team":
		// team.<team_id>.event.<action>
		if len(tokens) == 4 && tokens[1] != "" && tokens[2] == "event" && tokens[3] != "" {
			return Classification{Category: CategoryTeam, ScopeID: tokens[1], Action: tokens[3]}
		}
	case "user":
		// user.<user_id>.notification
		if len(tokens) == 3 && tokens[1] != "" && tokens[2] == "notification" {
			return Classification{Category: CategoryIndividual, ScopeID: tokens[1], Action: "notification"}
		}
	case "province":
		// province.<province_id>.notification
		if len(tokens) == 3 && tokens[1] != "" && tokens[2] == "notification" {
			return Classification{Category: CategoryProvince, ScopeID: tokens[1], Action: "notification"}
		}
	}

	return Classification{Category: CategoryUnknown}
}

// ValidateRoutingKey checks a key against the publishable grammar. Publishers
// reject malformed keys before they reach the exchange; consumers never do,
// because an unknown key on the wire is dropped rather than treated as an
// error.
func ValidateRoutingKey(routingKey string) error {
	if routingKey == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidRoutingKey)
	}
	if Classify(routingKey).Category == CategoryUnknown {
		return fmt.Errorf("%w: %q", ErrInvalidRoutingKey, routingKey)
	}
	return nil
}
