package event

import "slices"

// Action is a canonical webhook action a VC's webhook config can allow.
type Action string

const (
	ActionPROpened   Action = "pr_opened"
	ActionPRUpdated  Action = "pr_updated"
	ActionCommitPush Action = "commit_push"
	ActionRepoPush   Action = "repo_push"
)

// IsValid checks if the action is known.
func (a Action) IsValid() bool {
	_, ok := allowList[a]
	return ok
}

// allowList maps canonical actions to the raw event names each provider emits.
// Iteration order matters where two actions share a raw name, so lookups go through actionOrder.
var allowList = map[Action]map[Provider][]string{
	ActionPROpened: {
		ProviderBitbucket: {"pullrequest:created"},
		ProviderGitHub:    {"pull_request_opened", "pull_request_reopened"},
		ProviderGitLab:    {"Merge Request Hook:opened"},
	},
	ActionPRUpdated: {
		ProviderBitbucket: {"pullrequest:updated"},
		ProviderGitHub:    {"pull_request_edited", "pull_request_synchronize"},
		ProviderGitLab:    {"Merge Request Hook:updated"},
	},
	ActionCommitPush: {
		ProviderBitbucket: {"repo:push"},
		ProviderGitHub:    {"push"},
		ProviderGitLab:    {"Push Hook"},
	},
	ActionRepoPush: {
		ProviderBitbucket: {"repo:push"},
		ProviderGitHub:    {"push"},
		ProviderGitLab:    {"Push Hook"},
	},
}

var actionOrder = []Action{ActionPROpened, ActionPRUpdated, ActionCommitPush, ActionRepoPush}

// ActionsFor returns every canonical action the raw event maps to for the provider.
// A push maps to both commit_push and repo_push.
func ActionsFor(p Provider, rawEvent string) []Action {
	var out []Action
	for _, a := range actionOrder {
		if slices.Contains(allowList[a][p], rawEvent) {
			out = append(out, a)
		}
	}
	return out
}

// ClassifyRaw returns the first canonical action for the raw event, or false when unmapped.
func ClassifyRaw(p Provider, rawEvent string) (Action, bool) {
	actions := ActionsFor(p, rawEvent)
	if len(actions) == 0 {
		return "", false
	}
	return actions[0], true
}

// Allowed reports whether any canonical action of the raw event is in the allowed set.
func Allowed(p Provider, rawEvent string, allowed []Action) bool {
	for _, a := range ActionsFor(p, rawEvent) {
		if slices.Contains(allowed, a) {
			return true
		}
	}
	return false
}
