package event

import (
	"errors"
	"testing"

	"github.com/openctemio/scangate/pkg/domain/shared"
)

func TestClassifyRaw(t *testing.T) {
	tests := []struct {
		name     string
		provider Provider
		raw      string
		want     Action
		ok       bool
	}{
		{"github opened", ProviderGitHub, "pull_request_opened", ActionPROpened, true},
		{"github reopened", ProviderGitHub, "pull_request_reopened", ActionPROpened, true},
		{"github synchronize", ProviderGitHub, "pull_request_synchronize", ActionPRUpdated, true},
		{"github closed", ProviderGitHub, "pull_request_closed", "", false},
		{"github push", ProviderGitHub, "push", ActionCommitPush, true},
		{"gitlab opened", ProviderGitLab, "Merge Request Hook:opened", ActionPROpened, true},
		{"gitlab merged", ProviderGitLab, "Merge Request Hook:merged", "", false},
		{"gitlab push", ProviderGitLab, "Push Hook", ActionCommitPush, true},
		{"bitbucket created", ProviderBitbucket, "pullrequest:created", ActionPROpened, true},
		{"bitbucket push", ProviderBitbucket, "repo:push", ActionCommitPush, true},
		{"cross provider", ProviderBitbucket, "push", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ClassifyRaw(tt.provider, tt.raw)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ClassifyRaw(%s, %q) = %q, %v; want %q, %v", tt.provider, tt.raw, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestAllowed_PushMatchesEitherPushAction(t *testing.T) {
	if !Allowed(ProviderGitHub, "push", []Action{ActionRepoPush}) {
		t.Error("repo_push should allow a github push")
	}
	if !Allowed(ProviderGitLab, "Push Hook", []Action{ActionCommitPush}) {
		t.Error("commit_push should allow a gitlab push")
	}
	if Allowed(ProviderGitHub, "push", []Action{ActionPROpened}) {
		t.Error("pr_opened must not allow a push")
	}
}

func TestValidationError(t *testing.T) {
	err := MissingKey(ProviderGitHub, "sender")
	if err.Error() != "github: missing required key 'sender'" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !shared.IsValidation(err) {
		t.Error("ValidationError should unwrap to shared.ErrValidation")
	}
	var ve *ValidationError
	if !errors.As(error(err), &ve) || ve.Field != "sender" {
		t.Error("errors.As should recover the field")
	}
}
