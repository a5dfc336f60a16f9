package flow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionFromLanding(t *testing.T) {
	state, action := transition(stateLanding, navObservation{ProjectURL: false})
	assert.Equal(t, stateAwaitingNewProject, state)
	assert.Equal(t, actClickNewProject, action)

	// Restored session can drop straight into an old project.
	state, action = transition(stateLanding, navObservation{ProjectURL: true})
	assert.Equal(t, stateInExistingProject, state)
	assert.Equal(t, actForceFreshProject, action)
}

func TestTransitionFromAwaiting(t *testing.T) {
	state, action := transition(stateAwaitingNewProject, navObservation{ProjectURL: true})
	assert.Equal(t, stateProjectReady, state)
	assert.Equal(t, actVerifyPrompt, action)

	state, action = transition(stateAwaitingNewProject, navObservation{ProjectURL: false})
	assert.Equal(t, stateAwaitingNewProject, state)
	assert.Equal(t, actRetryNavigation, action)
}

func TestTransitionFromExistingProject(t *testing.T) {
	state, action := transition(stateInExistingProject, navObservation{ProjectURL: true})
	assert.Equal(t, stateProjectReady, state)
	assert.Equal(t, actVerifyPrompt, action)

	// Fresh-project click navigated away from the project URL, so the
	// machine falls back to the new-project path.
	state, action = transition(stateInExistingProject, navObservation{ProjectURL: false})
	assert.Equal(t, stateAwaitingNewProject, state)
	assert.Equal(t, actClickNewProject, action)
}

func TestCacheBustURL(t *testing.T) {
	busted := cacheBustURL("https://example.com/tools/flow")
	assert.True(t, strings.HasPrefix(busted, "https://example.com/tools/flow?fresh="))

	busted = cacheBustURL("https://example.com/tools/flow?tab=1")
	assert.True(t, strings.HasPrefix(busted, "https://example.com/tools/flow?tab=1&fresh="))

	// Consecutive calls never produce the same URL.
	assert.NotEqual(t, cacheBustURL("https://x"), cacheBustURL("https://x"))
}

func TestNavStateString(t *testing.T) {
	assert.Equal(t, "landing", stateLanding.String())
	assert.Equal(t, "awaiting_new_project", stateAwaitingNewProject.String())
	assert.Equal(t, "in_existing_project", stateInExistingProject.String())
	assert.Equal(t, "project_ready", stateProjectReady.String())
}
