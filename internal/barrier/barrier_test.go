// ABOUTME: Tests for the loading barrier
// ABOUTME: Covers begin/resolve accounting, sealing, ClearAll and change callbacks

package barrier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBarrier_ReadyOnlyAfterAllResolved(t *testing.T) {
	b := New(nil, nil)
	b.Reset()
	b.Begin("A")
	b.Begin("B")
	b.Seal()

	b.Resolve("A")
	assert.False(t, b.Ready())

	b.Resolve("B")
	assert.True(t, b.Ready())
}

func TestBarrier_ClearAllForcesReady(t *testing.T) {
	b := New(nil, nil)
	b.Reset()
	b.Begin(TopicTheme)
	b.Begin(TopicUsers)
	b.Seal()

	b.ClearAll()
	assert.True(t, b.Ready())
	assert.Empty(t, b.Pending())
}

func TestBarrier_ResolveUnknownTopicIsNoop(t *testing.T) {
	b := New(nil, nil)
	b.Reset()
	b.Begin(TopicTheme)
	b.Seal()

	assert.False(t, b.Resolve(TopicLogo))
	assert.False(t, b.Ready())
	assert.Equal(t, []Topic{TopicTheme}, b.Pending())
}

func TestBarrier_NotReadyBeforeSeal(t *testing.T) {
	b := New(nil, nil)
	b.Reset()
	b.Begin(TopicTheme)
	b.Resolve(TopicTheme)
	assert.False(t, b.Ready(), "burst still issuing requests")

	b.Seal()
	assert.True(t, b.Ready())
}

func TestBarrier_EmptyBurstIsReadyOnSeal(t *testing.T) {
	b := New(nil, nil)
	b.Reset()
	b.Seal()
	assert.True(t, b.Ready())
}

func TestBarrier_ResetDiscardsPending(t *testing.T) {
	b := New(nil, nil)
	b.Begin(TopicRoles)
	b.Seal()
	b.ClearAll()
	assert.True(t, b.Ready())

	b.Reset()
	assert.False(t, b.Ready())
	assert.Empty(t, b.Pending())
}

func TestBarrier_ChangeCallbackFiresOnTransitionsOnly(t *testing.T) {
	var transitions []bool
	b := New(func(ready bool) { transitions = append(transitions, ready) }, nil)

	b.Reset() // already not ready: no transition
	b.Begin(TopicTheme)
	b.Begin(TopicSchemas)
	b.Seal()
	b.Resolve(TopicTheme)
	b.Resolve(TopicSchemas)
	b.ClearAll() // already ready: no transition
	b.Reset()

	assert.Equal(t, []bool{true, false}, transitions)
}

func TestBarrier_PendingSorted(t *testing.T) {
	b := New(nil, nil)
	b.Begin(TopicUsers)
	b.Begin(TopicContacts)
	b.Begin(TopicLogo)
	assert.Equal(t, []Topic{TopicContacts, TopicLogo, TopicUsers}, b.Pending())
}
