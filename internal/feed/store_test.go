package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/yfeed/internal/models"
)

func TestStoreSubscribeAndSnapshot(t *testing.T) {
	s := NewStore()
	assert.Empty(t, s.Snapshot())
	assert.Equal(t, StateConnecting, s.State().Kind)

	var first, second [][]string
	unsubFirst := s.Subscribe(func(posts []models.Post) { first = append(first, ids(posts)) })
	s.Subscribe(func(posts []models.Post) { second = append(second, ids(posts)) })
	assert.Equal(t, 2, s.SubscriberCount())

	require.True(t, s.publish([]models.Post{post("b", 2), post("a", 1)}))
	assert.Equal(t, [][]string{{"b", "a"}}, first)
	assert.Equal(t, [][]string{{"b", "a"}}, second)
	assert.Equal(t, []string{"b", "a"}, ids(s.Snapshot()))

	unsubFirst()
	unsubFirst()
	assert.Equal(t, 1, s.SubscriberCount())

	s.publish([]models.Post{post("c", 3)})
	assert.Len(t, first, 1)
	assert.Len(t, second, 2)
}

func TestStoreSubscribersGetCopies(t *testing.T) {
	s := NewStore()
	s.Subscribe(func(posts []models.Post) {
		posts[0].Tags[0] = "mutated"
		posts[0].Note = "mutated"
	})
	var seen []models.Post
	s.Subscribe(func(posts []models.Post) { seen = posts })

	p := post("a", 1)
	p.Tags = []string{"go"}
	s.publish([]models.Post{p})

	assert.Equal(t, "go", seen[0].Tags[0])
	assert.Equal(t, "note a", seen[0].Note)
	assert.Equal(t, "go", s.Snapshot()[0].Tags[0])
}

func TestStoreHandlerMayReadSnapshot(t *testing.T) {
	s := NewStore()
	var inside []string
	s.Subscribe(func([]models.Post) { inside = ids(s.Snapshot()) })

	s.publish([]models.Post{post("a", 1)})
	assert.Equal(t, []string{"a"}, inside)
}

func TestStoreStateSubscribers(t *testing.T) {
	s := NewStore()
	var got []StateKind
	unsub := s.SubscribeState(func(st State) { got = append(got, st.Kind) })

	s.publishState(State{Kind: StateOpen})
	s.publishState(State{Kind: StateClosed})
	unsub()
	s.publishState(State{Kind: StateReconnecting, Attempt: 1})

	assert.Equal(t, []StateKind{StateOpen, StateClosed}, got)
	assert.Equal(t, StateReconnecting, s.State().Kind)
}

func TestStoreCloseDiscardsPublishes(t *testing.T) {
	s := NewStore()
	calls := 0
	s.Subscribe(func([]models.Post) { calls++ })
	s.publish([]models.Post{post("a", 1)})

	s.Close()
	assert.True(t, s.Closed())
	assert.False(t, s.publish([]models.Post{post("b", 2)}))
	assert.False(t, s.publishState(State{Kind: StateOpen}))

	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"a"}, ids(s.Snapshot()))
}

func TestStoreUnsubscribeFromAnotherHandler(t *testing.T) {
	s := NewStore()
	var unsubSecond func()
	firstCalls, secondCalls := 0, 0
	s.Subscribe(func([]models.Post) {
		firstCalls++
		unsubSecond()
	})
	unsubSecond = s.Subscribe(func([]models.Post) { secondCalls++ })

	s.publish([]models.Post{post("a", 1)})
	s.publish([]models.Post{post("b", 2)})
	assert.Equal(t, 2, firstCalls)
	assert.Zero(t, secondCalls)
	assert.Equal(t, 1, s.SubscriberCount())

	var unsubState func()
	var states []StateKind
	s.SubscribeState(func(State) { unsubState() })
	unsubState = s.SubscribeState(func(st State) { states = append(states, st.Kind) })

	s.publishState(State{Kind: StateOpen})
	assert.Empty(t, states)
}
