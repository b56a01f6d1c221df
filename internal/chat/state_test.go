package chat

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceTransitions(t *testing.T) {
	p := NewPresence()

	assert.True(t, p.Register(1, "a"))
	assert.False(t, p.Register(1, "b"), "second device is not a transition")
	assert.False(t, p.Register(1, "b"), "same id twice is idempotent")
	assert.Equal(t, 2, p.Connections(1))

	assert.False(t, p.Unregister(1, "a"))
	assert.True(t, p.IsOnline(1))
	assert.True(t, p.Unregister(1, "b"))
	assert.False(t, p.IsOnline(1))

	assert.False(t, p.Unregister(1, "b"), "unknown id is a no-op")
	assert.False(t, p.Unregister(9, "zz"))
	assert.Empty(t, p.OnlineUsers())
}

// Random register/unregister sequences against a reference model: a user is
// online iff it has a registered connection, and signals fire only on 0->1
// and 1->0.
func TestPresenceMatchesModel(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 50; run++ {
		p := NewPresence()
		model := map[int]map[string]bool{}

		for step := 0; step < 200; step++ {
			user := rng.Intn(5) + 1
			conn := fmt.Sprintf("c%d", rng.Intn(4))
			before := len(model[user])

			if rng.Intn(2) == 0 {
				if model[user] == nil {
					model[user] = map[string]bool{}
				}
				model[user][conn] = true
				online := p.Register(user, conn)
				assert.Equal(t, before == 0, online)
			} else {
				delete(model[user], conn)
				offline := p.Unregister(user, conn)
				assert.Equal(t, before > 0 && len(model[user]) == 0, offline)
			}

			var want []int
			for u, set := range model {
				if len(set) > 0 {
					want = append(want, u)
				}
				require.Equal(t, len(set) > 0, p.IsOnline(u))
			}
			sort.Ints(want)
			if want == nil {
				want = []int{}
			}
			require.Equal(t, want, p.OnlineUsers())
		}
	}
}

func TestTyping(t *testing.T) {
	ty := NewTyping()

	ty.Start(1, 2)
	ty.Start(2, 1)
	assert.True(t, ty.IsTyping(1, 2))
	assert.True(t, ty.IsTyping(2, 1))
	assert.Equal(t, 1, ty.Len(), "one entry per unordered pair")

	assert.True(t, ty.Stop(1, 2))
	assert.False(t, ty.Stop(1, 2))
	assert.Equal(t, 1, ty.Len())
	assert.True(t, ty.Stop(2, 1))
	assert.Equal(t, 0, ty.Len())
}

func TestTypingClearUser(t *testing.T) {
	ty := NewTyping()
	ty.Start(1, 2)
	ty.Start(1, 3)
	ty.Start(4, 1)

	got := ty.ClearUser(1)
	sort.Ints(got)
	assert.Equal(t, []int{2, 3}, got)
	assert.False(t, ty.IsTyping(1, 2))
	assert.False(t, ty.IsTyping(1, 3))
	assert.True(t, ty.IsTyping(4, 1), "others keep typing")
	assert.Equal(t, 1, ty.Len())
	assert.Empty(t, ty.ClearUser(1))
}
