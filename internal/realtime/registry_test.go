package realtime

import (
	"sync"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
)

func TestRegistry_FirstAndLast(t *testing.T) {
	r := NewRegistry()
	alice := ident("alice")
	tab1, tab2 := newPeer(alice), newPeer(alice)

	require.True(t, r.Register(tab1))
	require.False(t, r.Register(tab2))
	require.Equal(t, 2, r.Count())
	require.Len(t, r.ConnectionsFor(alice.ID), 2)

	require.False(t, r.Unregister(tab1))
	require.True(t, r.IsOnline(alice.ID))

	require.True(t, r.Unregister(tab2))
	require.False(t, r.IsOnline(alice.ID))
	require.Empty(t, r.ConnectionsFor(alice.ID))
	require.Empty(t, r.Online())
	require.Zero(t, r.Count())
}

func TestRegistry_RegisterTwiceIsNoop(t *testing.T) {
	r := NewRegistry()
	p := newPeer(ident("bob"))

	require.True(t, r.Register(p))
	require.False(t, r.Register(p))
	require.Len(t, r.AllConnections(), 1)
	require.Equal(t, 1, r.Count())

	require.True(t, r.Unregister(p))
	require.False(t, r.Unregister(p), "second unregister of the same peer must not report last again")
	require.Zero(t, r.Count())
}

func TestRegistry_UnregisterUnknown(t *testing.T) {
	r := NewRegistry()
	a := ident("a")
	r.Register(newPeer(a))
	require.False(t, r.Unregister(newPeer(a)))
	require.False(t, r.Unregister(newPeer(ident("stranger"))))
	require.Equal(t, 1, r.Count())
}

func TestRegistry_SnapshotsAreSorted(t *testing.T) {
	r := NewRegistry()
	var peers []*fakePeer
	for _, n := range []string{"a", "b", "c", "a"} {
		p := newPeer(ident(n))
		peers = append(peers, p)
		r.Register(p)
	}
	all := r.AllConnections()
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		require.Less(t, all[i-1].ID(), all[i].ID())
	}
	require.Nil(t, r.ConnectionsFor(uuid.Must(uuid.NewV4())))
}

func TestRegistry_ConcurrentMutationAndIteration(t *testing.T) {
	r := NewRegistry()
	users := []*fakePeer{}
	for i := 0; i < 8; i++ {
		users = append(users, newPeer(ident("u")))
	}

	var wg sync.WaitGroup
	for _, p := range users {
		wg.Add(1)
		go func(p *fakePeer) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				r.Register(p)
				_ = r.AllConnections()
				_ = r.ConnectionsFor(p.ident.ID)
				r.Unregister(p)
			}
		}(p)
	}
	wg.Wait()
	require.Zero(t, r.Count())
	require.Empty(t, r.Online())
}
