package membership

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Sh00ty/rapidring/internal/endpoint"
)

func ep(port int) endpoint.Endpoint {
	return endpoint.Endpoint{Host: "127.0.0.1", Port: port}
}

func nid(s string) endpoint.NodeID { return endpoint.NodeID(s) }

func TestNewRejectsKExceedingSeeds(t *testing.T) {
	_, err := New(len(ringSeeds)+1, nil, nil)
	require.Error(t, err)
}

func TestNewRejectsMismatchedLengths(t *testing.T) {
	_, err := New(3, []endpoint.Endpoint{ep(1)}, nil)
	require.Error(t, err)
}

func TestAddRejectsDuplicateEndpoint(t *testing.T) {
	v, err := New(3, []endpoint.Endpoint{ep(1)}, []endpoint.NodeID{nid("a")})
	require.NoError(t, err)

	err = v.Add(ep(1), nid("b"))
	require.ErrorIs(t, err, ErrHostnameAlreadyInRing)
}

func TestAddRejectsSeenNodeID(t *testing.T) {
	v, err := New(3, []endpoint.Endpoint{ep(1)}, []endpoint.NodeID{nid("a")})
	require.NoError(t, err)

	v.Remove(ep(1))
	err = v.Add(ep(2), nid("a"))
	require.ErrorIs(t, err, ErrUUIDAlreadyInRing)
}

func TestSingleMemberObservesItself(t *testing.T) {
	v, err := New(5, []endpoint.Endpoint{ep(1)}, []endpoint.NodeID{nid("a")})
	require.NoError(t, err)

	subjects := v.SubjectsOf(ep(1))
	require.Len(t, subjects, 5)
	for _, s := range subjects {
		require.Equal(t, ep(1), s)
	}
}

func TestEveryMemberHasKObserversOnceClusterExceedsK(t *testing.T) {
	const k = 4
	members := []endpoint.Endpoint{ep(1), ep(2), ep(3), ep(4), ep(5), ep(6)}
	ids := []endpoint.NodeID{nid("a"), nid("b"), nid("c"), nid("d"), nid("e"), nid("f")}
	v, err := New(k, members, ids)
	require.NoError(t, err)

	for _, m := range members {
		observers := v.ObserversOf(m)
		require.Len(t, observers, k)
		subjects := v.SubjectsOf(m)
		require.Len(t, subjects, k)
	}
}

func TestObserverSubjectRelationIsMutual(t *testing.T) {
	const k = 3
	members := []endpoint.Endpoint{ep(1), ep(2), ep(3), ep(4), ep(5)}
	ids := []endpoint.NodeID{nid("a"), nid("b"), nid("c"), nid("d"), nid("e")}
	v, err := New(k, members, ids)
	require.NoError(t, err)

	for ring := 0; ring < k; ring++ {
		for _, m := range members {
			successor, ok := v.RingSuccessor(m, ring)
			require.True(t, ok)
			require.Contains(t, v.ObserversOf(successor), m, "successor's observers must include its predecessor")
		}
	}
}

func TestConfigurationIDChangesOnMembershipChange(t *testing.T) {
	v, err := New(3, []endpoint.Endpoint{ep(1)}, []endpoint.NodeID{nid("a")})
	require.NoError(t, err)

	before := v.ConfigurationID()
	require.NoError(t, v.Add(ep(2), nid("b")))
	after := v.ConfigurationID()
	require.NotEqual(t, before, after)
}

func TestExpectedObserversOfMatchesPostAddObservers(t *testing.T) {
	const k = 3
	members := []endpoint.Endpoint{ep(1), ep(2), ep(3)}
	ids := []endpoint.NodeID{nid("a"), nid("b"), nid("c")}
	v, err := New(k, members, ids)
	require.NoError(t, err)

	joiner := ep(4)
	expected := v.ExpectedObserversOf(joiner)

	require.NoError(t, v.Add(joiner, nid("d")))
	actual := v.ObserversOf(joiner)

	require.ElementsMatch(t, expected, actual)
}
