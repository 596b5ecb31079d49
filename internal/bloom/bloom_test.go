package bloom

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/evmindex/realtime-sync-core/internal/config"
)

func bloomFor(addr common.Address, topics ...common.Hash) types.Bloom {
	var b types.Bloom
	types.BloomAdd(&b, addr.Bytes())
	for _, t := range topics {
		types.BloomAdd(&b, t.Bytes())
	}
	return b
}

func TestMightMatch_AddressAndTopicPresent(t *testing.T) {
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	topic := common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222222")

	b := bloomFor(addr, topic)

	filters := []config.FilterSpec{
		{Address: addr, Topics: [4][]common.Hash{{topic}, nil, nil, nil}},
	}

	require.True(t, MightMatch(b, filters))
}

func TestMightMatch_MissingAddress(t *testing.T) {
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	other := common.HexToAddress("0x3333333333333333333333333333333333333333")

	b := bloomFor(addr)

	filters := []config.FilterSpec{{Address: other}}

	require.False(t, MightMatch(b, filters))
}

func TestMightMatch_MissingTopic(t *testing.T) {
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	topic := common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222222")
	missingTopic := common.HexToHash("0x4444444444444444444444444444444444444444444444444444444444444444")

	b := bloomFor(addr, topic)

	filters := []config.FilterSpec{
		{Address: addr, Topics: [4][]common.Hash{{missingTopic}, nil, nil, nil}},
	}

	require.False(t, MightMatch(b, filters))
}

func TestMightMatch_NilTopicMeansAny(t *testing.T) {
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	b := bloomFor(addr)

	filters := []config.FilterSpec{{Address: addr}}

	require.True(t, MightMatch(b, filters))
}

func TestMightMatch_AnyFilterPasses(t *testing.T) {
	addr1 := common.HexToAddress("0x1111111111111111111111111111111111111111")
	addr2 := common.HexToAddress("0x2222222222222222222222222222222222222222")

	b := bloomFor(addr2)

	filters := []config.FilterSpec{
		{Address: addr1},
		{Address: addr2},
	}

	require.True(t, MightMatch(b, filters))
}

func TestMightMatch_TopicAtAnyPosition(t *testing.T) {
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	topic1 := common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222222")

	b := bloomFor(addr, topic1)

	filters := []config.FilterSpec{
		{Address: addr, Topics: [4][]common.Hash{nil, {topic1}, nil, nil}},
	}

	require.True(t, MightMatch(b, filters))
}

func TestMightMatch_MultipleAllowedTopicValues(t *testing.T) {
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	topicA := common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222222")
	topicB := common.HexToHash("0x5555555555555555555555555555555555555555555555555555555555555555")

	b := bloomFor(addr, topicB)

	filters := []config.FilterSpec{
		{Address: addr, Topics: [4][]common.Hash{{topicA, topicB}, nil, nil, nil}},
	}

	require.True(t, MightMatch(b, filters))
}

func TestMightMatch_NoFilters(t *testing.T) {
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	b := bloomFor(addr)

	require.False(t, MightMatch(b, nil))
}
