package core

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const transferABI = `[{"anonymous":false,"inputs":[
	{"indexed":true,"name":"from","type":"address"},
	{"indexed":true,"name":"to","type":"address"},
	{"indexed":false,"name":"value","type":"uint256"}],
	"name":"Transfer","type":"event"}]`

func newTransferParser(t *testing.T) (*EventParser, abi.ABI) {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(transferABI))
	require.NoError(t, err)
	p := NewEventParser()
	p.AddABI(&parsed)
	return p, parsed
}

func TestParseEvent_IndexedAndData(t *testing.T) {
	p, parsed := newTransferParser(t)
	ev := parsed.Events["Transfer"]

	from := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	to := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(42))
	require.NoError(t, err)

	log := &types.Log{
		Address:     common.HexToAddress("0x01"),
		Topics:      []common.Hash{ev.ID, common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())},
		Data:        data,
		BlockNumber: 7,
		TxHash:      common.HexToHash("0xabc"),
		Index:       3,
	}

	pe, err := p.ParseEvent(log)
	require.NoError(t, err)
	assert.Equal(t, "Transfer", pe.EventName)
	assert.Equal(t, from, pe.Args["from"])
	assert.Equal(t, to, pe.Args["to"])
	value, ok := pe.Args["value"].(*big.Int)
	require.True(t, ok)
	assert.Equal(t, "42", value.String())
	assert.Equal(t, uint64(7), pe.BlockNumber)
	assert.Equal(t, uint(3), pe.LogIndex)
}

func TestParseEvent_Errors(t *testing.T) {
	p, parsed := newTransferParser(t)
	ev := parsed.Events["Transfer"]

	_, err := p.ParseEvent(&types.Log{})
	assert.IsType(t, ErrInvalidEvent{}, err)

	_, err = p.ParseEvent(&types.Log{Topics: []common.Hash{common.HexToHash("0xdead")}})
	assert.IsType(t, ErrUnknownEvent{}, err)

	_, err = p.ParseEvent(&types.Log{Topics: []common.Hash{ev.ID}})
	assert.IsType(t, ErrInvalidEvent{}, err)

	_, err = p.ParseEvent(&types.Log{
		Topics: []common.Hash{ev.ID, {}, {}},
		Data:   []byte{0x01, 0x02},
	})
	assert.IsType(t, ErrEventParsing{}, err)
}

const sampleManifest = `
name: transfers
version: 0.1.0
dataSources:
  - name: Token
    source:
      abi: ERC20
    mapping:
      entities: [Transfer]
      eventHandlers:
        - event: Transfer(address,address,uint256)
          handler: handleTransfer
`

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(sampleManifest))
	require.NoError(t, err)
	assert.Equal(t, "transfers", m.Name)
	assert.Equal(t, "ethereum/contract", m.DataSources[0].Kind)
	assert.Equal(t, "ethereum/events", m.DataSources[0].Mapping.Kind)

	_, parsed := newTransferParser(t)
	bound, err := m.BindABI(&parsed, map[string]bool{"handleTransfer": true})
	require.NoError(t, err)
	assert.Equal(t, "Transfer", bound["handleTransfer"].Name)

	_, err = m.BindABI(&parsed, map[string]bool{})
	assert.Error(t, err)
}

func TestParseManifest_Invalid(t *testing.T) {
	_, err := ParseManifest([]byte("name: x\n"))
	assert.Error(t, err)

	m, err := ParseManifest([]byte(strings.Replace(sampleManifest, "uint256)", "uint128)", 1)))
	require.NoError(t, err)
	_, parsed := newTransferParser(t)
	_, err = m.BindABI(&parsed, map[string]bool{"handleTransfer": true})
	assert.Error(t, err)
}
