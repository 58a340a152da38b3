package bondingcurve

import (
	"errors"
	"fmt"
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum/common"

	"github.com/launchpad/indexer/internal/modules/core"
)

var (
	// ErrUnhandledEvent is returned for a decoded log no handler accepts.
	ErrUnhandledEvent = errors.New("unhandled launchpad event")

	// ErrMalformedEvent wraps argument type mismatches found while decoding.
	ErrMalformedEvent = errors.New("malformed launchpad event")
)

// Event is one decoded launchpad log. The set of implementations is closed.
type Event interface {
	Metadata() Meta
	isEvent()
}

// Meta locates an event on its chain.
type Meta struct {
	ChainID        int64
	Contract       common.Address
	TxHash         common.Hash
	BlockNumber    uint64
	LogIndex       uint
	BlockTimestamp int64
}

// SocialLinks mirrors the contract's SocialLinks struct. Field order matters
// for conversion from the decoded tuple.
type SocialLinks struct {
	X       string `json:"x"`
	Youtube string `json:"youtube"`
	Discord string `json:"discord"`
	Github  string `json:"github"`
}

type CreatePool struct {
	Meta
	AgentAddress         common.Address
	Creator              common.Address
	Name                 string
	Ticker               string
	Description          string
	ImageURL             string
	SocialLinks          SocialLinks
	VirtualEthReserves   *big.Int
	VirtualTokenReserves *big.Int
}

// Trade carries the gross ETH amount as emitted; the fee is taken off when it is applied.
type Trade struct {
	Meta
	AgentAddress         common.Address
	User                 common.Address
	EthAmount            *big.Int
	TokenAmount          *big.Int
	IsBuy                bool
	VirtualEthReserves   *big.Int
	VirtualTokenReserves *big.Int
}

type Complete struct {
	Meta
	User         common.Address
	AgentAddress common.Address
}

type OpenTradingOnUniswap struct {
	Meta
	AgentAddress  common.Address
	UniswapV2Pair common.Address
}

func (m Meta) Metadata() Meta { return m }

func (*CreatePool) isEvent()           {}
func (*Trade) isEvent()                {}
func (*Complete) isEvent()             {}
func (*OpenTradingOnUniswap) isEvent() {}

type decodeFunc func(args map[string]interface{}, meta Meta) (Event, error)

// decoders maps manifest handler names to their argument decoders.
var decoders = map[string]decodeFunc{
	"handleCreatePool":           decodeCreatePool,
	"handleTrade":                decodeTrade,
	"handleComplete":             decodeComplete,
	"handleOpenTradingOnUniswap": decodeOpenTrading,
}

func knownHandlers() map[string]bool {
	known := make(map[string]bool, len(decoders))
	for name := range decoders {
		known[name] = true
	}
	return known
}

// Decoder turns raw logs into Events using the launchpad ABI bound through
// the module manifest.
type Decoder struct {
	parser *core.EventParser
	byName map[string]decodeFunc
	topics []core.EventFilter
}

// NewDecoder binds the manifest's handlers to the launchpad ABI.
func NewDecoder(manifest *core.Manifest) (*Decoder, error) {
	contractABI, err := LaunchpadABI()
	if err != nil {
		return nil, err
	}

	bound, err := manifest.BindABI(contractABI, knownHandlers())
	if err != nil {
		return nil, err
	}

	d := &Decoder{
		parser: core.NewEventParser(),
		byName: make(map[string]decodeFunc, len(bound)),
	}
	d.parser.AddABI(contractABI)
	for handler, ev := range bound {
		d.byName[ev.Name] = decoders[handler]
		d.topics = append(d.topics, core.EventFilter{Topic0: ev.ID, Name: ev.Name})
	}
	return d, nil
}

// Filters lists the topics the decoder understands.
func (d *Decoder) Filters() []core.EventFilter {
	return d.topics
}

// Decode parses a log and returns the matching Event variant.
func (d *Decoder) Decode(parsed *core.ParsedEvent, chainID int64, timestamp uint64) (Event, error) {
	decode, ok := d.byName[parsed.EventName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnhandledEvent, parsed.EventName)
	}

	meta := Meta{
		ChainID:        chainID,
		Contract:       parsed.Address,
		TxHash:         parsed.TransactionHash,
		BlockNumber:    parsed.BlockNumber,
		LogIndex:       parsed.LogIndex,
		BlockTimestamp: int64(timestamp),
	}
	return decode(parsed.Args, meta)
}

func decodeCreatePool(args map[string]interface{}, meta Meta) (Event, error) {
	ev := &CreatePool{Meta: meta}
	var err error
	if ev.AgentAddress, err = argAddress(args, "agentAddress"); err != nil {
		return nil, err
	}
	if ev.Creator, err = argAddress(args, "creator"); err != nil {
		return nil, err
	}
	if ev.Name, err = argString(args, "name"); err != nil {
		return nil, err
	}
	if ev.Ticker, err = argString(args, "ticker"); err != nil {
		return nil, err
	}
	if ev.Description, err = argString(args, "description"); err != nil {
		return nil, err
	}
	if ev.ImageURL, err = argString(args, "imageUrl"); err != nil {
		return nil, err
	}
	if ev.SocialLinks, err = argSocialLinks(args, "socialLinks"); err != nil {
		return nil, err
	}
	if ev.VirtualEthReserves, err = argBigInt(args, "virtualEthReserves"); err != nil {
		return nil, err
	}
	if ev.VirtualTokenReserves, err = argBigInt(args, "virtualTokenReserves"); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeTrade(args map[string]interface{}, meta Meta) (Event, error) {
	ev := &Trade{Meta: meta}
	var err error
	if ev.AgentAddress, err = argAddress(args, "agentAddress"); err != nil {
		return nil, err
	}
	if ev.User, err = argAddress(args, "user"); err != nil {
		return nil, err
	}
	if ev.EthAmount, err = argBigInt(args, "ethAmount"); err != nil {
		return nil, err
	}
	if ev.TokenAmount, err = argBigInt(args, "tokenAmount"); err != nil {
		return nil, err
	}
	if ev.IsBuy, err = argBool(args, "isBuy"); err != nil {
		return nil, err
	}
	if ev.VirtualEthReserves, err = argBigInt(args, "virtualEthReserves"); err != nil {
		return nil, err
	}
	if ev.VirtualTokenReserves, err = argBigInt(args, "virtualTokenReserves"); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeComplete(args map[string]interface{}, meta Meta) (Event, error) {
	ev := &Complete{Meta: meta}
	var err error
	if ev.User, err = argAddress(args, "user"); err != nil {
		return nil, err
	}
	if ev.AgentAddress, err = argAddress(args, "agentAddress"); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeOpenTrading(args map[string]interface{}, meta Meta) (Event, error) {
	ev := &OpenTradingOnUniswap{Meta: meta}
	var err error
	if ev.AgentAddress, err = argAddress(args, "agentAddress"); err != nil {
		return nil, err
	}
	if ev.UniswapV2Pair, err = argAddress(args, "uniswapV2Pair"); err != nil {
		return nil, err
	}
	return ev, nil
}

func argAddress(args map[string]interface{}, name string) (common.Address, error) {
	v, ok := args[name].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s is %T, want address", ErrMalformedEvent, name, args[name])
	}
	return v, nil
}

func argString(args map[string]interface{}, name string) (string, error) {
	v, ok := args[name].(string)
	if !ok {
		return "", fmt.Errorf("%w: %s is %T, want string", ErrMalformedEvent, name, args[name])
	}
	return v, nil
}

func argBool(args map[string]interface{}, name string) (bool, error) {
	v, ok := args[name].(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s is %T, want bool", ErrMalformedEvent, name, args[name])
	}
	return v, nil
}

func argBigInt(args map[string]interface{}, name string) (*big.Int, error) {
	v, ok := args[name].(*big.Int)
	if !ok || v == nil {
		return nil, fmt.Errorf("%w: %s is %T, want uint256", ErrMalformedEvent, name, args[name])
	}
	return new(big.Int).Set(v), nil
}

// argSocialLinks converts the anonymous struct the ABI decoder builds for
// the tuple into SocialLinks.
func argSocialLinks(args map[string]interface{}, name string) (SocialLinks, error) {
	raw := reflect.ValueOf(args[name])
	target := reflect.TypeOf(SocialLinks{})
	if !raw.IsValid() || !raw.Type().ConvertibleTo(target) {
		return SocialLinks{}, fmt.Errorf("%w: %s is %T, want tuple(string,string,string,string)", ErrMalformedEvent, name, args[name])
	}
	return raw.Convert(target).Interface().(SocialLinks), nil
}
