package database

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Pool is the projected state of one bonding-curve pool on one chain.
type Pool struct {
	Address        string `db:"address"`
	ChainID        int64  `db:"chain_id"`
	CreationTxHash string `db:"creation_tx_hash"`
	Creator        string `db:"creator"`

	Name          string `db:"name"`
	Ticker        string `db:"ticker"`
	Description   string `db:"description"`
	ImageURL      string `db:"image_url"`
	SocialX       string `db:"social_x"`
	SocialYoutube string `db:"social_youtube"`
	SocialDiscord string `db:"social_discord"`
	SocialGithub  string `db:"social_github"`

	VirtualEthReserves   *big.Int `db:"virtual_eth_reserves"`
	VirtualTokenReserves *big.Int `db:"virtual_token_reserves"`
	RealEthReserves      *big.Int `db:"real_eth_reserves"`
	RealTokenReserves    *big.Int `db:"real_token_reserves"`
	TokenTotalSupply     *big.Int `db:"token_total_supply"`
	MarketCapLimit       *big.Int `db:"market_cap_limit"`

	Complete      bool    `db:"complete"`
	UniswapV2Pair *string `db:"uniswap_v2_pair"`

	CreatedAtBlock     uint64 `db:"created_at_block"`
	CreatedAtTimestamp int64  `db:"created_at_timestamp"`
	UpdatedAtBlock     uint64 `db:"updated_at_block"`
	UpdatedAtTimestamp int64  `db:"updated_at_timestamp"`
}

// Trade is one immutable row of trade history. EthAmount is net of the protocol fee.
type Trade struct {
	ChainID              int64    `db:"chain_id"`
	TransactionHash      string   `db:"transaction_hash"`
	LogIndex             uint     `db:"log_index"`
	PoolAddress          string   `db:"pool_address"`
	UserAddress          string   `db:"user_address"`
	EthAmount            *big.Int `db:"eth_amount"`
	GrossEthAmount       *big.Int `db:"gross_eth_amount"`
	Fee                  *big.Int `db:"fee"`
	TokenAmount          *big.Int `db:"token_amount"`
	IsBuy                bool     `db:"is_buy"`
	VirtualEthReserves   *big.Int `db:"virtual_eth_reserves"`
	VirtualTokenReserves *big.Int `db:"virtual_token_reserves"`
	BlockNumber          uint64   `db:"block_number"`
	BlockTimestamp       int64    `db:"block_timestamp"`
}

type Completion struct {
	PoolAddress     string `db:"pool_address"`
	ChainID         int64  `db:"chain_id"`
	UserAddress     string `db:"user_address"`
	TransactionHash string `db:"transaction_hash"`
	BlockNumber     uint64 `db:"block_number"`
	BlockTimestamp  int64  `db:"block_timestamp"`
}

type UniswapOpening struct {
	ChainID         int64  `db:"chain_id"`
	TransactionHash string `db:"transaction_hash"`
	LogIndex        uint   `db:"log_index"`
	PoolAddress     string `db:"pool_address"`
	PairAddress     string `db:"pair_address"`
	BlockNumber     uint64 `db:"block_number"`
	BlockTimestamp  int64  `db:"block_timestamp"`
}

// IndexerState is the persisted per-chain cursor.
type IndexerState struct {
	ChainID         int64     `db:"chain_id"`
	LastBlockNumber uint64    `db:"last_block_number"`
	LastBlockHash   *string   `db:"last_block_hash"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// Helper functions for conversions

func HashToString(hash common.Hash) string {
	return hash.Hex()
}

// AddressToString returns the lower-case hex form used as the storage key.
func AddressToString(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// NormalizeAddress lower-cases a user supplied hex address.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

func BigIntToNumeric(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return value.String()
}

func NumericToBigInt(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", s)
	}
	return n, nil
}
