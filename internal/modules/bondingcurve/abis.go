package bondingcurve

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// launchpadABI holds the events emitted by the launchpad contract. Argument
// names and order must match the deployed contract exactly.
const launchpadABI = `[
  {
    "type": "event",
    "name": "CreatePool",
    "anonymous": false,
    "inputs": [
      {"indexed": true,  "name": "agentAddress", "type": "address"},
      {"indexed": true,  "name": "creator", "type": "address"},
      {"indexed": false, "name": "name", "type": "string"},
      {"indexed": false, "name": "ticker", "type": "string"},
      {"indexed": false, "name": "description", "type": "string"},
      {"indexed": false, "name": "imageUrl", "type": "string"},
      {"indexed": false, "name": "socialLinks", "type": "tuple", "internalType": "struct SocialLinks",
        "components": [
          {"name": "x", "type": "string"},
          {"name": "youtube", "type": "string"},
          {"name": "discord", "type": "string"},
          {"name": "github", "type": "string"}
        ]},
      {"indexed": false, "name": "virtualEthReserves", "type": "uint256"},
      {"indexed": false, "name": "virtualTokenReserves", "type": "uint256"}
    ]
  },
  {
    "type": "event",
    "name": "Trade",
    "anonymous": false,
    "inputs": [
      {"indexed": true,  "name": "agentAddress", "type": "address"},
      {"indexed": true,  "name": "user", "type": "address"},
      {"indexed": false, "name": "ethAmount", "type": "uint256"},
      {"indexed": false, "name": "tokenAmount", "type": "uint256"},
      {"indexed": false, "name": "isBuy", "type": "bool"},
      {"indexed": false, "name": "virtualEthReserves", "type": "uint256"},
      {"indexed": false, "name": "virtualTokenReserves", "type": "uint256"}
    ]
  },
  {
    "type": "event",
    "name": "Complete",
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "user", "type": "address"},
      {"indexed": true, "name": "agentAddress", "type": "address"}
    ]
  },
  {
    "type": "event",
    "name": "OpenTradingOnUniswap",
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "agentAddress", "type": "address"},
      {"indexed": true, "name": "uniswapV2Pair", "type": "address"}
    ]
  }
]`

// LaunchpadABI parses the launchpad event ABI.
func LaunchpadABI() (*abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(launchpadABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse launchpad ABI: %w", err)
	}
	return &parsed, nil
}
