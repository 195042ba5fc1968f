package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// predictionMarketABI is the minimal ABI surface C2 needs: the rounds/
// currentEpoch view calls and the three event signatures it decodes.
// Grounded on the shape of ChoSanghyuk-blackholedex's ABI-bound contract
// calls (abi.JSON + Call/FilterLogs), adapted to a PancakePredictionV2-
// style binary options market.
const predictionMarketABIJSON = `[
	{
		"inputs": [{"internalType":"uint256","name":"epoch","type":"uint256"}],
		"name": "rounds",
		"outputs": [
			{"internalType":"uint256","name":"epoch","type":"uint256"},
			{"internalType":"uint256","name":"startTimestamp","type":"uint256"},
			{"internalType":"uint256","name":"lockTimestamp","type":"uint256"},
			{"internalType":"uint256","name":"closeTimestamp","type":"uint256"},
			{"internalType":"int256","name":"lockPrice","type":"int256"},
			{"internalType":"int256","name":"closePrice","type":"int256"},
			{"internalType":"uint256","name":"lockOracleId","type":"uint256"},
			{"internalType":"uint256","name":"closeOracleId","type":"uint256"},
			{"internalType":"uint256","name":"totalAmount","type":"uint256"},
			{"internalType":"uint256","name":"bullAmount","type":"uint256"},
			{"internalType":"uint256","name":"bearAmount","type":"uint256"},
			{"internalType":"uint256","name":"rewardBaseCalAmount","type":"uint256"},
			{"internalType":"uint256","name":"rewardAmount","type":"uint256"},
			{"internalType":"bool","name":"oracleCalled","type":"bool"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "currentEpoch",
		"outputs": [{"internalType":"uint256","name":"","type":"uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed":true,"internalType":"address","name":"sender","type":"address"},
			{"indexed":true,"internalType":"uint256","name":"epoch","type":"uint256"},
			{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}
		],
		"name": "BetBull",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed":true,"internalType":"address","name":"sender","type":"address"},
			{"indexed":true,"internalType":"uint256","name":"epoch","type":"uint256"},
			{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}
		],
		"name": "BetBear",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed":true,"internalType":"address","name":"sender","type":"address"},
			{"indexed":true,"internalType":"uint256","name":"epoch","type":"uint256"},
			{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}
		],
		"name": "Claim",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [{"indexed":true,"internalType":"uint256","name":"epoch","type":"uint256"}],
		"name": "StartRound",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed":true,"internalType":"uint256","name":"epoch","type":"uint256"},
			{"indexed":false,"internalType":"uint256","name":"roundId","type":"uint256"},
			{"indexed":false,"internalType":"int256","name":"price","type":"int256"}
		],
		"name": "LockRound",
		"type": "event"
	}
]`

// loadABI parses the embedded ABI. A failure here is the "contract ABI
// load failure at startup" fatal condition named in §7.
func loadABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(predictionMarketABIJSON))
}
