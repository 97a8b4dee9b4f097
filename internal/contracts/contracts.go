// Package contracts holds the ABI definitions of every contract the adapters talk to.
package contracts

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ERC20 covers the token methods the executor and balance readers need
var ERC20 = mustParse("erc20", erc20JSON)

// CToken is a Compound v2 market holding an ERC20 underlying
var CToken = mustParse("ctoken", cTokenJSON)

// CEther is the Compound v2 market whose underlying is the native currency
var CEther = mustParse("cether", cEtherJSON)

// Comptroller is the Compound v2 risk manager
var Comptroller = mustParse("comptroller", comptrollerJSON)

// AavePool is the Aave V3 Pool
var AavePool = mustParse("aave-pool", aavePoolJSON)

// AaveRewards is the Aave V3 RewardsController
var AaveRewards = mustParse("aave-rewards", aaveRewardsJSON)

// StETH is Lido's liquid staking token
var StETH = mustParse("steth", stETHJSON)

// WithdrawalQueue is Lido's unstaking request queue
var WithdrawalQueue = mustParse("withdrawal-queue", withdrawalQueueJSON)

func mustParse(name, definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(fmt.Sprintf("invalid %s ABI: %v", name, err))
	}
	return parsed
}

const erc20JSON = `[
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

const cTokenJSON = `[
	{"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[{"name":"mintAmount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"redeem","stateMutability":"nonpayable","inputs":[{"name":"redeemTokens","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"redeemUnderlying","stateMutability":"nonpayable","inputs":[{"name":"redeemAmount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"exchangeRateStored","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"supplyRatePerBlock","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"underlying","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

const cEtherJSON = `[
	{"type":"function","name":"mint","stateMutability":"payable","inputs":[],"outputs":[]},
	{"type":"function","name":"redeem","stateMutability":"nonpayable","inputs":[{"name":"redeemTokens","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"redeemUnderlying","stateMutability":"nonpayable","inputs":[{"name":"redeemAmount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"exchangeRateStored","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"supplyRatePerBlock","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

const comptrollerJSON = `[
	{"type":"function","name":"markets","stateMutability":"view","inputs":[{"name":"cToken","type":"address"}],"outputs":[{"name":"isListed","type":"bool"},{"name":"collateralFactorMantissa","type":"uint256"},{"name":"isComped","type":"bool"}]},
	{"type":"function","name":"compAccrued","stateMutability":"view","inputs":[{"name":"holder","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"claimComp","stateMutability":"nonpayable","inputs":[{"name":"holder","type":"address"}],"outputs":[]}
]`

// getReserveData returns a fully static struct, so the flattened outputs decode
// the same bytes as the tuple form
const aavePoolJSON = `[
	{"type":"function","name":"supply","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"onBehalfOf","type":"address"},{"name":"referralCode","type":"uint16"}],"outputs":[]},
	{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"to","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getReservesList","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
	{"type":"function","name":"getReserveData","stateMutability":"view","inputs":[{"name":"asset","type":"address"}],"outputs":[
		{"name":"configuration","type":"uint256"},
		{"name":"liquidityIndex","type":"uint128"},
		{"name":"currentLiquidityRate","type":"uint128"},
		{"name":"variableBorrowIndex","type":"uint128"},
		{"name":"currentVariableBorrowRate","type":"uint128"},
		{"name":"currentStableBorrowRate","type":"uint128"},
		{"name":"lastUpdateTimestamp","type":"uint40"},
		{"name":"id","type":"uint16"},
		{"name":"aTokenAddress","type":"address"},
		{"name":"stableDebtTokenAddress","type":"address"},
		{"name":"variableDebtTokenAddress","type":"address"},
		{"name":"interestRateStrategyAddress","type":"address"},
		{"name":"accruedToTreasury","type":"uint128"},
		{"name":"unbacked","type":"uint128"},
		{"name":"isolationModeTotalDebt","type":"uint128"}
	]}
]`

const aaveRewardsJSON = `[
	{"type":"function","name":"getAllUserRewards","stateMutability":"view","inputs":[{"name":"assets","type":"address[]"},{"name":"user","type":"address"}],"outputs":[{"name":"rewardsList","type":"address[]"},{"name":"unclaimedAmounts","type":"uint256[]"}]},
	{"type":"function","name":"claimAllRewards","stateMutability":"nonpayable","inputs":[{"name":"assets","type":"address[]"},{"name":"to","type":"address"}],"outputs":[{"name":"rewardsList","type":"address[]"},{"name":"claimedAmounts","type":"uint256[]"}]}
]`

const stETHJSON = `[
	{"type":"function","name":"submit","stateMutability":"payable","inputs":[{"name":"_referral","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getTotalPooledEther","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"isStakingPaused","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"_account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"sharesOf","stateMutability":"view","inputs":[{"name":"_account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getPooledEthByShares","stateMutability":"view","inputs":[{"name":"_sharesAmount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"_spender","type":"address"},{"name":"_amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"_owner","type":"address"},{"name":"_spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const withdrawalQueueJSON = `[
	{"type":"function","name":"requestWithdrawals","stateMutability":"nonpayable","inputs":[{"name":"_amounts","type":"uint256[]"},{"name":"_owner","type":"address"}],"outputs":[{"name":"requestIds","type":"uint256[]"}]},
	{"type":"function","name":"MIN_STETH_WITHDRAWAL_AMOUNT","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"MAX_STETH_WITHDRAWAL_AMOUNT","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`
