package evm

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// planManagerABI is the subset of the plan contract interface used here.
const planManagerABI = `[
  {"type":"function","name":"createPlanWithNative","stateMutability":"payable",
   "inputs":[
     {"name":"pool","type":"string"},
     {"name":"amountPerInterval","type":"uint256"},
     {"name":"frequency","type":"uint256"},
     {"name":"maturity","type":"uint256"},
     {"name":"destAddress","type":"address"}],
   "outputs":[]},
  {"type":"function","name":"executeSIP","stateMutability":"nonpayable",
   "inputs":[{"name":"pool","type":"string"}],"outputs":[]},
  {"type":"function","name":"finalizeSIP","stateMutability":"nonpayable",
   "inputs":[{"name":"pool","type":"string"}],"outputs":[]},
  {"type":"function","name":"getPlan","stateMutability":"view",
   "inputs":[{"name":"user","type":"address"},{"name":"pool","type":"string"}],
   "outputs":[{"name":"","type":"tuple","components":[
     {"name":"token","type":"address"},
     {"name":"totalAmount","type":"uint256"},
     {"name":"amountPerInterval","type":"uint256"},
     {"name":"frequency","type":"uint256"},
     {"name":"nextExecution","type":"uint256"},
     {"name":"maturity","type":"uint256"},
     {"name":"destAddress","type":"address"},
     {"name":"executedAmount","type":"uint256"},
     {"name":"active","type":"bool"}]}]}
]`

// planTuple mirrors the getPlan return tuple. Field order and names must match
// the ABI components for abi.ConvertType.
type planTuple struct {
	Token             common.Address
	TotalAmount       *big.Int
	AmountPerInterval *big.Int
	Frequency         *big.Int
	NextExecution     *big.Int
	Maturity          *big.Int
	DestAddress       common.Address
	ExecutedAmount    *big.Int
	Active            bool
}

func parseABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(planManagerABI))
}
