package simulate

import (
	"github.com/solvault/wallet-core/internal/fees"
)

// AssetChange is one predicted balance movement. RawDelta is always
// PostBalance − PreBalance, in the asset's smallest unit.
type AssetChange struct {
	AssetID           string // chain.NativeAssetID or the mint address
	OwnerAddress      string
	RawDelta          int64
	Decimals          uint8
	IsCollectibleLike bool
	PreBalance        uint64
	PostBalance       uint64
}

// Preview is the structured result of dry-running a transaction.
type Preview struct {
	Success         bool
	ErrorMessage    string
	FeePayerAddress string

	// Changes attributed to the watched wallet vs everyone else.
	FeePayerAssetChanges     []AssetChange
	OtherAccountAssetChanges []AssetChange

	BaseFeeLamports  uint64
	PriorityFeeTiers *fees.Tiers
	Alerts           []string
}
