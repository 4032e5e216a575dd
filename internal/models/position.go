package models

import "github.com/snapshot-refresher/internal/types"

// PositionAsset is a held asset at wallet/chain/protocol granularity
type PositionAsset struct {
	ID              string          `json:"id" db:"id"`
	SnapshotID      string          `json:"snapshotId" db:"snapshot_id"`
	WalletID        string          `json:"walletId" db:"wallet_id"`
	ChainKey        string          `json:"chainKey" db:"chain_key"`
	Protocol        types.Protocol  `json:"protocol" db:"protocol"`
	SourceKey       types.SourceKey `json:"sourceKey" db:"source_key"`
	AssetID         string          `json:"assetId" db:"asset_id"`
	QuantityRaw     string          `json:"quantityRaw" db:"quantity_raw"`
	QuantityDecimal string          `json:"quantityDecimal" db:"quantity_decimal"`
	IsCollateral    *bool           `json:"isCollateral,omitempty" db:"is_collateral"`
	PriceQuote      *string         `json:"priceQuote,omitempty" db:"price_quote"`
	ValueQuote      *string         `json:"valueQuote,omitempty" db:"value_quote"`
	Meta            types.Meta      `json:"meta,omitempty" db:"meta_json"`
}

// PositionLiability is an owed debt at wallet/chain/protocol granularity
type PositionLiability struct {
	ID            string          `json:"id" db:"id"`
	SnapshotID    string          `json:"snapshotId" db:"snapshot_id"`
	WalletID      string          `json:"walletId" db:"wallet_id"`
	ChainKey      string          `json:"chainKey" db:"chain_key"`
	Protocol      types.Protocol  `json:"protocol" db:"protocol"`
	SourceKey     types.SourceKey `json:"sourceKey" db:"source_key"`
	DebtAssetID   string          `json:"debtAssetId" db:"debt_asset_id"`
	AmountRaw     string          `json:"amountRaw" db:"amount_raw"`
	AmountDecimal string          `json:"amountDecimal" db:"amount_decimal"`
	PriceQuote    *string         `json:"priceQuote,omitempty" db:"price_quote"`
	ValueQuote    *string         `json:"valueQuote,omitempty" db:"value_quote"`
	Meta          types.Meta      `json:"meta,omitempty" db:"meta_json"`
}

// Valuation is the price and value written onto one priced position
type Valuation struct {
	PositionID string
	PriceQuote string
	ValueQuote string
}
