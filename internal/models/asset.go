package models

import (
	"time"

	"github.com/snapshot-refresher/internal/types"
)

// Asset describes a priceable token or native coin
type Asset struct {
	ID            string          `json:"id" db:"id"`
	ChainKey      string          `json:"chainKey" db:"chain_key"`
	Kind          types.AssetKind `json:"kind" db:"kind"`
	Symbol        string          `json:"symbol" db:"symbol"`
	Name          string          `json:"name" db:"name"`
	Decimals      int             `json:"decimals" db:"decimals"`
	AddressOrMint *string         `json:"addressOrMint,omitempty" db:"address_or_mint"`
	PriceFeedID   *string         `json:"priceFeedId,omitempty" db:"price_feed_id"`
}

// HasPriceFeedID reports whether the asset carries an external price-feed id
func (a *Asset) HasPriceFeedID() bool {
	return a.PriceFeedID != nil && *a.PriceFeedID != ""
}

// CachedPrice is one resolved price, appended per snapshot and reused across
// snapshots while fresh
type CachedPrice struct {
	SnapshotID    string     `json:"snapshotId" db:"snapshot_id"`
	AssetID       string     `json:"assetId" db:"asset_id"`
	QuoteCurrency string     `json:"quoteCurrency" db:"quote_currency"`
	Price         string     `json:"price" db:"price"`
	Source        string     `json:"source" db:"price_source"`
	FetchedAt     time.Time  `json:"fetchedAt" db:"fetched_at"`
	Meta          types.Meta `json:"meta,omitempty" db:"meta_json"`
}

// Wallet is a tracked address; managed outside of this service
type Wallet struct {
	ID         string           `json:"id" db:"id"`
	Address    string           `json:"address" db:"address"`
	Type       types.WalletType `json:"type" db:"type"`
	Label      string           `json:"label" db:"label"`
	IsArchived bool             `json:"isArchived" db:"is_archived"`
}
