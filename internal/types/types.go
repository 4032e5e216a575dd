// Package types provides common type definitions for the snapshot refresher.
package types

import "strings"

// SnapshotStatus represents the lifecycle state of a snapshot
type SnapshotStatus string

const (
	// SnapshotRunning is the state of a snapshot between creation and finalization
	SnapshotRunning SnapshotStatus = "RUNNING"
	// SnapshotSuccess means every enabled source succeeded and every position is priced
	SnapshotSuccess SnapshotStatus = "SUCCESS"
	// SnapshotPartial means some data is present but a source failed or coverage is incomplete
	SnapshotPartial SnapshotStatus = "PARTIAL"
	// SnapshotFailed means no usable data was collected
	SnapshotFailed SnapshotStatus = "FAILED"
)

// IsTerminal reports whether the snapshot status can no longer change
func (s SnapshotStatus) IsTerminal() bool {
	return s == SnapshotSuccess || s == SnapshotPartial || s == SnapshotFailed
}

// SourceRunStatus represents the state of one source within a snapshot
type SourceRunStatus string

const (
	SourceRunPending SourceRunStatus = "PENDING"
	SourceRunRunning SourceRunStatus = "RUNNING"
	SourceRunSuccess SourceRunStatus = "SUCCESS"
	SourceRunFailed  SourceRunStatus = "FAILED"
)

// IsTerminal reports whether the run reached SUCCESS or FAILED
func (s SourceRunStatus) IsTerminal() bool {
	return s == SourceRunSuccess || s == SourceRunFailed
}

// SourceKey identifies an independent data provider
type SourceKey string

const (
	SourceWalletEVMBalances    SourceKey = "wallet_evm_balances"
	SourceWalletSolanaBalances SourceKey = "wallet_solana_balances"
	SourceAaveV3               SourceKey = "aave_v3"
	SourceKamino               SourceKey = "kamino"
	SourceHyperlend            SourceKey = "hyperlend"
	// SourcePrices is the price resolution phase; it never produces positions
	SourcePrices SourceKey = "prices"
)

var allSourceKeys = []SourceKey{
	SourceWalletEVMBalances,
	SourceWalletSolanaBalances,
	SourceAaveV3,
	SourceKamino,
	SourceHyperlend,
	SourcePrices,
}

// AllSourceKeys returns every known source key in canonical order
func AllSourceKeys() []SourceKey {
	keys := make([]SourceKey, len(allSourceKeys))
	copy(keys, allSourceKeys)
	return keys
}

// IsSourceKey reports whether value names a known source
func IsSourceKey(value string) bool {
	for _, key := range allSourceKeys {
		if string(key) == value {
			return true
		}
	}
	return false
}

// WalletType represents the chain family of a tracked wallet
type WalletType string

const (
	WalletEVM    WalletType = "EVM"
	WalletSolana WalletType = "SOLANA"
)

// AssetKind represents how an asset is represented on chain
type AssetKind string

const (
	AssetNative AssetKind = "NATIVE"
	AssetERC20  AssetKind = "ERC20"
	AssetSPL    AssetKind = "SPL"
)

// Protocol represents where a position is held
type Protocol string

const (
	ProtocolWallet    Protocol = "WALLET"
	ProtocolAaveV3    Protocol = "AAVE_V3"
	ProtocolKamino    Protocol = "KAMINO"
	ProtocolHyperlend Protocol = "HYPERLEND"
)

// IsProtocol reports whether value names a known protocol
func IsProtocol(value string) bool {
	switch Protocol(value) {
	case ProtocolWallet, ProtocolAaveV3, ProtocolKamino, ProtocolHyperlend:
		return true
	}
	return false
}

// Well-known chain keys
const (
	ChainEthereum = "evm:1"
	ChainBase     = "evm:8453"
	ChainSolana   = "solana:mainnet-beta"
)

// QuoteUSD is the default quote currency and the only one oracle pricing supports
const QuoteUSD = "USD"

// NormalizeQuoteCurrency upper-cases a quote currency and defaults to USD
func NormalizeQuoteCurrency(quote string) string {
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if quote == "" {
		return QuoteUSD
	}
	return quote
}

// Meta is a free-form diagnostic payload attached to runs, positions and prices.
// Its shape is owned by whoever writes it.
type Meta map[string]interface{}

// Merge returns a new Meta with the entries of other layered over m
func (m Meta) Merge(other Meta) Meta {
	out := make(Meta, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
