package query

import "time"

// VaultResponse is a projected vault
type VaultResponse struct {
	VaultID         int64     `db:"vault_id" json:"vault_id"`
	Operator        string    `db:"operator" json:"operator"`
	Collateral      string    `db:"collateral" json:"collateral"`
	ShortExposure   string    `db:"short_exposure" json:"short_exposure"`
	VaultKind       string    `db:"vault_kind" json:"vault_kind"`
	CollateralDenom string    `db:"collateral_denom" json:"collateral_denom"`
	Removed         bool      `db:"removed" json:"removed"`
	LastSequence    int64     `db:"last_sequence" json:"last_sequence"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// VaultHistoryEntry is the post-state of a vault after one event
type VaultHistoryEntry struct {
	Sequence      int64     `db:"sequence" json:"sequence"`
	VaultID       int64     `db:"vault_id" json:"vault_id"`
	EventType     string    `db:"event_type" json:"event_type"`
	Collateral    string    `db:"collateral" json:"collateral"`
	ShortExposure string    `db:"short_exposure" json:"short_exposure"`
	Timestamp     time.Time `db:"timestamp" json:"timestamp"`
}

// FundingHistoryEntry is one normalization factor update
type FundingHistoryEntry struct {
	Sequence    int64  `db:"sequence" json:"sequence"`
	OldFactor   string `db:"old_factor" json:"old_factor"`
	NewFactor   string `db:"new_factor" json:"new_factor"`
	Index       string `db:"index_price" json:"index"`
	Mark        string `db:"mark_price" json:"mark"`
	Elapsed     int64  `db:"elapsed" json:"elapsed"`
	FundingTime int64  `db:"funding_time" json:"funding_time"`
}

// JournalHistoryEntry is a ledger journal entry touching a holder
type JournalHistoryEntry struct {
	JournalID     string `db:"journal_id" json:"journal_id"`
	BatchID       string `db:"batch_id" json:"batch_id"`
	EventRef      string `db:"event_ref" json:"event_ref"`
	Sequence      int64  `db:"sequence" json:"sequence"`
	DebitAccount  string `db:"debit_account" json:"debit_account"`
	CreditAccount string `db:"credit_account" json:"credit_account"`
	Denom         string `db:"denom" json:"denom"`
	Amount        string `db:"amount" json:"amount"`
	JournalType   string `db:"journal_type" json:"journal_type"`
	Timestamp     int64  `db:"timestamp" json:"timestamp"`
}

// Page wraps a result list with the projection watermark it was read at
type Page[T any] struct {
	Items        []T   `json:"items"`
	AsOfSequence int64 `json:"as_of_sequence"`
}

// IntegrityReport is the result of an integrity verification check
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	LatestSequence  int64   `json:"latest_sequence"`

	// Supply is compared only when the projections have caught up with the log
	SupplyChecked bool   `json:"supply_checked"`
	PowerSupply   string `json:"power_supply,omitempty"`
	TotalExposure string `json:"total_exposure,omitempty"`
}
