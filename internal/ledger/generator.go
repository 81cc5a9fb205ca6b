package ledger

import (
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// JournalGenerator accumulates the journals of one operation into a batch
type JournalGenerator struct {
	batch *Batch
}

func NewJournalGenerator(eventRef string, sequence, timestamp int64) *JournalGenerator {
	return &JournalGenerator{
		batch: &Batch{
			BatchID:   uuid.New(),
			EventRef:  eventRef,
			Sequence:  sequence,
			Timestamp: timestamp,
			Journals:  make([]Journal, 0, 4),
		},
	}
}

func (jg *JournalGenerator) generate(debit, credit AccountKey, denom string, amount sdkmath.Int, jt JournalType) Journal {
	j := Journal{
		JournalID:     uuid.New(),
		BatchID:       jg.batch.BatchID,
		EventRef:      jg.batch.EventRef,
		Sequence:      jg.batch.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Denom:         denom,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     jg.batch.Timestamp,
	}
	jg.batch.Journals = append(jg.batch.Journals, j)
	return j
}

// GenerateDeposit moves funds: external → holder
func (jg *JournalGenerator) GenerateDeposit(holder, denom string, amount sdkmath.Int) Journal {
	return jg.generate(HolderAccount(holder, denom), ExternalAccount(denom), denom, amount, JournalTypeDeposit)
}

// GenerateWithdrawal moves funds: holder → external
func (jg *JournalGenerator) GenerateWithdrawal(holder, denom string, amount sdkmath.Int) Journal {
	return jg.generate(ExternalAccount(denom), HolderAccount(holder, denom), denom, amount, JournalTypeWithdrawal)
}

// GenerateMint moves funds: issuance → holder
func (jg *JournalGenerator) GenerateMint(to, denom string, amount sdkmath.Int) Journal {
	return jg.generate(HolderAccount(to, denom), IssuanceAccount(denom), denom, amount, JournalTypeMint)
}

// GenerateBurn moves funds: holder → issuance
func (jg *JournalGenerator) GenerateBurn(from, denom string, amount sdkmath.Int) Journal {
	return jg.generate(IssuanceAccount(denom), HolderAccount(from, denom), denom, amount, JournalTypeBurn)
}

// GenerateTransfer moves funds between holders
func (jg *JournalGenerator) GenerateTransfer(from, to, denom string, amount sdkmath.Int) Journal {
	return jg.generate(HolderAccount(to, denom), HolderAccount(from, denom), denom, amount, JournalTypeTransfer)
}

// Batch returns the accumulated batch
func (jg *JournalGenerator) Batch() *Batch {
	return jg.batch
}
