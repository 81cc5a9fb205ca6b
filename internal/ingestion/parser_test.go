package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"PowerPerp/internal/core"
	"PowerPerp/internal/ingestion"
	"PowerPerp/internal/state"
)

func rawFromJSON(t *testing.T, kind ingestion.Kind, subject string, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Kind:      kind,
		Subject:   subject,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// ============================================================================
// Commands
// ============================================================================

func TestParseCommand(t *testing.T) {
	raw := rawFromJSON(t, ingestion.KindCommand, "powerperp.commands.mint", map[string]interface{}{
		"type": "mint",
		"info": map[string]interface{}{
			"sender":     "alice",
			"request_id": "req-1",
			"time":       1_700_000_000,
			"funds":      []map[string]string{{"denom": "uweth", "amount": "5000"}},
		},
		"msg": map[string]interface{}{"amount": "1000", "vault_id": 3, "rebase": true},
	})

	info, msg, err := ingestion.ParseCommand(raw.Subject, raw.Data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	mint, ok := msg.(core.MsgMint)
	if !ok {
		t.Fatalf("expected core.MsgMint, got %T", msg)
	}
	if info.Sender != "alice" || info.RequestID != "req-1" || info.Time != 1_700_000_000 {
		t.Errorf("info: got %+v", info)
	}
	if len(info.Funds) != 1 || info.Funds[0].Denom != "uweth" || info.Funds[0].Amount.Int64() != 5000 {
		t.Errorf("funds: got %+v", info.Funds)
	}
	if mint.Amount.Int64() != 1000 {
		t.Errorf("amount: got %s, want 1000", mint.Amount)
	}
	if mint.VaultID == nil || *mint.VaultID != 3 {
		t.Errorf("vault id: got %v, want 3", mint.VaultID)
	}
	if !mint.Rebase {
		t.Error("rebase: got false")
	}
}

func TestParseCommandTypeFromSubject(t *testing.T) {
	raw := rawFromJSON(t, ingestion.KindCommand, "powerperp.commands.pause", map[string]interface{}{
		"info": map[string]interface{}{"sender": "admin"},
	})

	_, msg, err := ingestion.ParseCommand(raw.Subject, raw.Data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if _, ok := msg.(core.MsgPause); !ok {
		t.Fatalf("expected core.MsgPause, got %T", msg)
	}
}

func TestParseCommandRejects(t *testing.T) {
	cases := map[string]interface{}{
		"no sender":    map[string]interface{}{"type": "pause", "info": map[string]interface{}{}},
		"unknown type": map[string]interface{}{"type": "teleport", "info": map[string]interface{}{"sender": "a"}},
		"bad body":     map[string]interface{}{"type": "mint", "info": map[string]interface{}{"sender": "a"}, "msg": map[string]interface{}{"amount": "abc"}},
	}
	for name, payload := range cases {
		raw := rawFromJSON(t, ingestion.KindCommand, "powerperp.commands.x", payload)
		if _, _, err := ingestion.ParseCommand(raw.Subject, raw.Data); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	_, _, err := ingestion.ParseCommand("powerperp.commands.teleport", []byte(`{"info":{"sender":"a"}}`))
	if state.KindOf(err) != state.KindValidation {
		t.Errorf("unknown type: got kind %s, want Validation", state.KindOf(err))
	}
}

// ============================================================================
// Price observations
// ============================================================================

func TestParsePriceObservation(t *testing.T) {
	raw := rawFromJSON(t, ingestion.KindPrice, "powerperp.prices.pool-1", map[string]interface{}{
		"pool":      "pool-1",
		"base":      "uweth",
		"quote":     "uusdc",
		"price":     "3012.5",
		"sequence":  int64(42),
		"timestamp": int64(1_700_000_000),
	})

	obs, err := ingestion.ParsePriceObservation(raw.Data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if obs.Pool != "pool-1" || obs.Base != "uweth" || obs.Quote != "uusdc" {
		t.Errorf("pair: got %s %s/%s", obs.Pool, obs.Base, obs.Quote)
	}
	if obs.Price.String() != "3012.500000000000000000" {
		t.Errorf("price: got %s", obs.Price)
	}
	if obs.PriceSequence != 42 || obs.Timestamp != 1_700_000_000 {
		t.Errorf("sequence/timestamp: got %d/%d", obs.PriceSequence, obs.Timestamp)
	}
	if obs.IdempotencyKey() != "pool-1:price:42" {
		t.Errorf("idempotency key: got %s", obs.IdempotencyKey())
	}
}

func TestParsePriceObservationRejects(t *testing.T) {
	base := func() map[string]interface{} {
		return map[string]interface{}{
			"pool": "pool-1", "base": "uweth", "quote": "uusdc",
			"price": "1", "sequence": 1, "timestamp": 1,
		}
	}
	cases := map[string]func(m map[string]interface{}){
		"zero price":     func(m map[string]interface{}) { m["price"] = "0" },
		"negative price": func(m map[string]interface{}) { m["price"] = "-1" },
		"garbage price":  func(m map[string]interface{}) { m["price"] = "abc" },
		"same assets":    func(m map[string]interface{}) { m["quote"] = "uweth" },
		"no pool":        func(m map[string]interface{}) { delete(m, "pool") },
		"no timestamp":   func(m map[string]interface{}) { m["timestamp"] = 0 },
	}
	for name, mutate := range cases {
		m := base()
		mutate(m)
		raw := rawFromJSON(t, ingestion.KindPrice, "powerperp.prices.pool-1", m)
		if _, err := ingestion.ParsePriceObservation(raw.Data); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
