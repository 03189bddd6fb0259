package core

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestSwapShapeSingleVsMultiHop(t *testing.T) {
	if swapShape(nil) {
		t.Fatalf("expected empty instruction data to classify as single-hop")
	}
	if swapShape([]byte{0x00}) {
		t.Fatalf("expected discriminator 0x00 to classify as single-hop")
	}
	if !swapShape([]byte{0x01}) {
		t.Fatalf("expected a non-zero low nibble to classify as multi-hop")
	}
}

func TestOutcomeWatcherAppliesCooldownOnFailure(t *testing.T) {
	clk := clock.NewMock()
	id := EdgeIdentifier{Venue: "v", InputMint: mintN(1), OutputMint: mintN(2), AccountsNeeded: 1}
	edge := NewEdge(id, &fakeAdapter{price: 2.0}, clk, testLogger())
	acct := addrN(1)

	cfg := OutcomeWatcherConfig{MultiHopCooldown: time.Second, SingleHopCooldown: 2 * time.Second}
	w := NewOutcomeWatcher(map[Address][]*Edge{acct: {edge}}, cfg, testLogger())

	w.apply(ExecutedTx{Signature: "sig1", IsSuccess: false, TouchedAccounts: []Address{acct}, InstructionData: []byte{0x00}})

	if edge.Valid() {
		t.Fatalf("expected edge cooling down after a failed execution")
	}
	if edge.cooldownRemaining(clk.Now()) <= 0 {
		t.Fatalf("expected a positive cooldown window")
	}
}

func TestOutcomeWatcherResetsCooldownOnSuccess(t *testing.T) {
	clk := clock.NewMock()
	id := EdgeIdentifier{Venue: "v", InputMint: mintN(1), OutputMint: mintN(2), AccountsNeeded: 1}
	edge := NewEdge(id, &fakeAdapter{price: 2.0}, clk, testLogger())
	edge.AddCooldown(1000)
	acct := addrN(1)

	cfg := DefaultOutcomeWatcherConfig()
	w := NewOutcomeWatcher(map[Address][]*Edge{acct: {edge}}, cfg, testLogger())

	w.apply(ExecutedTx{Signature: "sig1", IsSuccess: true, TouchedAccounts: []Address{acct}, InstructionData: []byte{0x00}})

	if edge.cooldownRemaining(clk.Now()) != 0 {
		t.Fatalf("expected cooldown cleared after a successful execution")
	}
}

func TestOutcomeWatcherMultiHopUsesMultiHopCooldown(t *testing.T) {
	clk := clock.NewMock()
	idA := EdgeIdentifier{Venue: "a", InputMint: mintN(1), OutputMint: mintN(2), AccountsNeeded: 1}
	idB := EdgeIdentifier{Venue: "b", InputMint: mintN(2), OutputMint: mintN(3), AccountsNeeded: 1}
	edgeA := NewEdge(idA, &fakeAdapter{price: 2.0}, clk, testLogger())
	edgeB := NewEdge(idB, &fakeAdapter{price: 2.0}, clk, testLogger())
	acctA, acctB := addrN(1), addrN(2)

	cfg := OutcomeWatcherConfig{MultiHopCooldown: 5 * time.Second, SingleHopCooldown: 1 * time.Second}
	w := NewOutcomeWatcher(map[Address][]*Edge{acctA: {edgeA}, acctB: {edgeB}}, cfg, testLogger())

	w.apply(ExecutedTx{
		Signature:       "sig1",
		IsSuccess:       false,
		TouchedAccounts: []Address{acctA, acctB},
		InstructionData: []byte{0x01}, // low nibble set: multi-hop
	})

	for name, e := range map[string]*Edge{"a": edgeA, "b": edgeB} {
		if e.cooldownRemaining(clk.Now()) < 4*time.Second {
			t.Fatalf("edge %s: expected the multi-hop cooldown (5s) applied, got %v", name, e.cooldownRemaining(clk.Now()))
		}
	}
}

func TestOutcomeWatcherSubmitRunStop(t *testing.T) {
	clk := clock.NewMock()
	id := EdgeIdentifier{Venue: "v", InputMint: mintN(1), OutputMint: mintN(2), AccountsNeeded: 1}
	edge := NewEdge(id, &fakeAdapter{price: 2.0}, clk, testLogger())
	acct := addrN(1)
	w := NewOutcomeWatcher(map[Address][]*Edge{acct: {edge}}, DefaultOutcomeWatcherConfig(), testLogger())

	done := make(chan struct{})
	go func() {
		w.Run()
		close(done)
	}()

	w.Submit(ExecutedTx{Signature: "sig1", IsSuccess: false, TouchedAccounts: []Address{acct}, InstructionData: []byte{0}})

	deadline := time.Now().Add(2 * time.Second)
	for edge.Valid() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	w.Stop()
	<-done

	if edge.Valid() {
		t.Fatalf("expected the submitted outcome to have been applied before shutdown")
	}
}
