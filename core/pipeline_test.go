package core

import "testing"

func TestPipelineHandleWriteAppliesAndFansOut(t *testing.T) {
	view := NewChainDataView()
	p := NewPipeline(view, DefaultPipelineConfig(), testLogger())

	writes := make(chan AccountWrite, 4)
	p.Subscribe("sub1", writes, make(chan SlotUpdate, 1), make(chan PriceUpdate, 1), make(chan MetadataEvent, 1))

	addr := addrN(1)
	p.HandleWrite(AccountWrite{Address: addr, Slot: 1, WriteVersion: 1, Bytes: []byte{0xAA}})

	entry, err := view.Account(addr)
	if err != nil {
		t.Fatalf("expected account applied to view: %v", err)
	}
	if entry.WriteVersion != 1 {
		t.Fatalf("expected write version 1 applied")
	}
	select {
	case got := <-writes:
		if got.Address != addr {
			t.Fatalf("unexpected fanned-out write: %v", got)
		}
	default:
		t.Fatalf("expected write fanned out to subscriber")
	}
}

func TestPipelineHandleWriteDropsDuplicateVersion(t *testing.T) {
	view := NewChainDataView()
	p := NewPipeline(view, DefaultPipelineConfig(), testLogger())
	writes := make(chan AccountWrite, 4)
	p.Subscribe("sub1", writes, make(chan SlotUpdate, 1), make(chan PriceUpdate, 1), make(chan MetadataEvent, 1))

	addr := addrN(1)
	p.HandleWrite(AccountWrite{Address: addr, Slot: 1, WriteVersion: 5, Bytes: []byte{1}})
	<-writes
	p.HandleWrite(AccountWrite{Address: addr, Slot: 1, WriteVersion: 5, Bytes: []byte{2}}) // exact dup
	p.HandleWrite(AccountWrite{Address: addr, Slot: 1, WriteVersion: 3, Bytes: []byte{3}}) // stale

	select {
	case got := <-writes:
		t.Fatalf("expected no further fan-out for a duplicate/stale write version, got %v", got)
	default:
	}
}

func TestPipelineHandleWriteFanOutDropsOnFullChannel(t *testing.T) {
	view := NewChainDataView()
	p := NewPipeline(view, DefaultPipelineConfig(), testLogger())
	writes := make(chan AccountWrite) // unbuffered: any send without a waiting receiver is dropped
	p.Subscribe("sub1", writes, make(chan SlotUpdate, 1), make(chan PriceUpdate, 1), make(chan MetadataEvent, 1))

	addr := addrN(1)
	// Must not block despite no reader ever draining writes.
	p.HandleWrite(AccountWrite{Address: addr, Slot: 1, WriteVersion: 1})

	entry, err := view.Account(addr)
	if err != nil || entry.WriteVersion != 1 {
		t.Fatalf("expected the view applied even though fan-out was dropped")
	}
}

func TestPipelineHandleMetadataRemovesInvalidAccount(t *testing.T) {
	view := NewChainDataView()
	p := NewPipeline(view, DefaultPipelineConfig(), testLogger())
	addr := addrN(1)
	p.HandleWrite(AccountWrite{Address: addr, Slot: 1, WriteVersion: 1})

	invalid := addr
	p.HandleMetadata(MetadataEvent{InvalidAccount: &invalid})

	if _, err := view.Account(addr); err != ErrMissingAccount {
		t.Fatalf("expected account removed after InvalidAccount event, err=%v", err)
	}
}

func TestPipelineHandleSlotFansOutToAllSubscribers(t *testing.T) {
	view := NewChainDataView()
	p := NewPipeline(view, DefaultPipelineConfig(), testLogger())
	slots1 := make(chan SlotUpdate, 1)
	slots2 := make(chan SlotUpdate, 1)
	p.Subscribe("sub1", make(chan AccountWrite, 1), slots1, make(chan PriceUpdate, 1), make(chan MetadataEvent, 1))
	p.Subscribe("sub2", make(chan AccountWrite, 1), slots2, make(chan PriceUpdate, 1), make(chan MetadataEvent, 1))

	p.HandleSlot(SlotUpdate{Slot: 42})

	for name, ch := range map[string]chan SlotUpdate{"sub1": slots1, "sub2": slots2} {
		select {
		case got := <-ch:
			if got.Slot != 42 {
				t.Fatalf("%s: expected slot 42, got %d", name, got.Slot)
			}
		default:
			t.Fatalf("%s: expected slot update fanned out", name)
		}
	}
}
