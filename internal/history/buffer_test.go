package history

import (
	"fmt"
	"testing"

	"github.com/Priya8975/clipboard-relay/internal/domain"
)

func event(i int) domain.Event {
	return domain.Event{ID: fmt.Sprintf("evt-%d", i), Kind: domain.KindText, Payload: fmt.Sprintf("payload-%d", i)}
}

func TestBuffer_KeepsMostRecentInOrder(t *testing.T) {
	tests := []struct {
		capacity int
		appends  int
	}{
		{capacity: 3, appends: 0},
		{capacity: 3, appends: 2},
		{capacity: 3, appends: 3},
		{capacity: 3, appends: 7},
		{capacity: 1, appends: 4},
		{capacity: 50, appends: 120},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("cap%d_n%d", tt.capacity, tt.appends), func(t *testing.T) {
			b := New(tt.capacity)
			for i := 0; i < tt.appends; i++ {
				b.Append(event(i))
			}

			want := min(tt.appends, tt.capacity)
			got := b.Snapshot()
			if len(got) != want || b.Len() != want {
				t.Fatalf("expected %d events, got %d (Len %d)", want, len(got), b.Len())
			}

			first := tt.appends - want
			for i, e := range got {
				if e.ID != event(first+i).ID {
					t.Errorf("position %d: got %s, want %s", i, e.ID, event(first+i).ID)
				}
			}
		})
	}
}

func TestBuffer_DefaultCapacity(t *testing.T) {
	if c := New(0).Cap(); c != DefaultCapacity {
		t.Errorf("expected default capacity %d, got %d", DefaultCapacity, c)
	}
}

func TestBuffer_SnapshotIsACopy(t *testing.T) {
	b := New(2)
	b.Append(event(1))

	snap := b.Snapshot()
	snap[0].Payload = "mutated"

	if b.Snapshot()[0].Payload != "payload-1" {
		t.Error("mutating a snapshot changed the buffer")
	}
}

func TestBuffer_Clear(t *testing.T) {
	b := New(2)
	b.Append(event(1))
	b.Append(event(2))
	b.Append(event(3))
	b.Clear()

	if b.Len() != 0 {
		t.Fatalf("expected empty buffer, got %d", b.Len())
	}

	b.Append(event(4))
	if got := b.Snapshot(); len(got) != 1 || got[0].ID != "evt-4" {
		t.Errorf("unexpected snapshot after clear: %+v", got)
	}
}
