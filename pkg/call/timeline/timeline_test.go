package timeline

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/vango-go/vai-call/pkg/core/types"
)

func msg(id string, role types.Role, at int64) types.Message {
	return types.Message{ID: id, Role: role, Content: "content " + id, Timestamp: time.Unix(at, 0)}
}

func TestTimeline_AppendIsIdempotent(t *testing.T) {
	tl := New()
	if !tl.Append(msg("a", types.RoleUser, 1)) {
		t.Fatalf("first append rejected")
	}
	before := tl.Snapshot()

	dup := msg("a", types.RoleAssistant, 2)
	dup.Content = "changed"
	if tl.Append(dup) {
		t.Fatalf("duplicate id accepted")
	}
	after := tl.Snapshot()
	if len(after) != 1 || after[0].Content != before[0].Content || after[0].Role != types.RoleUser {
		t.Fatalf("duplicate append changed the timeline: %+v", after)
	}
}

func TestTimeline_LengthEqualsDistinctIDs(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		tl := New()
		distinct := make(map[string]struct{})
		var order []string
		for i := 0; i < 40; i++ {
			id := fmt.Sprintf("m%d", rng.Intn(15))
			if tl.Append(msg(id, types.RoleAssistant, int64(i))) {
				order = append(order, id)
			}
			distinct[id] = struct{}{}
		}
		if tl.Len() != len(distinct) {
			t.Fatalf("round %d: len=%d, distinct=%d", round, tl.Len(), len(distinct))
		}
		for i, m := range tl.Snapshot() {
			if m.ID != order[i] {
				t.Fatalf("round %d: entry %d id=%q, want %q", round, i, m.ID, order[i])
			}
		}
	}
}

func TestTimeline_RejectsBlankID(t *testing.T) {
	tl := New()
	if tl.Append(types.Message{Role: types.RoleUser, Content: "x"}) {
		t.Fatalf("blank id accepted")
	}
	if tl.Len() != 0 {
		t.Fatalf("len=%d", tl.Len())
	}
}

func TestTimeline_ClampsTimestamps(t *testing.T) {
	tl := New()
	tl.Append(msg("a", types.RoleUser, 100))
	tl.Append(msg("b", types.RoleAssistant, 50))

	got := tl.Snapshot()
	if got[1].Timestamp.Before(got[0].Timestamp) {
		t.Fatalf("timestamps decreased: %v then %v", got[0].Timestamp, got[1].Timestamp)
	}
	if got[1].ID != "b" {
		t.Fatalf("append reordered entries")
	}
}

func TestTimeline_VisibleFiltersSystemWithoutMutation(t *testing.T) {
	tl := New()
	tl.Append(msg("s", types.RoleSystem, 1))
	tl.Append(msg("u", types.RoleUser, 2))
	tl.Append(msg("a", types.RoleAssistant, 3))

	visible := tl.Visible()
	if len(visible) != 2 || visible[0].ID != "u" || visible[1].ID != "a" {
		t.Fatalf("visible=%+v", visible)
	}
	if tl.Len() != 3 {
		t.Fatalf("system entry removed from storage")
	}
	if last, ok := tl.LastVisible(); !ok || last.ID != "a" {
		t.Fatalf("LastVisible=%+v ok=%v", last, ok)
	}
}

func TestTimeline_SnapshotIsACopy(t *testing.T) {
	tl := New()
	m := msg("a", types.RoleAssistant, 1)
	m.Audio = types.AudioFromBytes([]byte{1, 2}, "audio/wav")
	tl.Append(m)

	snap := tl.Snapshot()
	snap[0].Content = "mutated"
	snap[0].Audio.Data[0] = 9

	got, ok := tl.Get("a")
	if !ok {
		t.Fatalf("Get missed entry")
	}
	if got.Content == "mutated" || got.Audio.Data[0] != 1 {
		t.Fatalf("stored message was mutated through a snapshot: %+v", got)
	}
}

func TestTimeline_Reset(t *testing.T) {
	tl := New()
	tl.Append(msg("a", types.RoleUser, 1))
	tl.Reset()
	if tl.Len() != 0 || tl.Contains("a") {
		t.Fatalf("reset left entries behind")
	}
	if !tl.Append(msg("a", types.RoleUser, 1)) {
		t.Fatalf("id should be reusable after reset")
	}
}
