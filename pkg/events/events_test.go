package events

import (
	"testing"
	"time"
)

func TestReplayRebuildsLifecycle(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	evts := []StoredEvent{
		{Seq: 1, VenueID: 42, Type: TypeSummarized, Ts: base},
		{Seq: 2, VenueID: 42, Type: TypeEnriched, Ts: base.Add(time.Minute)},
		{Seq: 3, VenueID: 42, Type: TypeNeedsRevision, Ts: base.Add(2 * time.Minute),
			Payload: []byte(`{"reason":"missing coords"}`)},
		{Seq: 4, VenueID: 42, Type: TypePublished, Ts: base.Add(3 * time.Minute)},
	}

	st := Replay(evts)
	if st.VenueID != 42 {
		t.Fatalf("venue id = %d", st.VenueID)
	}
	if st.Status != "PUBLISHED" {
		t.Fatalf("status = %s, want PUBLISHED", st.Status)
	}
	if st.Published == nil || !st.Published.Equal(base.Add(3*time.Minute)) {
		t.Fatalf("published_at = %v", st.Published)
	}
	if st.LastReason != "missing coords" {
		t.Fatalf("last reason = %q, want the needs-revision reason preserved", st.LastReason)
	}
}

func TestReplayFailedCarriesReason(t *testing.T) {
	evts := []StoredEvent{
		{Seq: 1, VenueID: 7, Type: TypeFailed, Ts: time.Now(),
			Payload: []byte(`{"reason":"summarizer attempts exhausted"}`)},
	}
	st := Replay(evts)
	if st.Status != "FAILED" || st.LastReason != "summarizer attempts exhausted" {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestEventMarshalRoundTrip(t *testing.T) {
	ev := VenueNeedsRevision{
		Base:   Base{Ts: time.Now(), VID: 9, Agt: "editor"},
		Reason: "does not meet publish spec",
		Issues: []string{"missing_coords"},
	}
	data, err := ev.MarshalData()
	if err != nil {
		t.Fatalf("MarshalData: %v", err)
	}
	if ev.Type() != TypeNeedsRevision || ev.VenueID() != 9 || ev.Agent() != "editor" {
		t.Fatalf("unexpected event metadata")
	}
	if len(data) == 0 {
		t.Fatalf("expected payload bytes")
	}
}
