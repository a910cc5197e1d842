package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dkessler/jobtalk/internal/store"
	"github.com/dkessler/jobtalk/internal/testutil"
	"github.com/dkessler/jobtalk/internal/testutil/storetest"
)

func TestAppendAndList(t *testing.T) {
	f := storetest.New(t)

	first := f.NewMessage().WithBody("hello").Create()
	second := f.NewMessage().WithBody("there").Create()

	if first.DeliveryState != store.DeliveryPending {
		t.Errorf("delivery_state = %s, want pending", first.DeliveryState)
	}

	messages, err := f.Store.ListByConversation(f.ConvID)
	testutil.MustNoErr(t, err, "ListByConversation")
	testutil.AssertEqualSlices(t, storetest.LocalIDs(messages), first.LocalID, second.LocalID)
}

func TestAppendValidation(t *testing.T) {
	f := storetest.New(t)

	cases := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"whitespace only", "   \t\n"},
		{"over length", longBody(501)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.Store.Append(f.NewMessage().WithBody(tc.body).Build())
			var vErr *store.ValidationError
			testutil.AssertErrAs(t, err, &vErr, "Append")
		})
	}

	// Exactly the limit is fine.
	_, err := f.Store.Append(f.NewMessage().WithBody(longBody(500)).Build())
	testutil.MustNoErr(t, err, "Append at limit")
}

func longBody(n int) string {
	runes := make([]rune, n)
	for i := range runes {
		runes[i] = 'x'
	}
	return string(runes)
}

func TestAppendIdempotent(t *testing.T) {
	f := storetest.New(t)

	msg := f.NewMessage().WithBody("retry me").Build()
	first, err := f.Store.Append(msg)
	testutil.MustNoErr(t, err, "first append")

	// A retried compose call replays the identical append.
	second, err := f.Store.Append(msg)
	testutil.MustNoErr(t, err, "second append")

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("retried append returned different row (-first +second):\n%s", diff)
	}

	messages, err := f.Store.ListByConversation(f.ConvID)
	testutil.MustNoErr(t, err, "ListByConversation")
	if len(messages) != 1 {
		t.Errorf("got %d messages, want 1", len(messages))
	}
}

func TestAppendConflictingDuplicate(t *testing.T) {
	f := storetest.New(t)

	msg := f.NewMessage().WithBody("original").Create()

	_, err := f.Store.Append(f.NewMessage().WithLocalID(msg.LocalID).WithBody("different").Build())
	var dupErr *store.DuplicateError
	testutil.AssertErrAs(t, err, &dupErr, "conflicting append")
}

func TestTotalOrderIgnoresInsertOrder(t *testing.T) {
	f := storetest.New(t)

	// Insert out of chronological order; listing must sort by
	// (created_at, local_id), not arrival.
	late := f.NewMessage().WithLocalID("b-late").WithCreatedAt(f.At(30)).Create()
	early := f.NewMessage().WithLocalID("a-early").WithCreatedAt(f.At(10)).Create()
	tieB := f.NewMessage().WithLocalID("tie-b").WithCreatedAt(f.At(20)).Create()
	tieA := f.NewMessage().WithLocalID("tie-a").WithCreatedAt(f.At(20)).Create()

	messages, err := f.Store.ListByConversation(f.ConvID)
	testutil.MustNoErr(t, err, "ListByConversation")
	testutil.AssertEqualSlices(t, storetest.LocalIDs(messages),
		early.LocalID, tieA.LocalID, tieB.LocalID, late.LocalID)
}

func TestReconcile(t *testing.T) {
	f := storetest.New(t)
	msg := f.NewMessage().Create()

	got, err := f.Store.Reconcile(msg.LocalID, "srv-1")
	testutil.MustNoErr(t, err, "Reconcile")
	if got.DeliveryState != store.DeliveryConfirmed || got.ServerID != "srv-1" {
		t.Errorf("got state=%s server_id=%s, want confirmed/srv-1", got.DeliveryState, got.ServerID)
	}

	// Same server id again is a no-op success.
	again, err := f.Store.Reconcile(msg.LocalID, "srv-1")
	testutil.MustNoErr(t, err, "idempotent Reconcile")
	if again.ServerID != "srv-1" {
		t.Errorf("server_id = %s, want srv-1", again.ServerID)
	}

	// A different server id loses: first assignment wins.
	_, err = f.Store.Reconcile(msg.LocalID, "srv-2")
	var arErr *store.AlreadyReconciledError
	testutil.AssertErrAs(t, err, &arErr, "second Reconcile")
	if arErr.ServerID != "srv-1" {
		t.Errorf("kept server_id = %s, want srv-1", arErr.ServerID)
	}
	f.AssertDeliveryState(msg.LocalID, store.DeliveryConfirmed)
}

func TestReconcileUnknown(t *testing.T) {
	f := storetest.New(t)
	_, err := f.Store.Reconcile("no-such-id", "srv-1")
	var nfErr *store.NotFoundError
	testutil.AssertErrAs(t, err, &nfErr, "Reconcile unknown")
}

func TestMarkFailed(t *testing.T) {
	f := storetest.New(t)
	msg := f.NewMessage().Create()

	got, err := f.Store.MarkFailed(msg.LocalID)
	testutil.MustNoErr(t, err, "MarkFailed")
	if got.DeliveryState != store.DeliveryFailed {
		t.Errorf("state = %s, want failed", got.DeliveryState)
	}

	// Failed messages stay visible in the thread.
	messages, err := f.Store.ListByConversation(f.ConvID)
	testutil.MustNoErr(t, err, "ListByConversation")
	if len(messages) != 1 || messages[0].DeliveryState != store.DeliveryFailed {
		t.Errorf("failed message missing from thread: %+v", messages)
	}

	// Marking failed twice is a no-op.
	_, err = f.Store.MarkFailed(msg.LocalID)
	testutil.MustNoErr(t, err, "repeat MarkFailed")

	// A confirmed message cannot fail.
	confirmed := f.NewMessage().Create()
	_, err = f.Store.Reconcile(confirmed.LocalID, "srv-9")
	testutil.MustNoErr(t, err, "Reconcile")
	_, err = f.Store.MarkFailed(confirmed.LocalID)
	var stErr *store.StateError
	testutil.AssertErrAs(t, err, &stErr, "MarkFailed confirmed")
}

func TestListUnknownConversationIsEmpty(t *testing.T) {
	f := storetest.New(t)
	messages, err := f.Store.ListByConversation("never-seen")
	testutil.MustNoErr(t, err, "ListByConversation")
	if len(messages) != 0 {
		t.Errorf("got %d messages, want 0", len(messages))
	}
}

func TestPendingMessages(t *testing.T) {
	f := storetest.New(t)

	p1 := f.NewMessage().Create()
	f.NewMessage().Confirmed("srv-1").Create()
	f.NewMessage().FromPeer("srv-2").Create()
	p2 := f.NewMessage().Create()

	pending, err := f.Store.PendingMessages()
	testutil.MustNoErr(t, err, "PendingMessages")
	testutil.AssertEqualSlices(t, storetest.LocalIDs(pending), p1.LocalID, p2.LocalID)
}

func TestEnsureConversationMergesMetadata(t *testing.T) {
	f := storetest.New(t)

	err := f.Store.EnsureConversation("conv-x", "Alex", "", "job-9")
	testutil.MustNoErr(t, err, "EnsureConversation")

	// Empty fields leave existing values untouched.
	err = f.Store.EnsureConversation("conv-x", "", "avatars/alex.png", "")
	testutil.MustNoErr(t, err, "EnsureConversation update")

	conv, err := f.Store.GetConversation("conv-x")
	testutil.MustNoErr(t, err, "GetConversation")
	if conv.ParticipantName != "Alex" || conv.ParticipantAvatar != "avatars/alex.png" || conv.JobRef != "job-9" {
		t.Errorf("unexpected conversation metadata: %+v", conv)
	}
}

func TestActiveConversationIDs(t *testing.T) {
	f := storetest.New(t)

	// Conversations with no messages are not listed.
	testutil.MustNoErr(t, f.Store.EnsureConversation("conv-empty", "Ghost", "", ""), "EnsureConversation")

	f.NewMessage().WithConversation("conv-old").WithCreatedAt(f.At(10)).Create()
	f.NewMessage().WithConversation("conv-new").WithCreatedAt(f.At(20)).Create()

	ids, err := f.Store.ActiveConversationIDs()
	testutil.MustNoErr(t, err, "ActiveConversationIDs")
	testutil.AssertEqualSlices(t, ids, "conv-new", "conv-old")
}

func TestGetStats(t *testing.T) {
	f := storetest.New(t)

	f.NewMessage().Create()
	f.NewMessage().Confirmed("srv-1").Create()
	fail := f.NewMessage().Create()
	_, err := f.Store.MarkFailed(fail.LocalID)
	testutil.MustNoErr(t, err, "MarkFailed")

	stats, err := f.Store.GetStats()
	testutil.MustNoErr(t, err, "GetStats")
	if stats.MessageCount != 3 || stats.PendingCount != 1 || stats.FailedCount != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "jobtalk.db")

	st, err := store.Open(dbPath)
	testutil.MustNoErr(t, err, "Open")
	testutil.MustNoErr(t, st.InitSchema(), "InitSchema")

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	_, err = st.Append(&store.Message{
		LocalID:        "m-1",
		ConversationID: "conv-1",
		SenderRole:     store.SenderSelf,
		Body:           "survives restart",
		CreatedAt:      base,
		DeliveryState:  store.DeliveryPending,
	})
	testutil.MustNoErr(t, err, "Append")
	testutil.MustNoErr(t, st.Close(), "Close")

	// Reopen: the pending message must be present exactly once, with the
	// same order keys and state, ready to resume.
	st, err = store.Open(dbPath)
	testutil.MustNoErr(t, err, "reopen")
	defer st.Close()
	testutil.MustNoErr(t, st.InitSchema(), "InitSchema on reopen")

	pending, err := st.PendingMessages()
	testutil.MustNoErr(t, err, "PendingMessages")
	if len(pending) != 1 {
		t.Fatalf("got %d pending, want 1", len(pending))
	}
	got := pending[0]
	if got.LocalID != "m-1" || !got.CreatedAt.Equal(base) || got.DeliveryState != store.DeliveryPending {
		t.Errorf("reloaded message = %+v", got)
	}
}
