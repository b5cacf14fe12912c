package chat

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizz-issima/realtime/internal/model"
)

var (
	alice = model.Sender{ID: "u-alice", Name: "Alice"}
	bob   = model.Sender{ID: "u-bob", Name: "Bob"}
)

func serverMsg(id string, sender model.Sender, content string, at time.Time) model.Message {
	return model.Message{
		ID:        model.ServerID(id),
		Sender:    sender,
		Content:   content,
		ReadBy:    []string{sender.ID},
		CreatedAt: at,
		Type:      model.MessageTypeText,
	}
}

func TestApplyLocalSendRendersPendingAtTail(t *testing.T) {
	r := NewReconciler("c1", alice)
	base := time.Now().UTC()
	r.ApplyPolled([]model.Message{serverMsg("m1", bob, "hi", base)})

	id := r.ApplyLocalSend("hello")
	require.True(t, id.IsLocal())

	msgs := r.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "hello", msgs[1].Content)
	assert.Equal(t, model.DeliveryPending, msgs[1].Delivery)
	assert.Equal(t, []string{alice.ID}, msgs[1].ReadBy)
}

func TestResolveLocalSendReplacesPending(t *testing.T) {
	r := NewReconciler("c1", alice)
	id := r.ApplyLocalSend("hello")

	confirmed := serverMsg("m1", alice, "hello", time.Now().UTC())
	r.ResolveLocalSend(id, confirmed)

	msgs := r.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID.String())
	assert.Equal(t, model.DeliveryConfirmed, msgs[0].Delivery)
}

func TestFailLocalSendEvictsPending(t *testing.T) {
	r := NewReconciler("c1", alice)
	id := r.ApplyLocalSend("hello")
	require.Equal(t, 1, r.Len())

	r.FailLocalSend(id)
	assert.Equal(t, 0, r.Len())

	// Evicting twice is harmless.
	r.FailLocalSend(id)
	assert.Equal(t, 0, r.Len())
}

func TestApplyPushedIsIdempotent(t *testing.T) {
	r := NewReconciler("c1", alice)
	msg := serverMsg("m1", bob, "hi", time.Now().UTC())

	r.ApplyPushed(msg)
	r.ApplyPushed(msg)
	r.ApplyPushed(msg)

	assert.Equal(t, 1, r.Len())
}

func TestPushEchoRetiresPendingBeforeResolve(t *testing.T) {
	// The push echo of the user's own send arrives before the HTTP response:
	// the optimistic entry must disappear the moment the confirmed copy lands,
	// and the late resolve must not create a duplicate.
	r := NewReconciler("c1", alice)
	id := r.ApplyLocalSend("hello")

	confirmed := serverMsg("m1", alice, "hello", time.Now().UTC())
	r.ApplyPushed(confirmed)

	msgs := r.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID.String())

	r.ResolveLocalSend(id, confirmed)
	assert.Equal(t, 1, r.Len())
}

func TestPushEchoDoesNotRetireOtherUsersContent(t *testing.T) {
	// Bob sends the same text Alice has in flight. Content must never match
	// across senders: Alice's pending entry stays until her own send resolves.
	r := NewReconciler("c1", alice)
	r.ApplyLocalSend("hello")

	r.ApplyPushed(serverMsg("m-bob", bob, "hello", time.Now().UTC()))

	msgs := r.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.DeliveryConfirmed, msgs[0].Delivery)
	assert.Equal(t, model.DeliveryPending, msgs[1].Delivery)
}

func TestPollThenPushNoDuplicate(t *testing.T) {
	r := NewReconciler("c1", alice)
	msg := serverMsg("m1", bob, "hi", time.Now().UTC())

	r.ApplyPolled([]model.Message{msg})
	r.ApplyPushed(msg)
	r.ApplyPolled([]model.Message{msg})

	assert.Equal(t, 1, r.Len())
}

func TestApplyPolledMergesNotReplaces(t *testing.T) {
	r := NewReconciler("c1", alice)
	base := time.Now().UTC()

	r.ApplyPolled([]model.Message{
		serverMsg("m1", bob, "one", base),
		serverMsg("m2", bob, "two", base.Add(time.Second)),
	})
	// A windowed poll response missing m1 must not remove it.
	r.ApplyPolled([]model.Message{
		serverMsg("m2", bob, "two", base.Add(time.Second)),
		serverMsg("m3", bob, "three", base.Add(2 * time.Second)),
	})

	msgs := r.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "three", msgs[2].Content)
}

func TestApplyPolledGrowsReadBy(t *testing.T) {
	r := NewReconciler("c1", alice)
	msg := serverMsg("m1", bob, "hi", time.Now().UTC())
	r.ApplyPolled([]model.Message{msg})

	msg.ReadBy = []string{bob.ID, alice.ID}
	r.ApplyPolled([]model.Message{msg})

	msgs := r.Messages()
	require.Len(t, msgs, 1)
	assert.ElementsMatch(t, []string{bob.ID, alice.ID}, msgs[0].ReadBy)
}

func TestApplyPolledLeavesPendingUntouched(t *testing.T) {
	r := NewReconciler("c1", alice)
	r.ApplyLocalSend("in flight")

	// The poll snapshot predates the send; the optimistic entry must survive.
	r.ApplyPolled([]model.Message{serverMsg("m1", bob, "hi", time.Now().UTC())})

	msgs := r.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.DeliveryPending, msgs[1].Delivery)
}

func TestOrderingStableAcrossArrivalOrder(t *testing.T) {
	base := time.Now().UTC()
	m1 := serverMsg("m1", bob, "one", base)
	m2 := serverMsg("m2", alice, "two", base.Add(time.Second))
	m3 := serverMsg("m3", bob, "three", base.Add(2*time.Second))

	// Deliver out of order: push m3 first, then a poll with the full set.
	r := NewReconciler("c1", alice)
	r.ApplyPushed(m3)
	r.ApplyPolled([]model.Message{m1, m2, m3})

	msgs := r.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "two", msgs[1].Content)
	assert.Equal(t, "three", msgs[2].Content)
}

func TestOrderingTiesKeepArrivalOrder(t *testing.T) {
	base := time.Now().UTC()
	r := NewReconciler("c1", alice)
	r.ApplyPushed(serverMsg("m1", bob, "first", base))
	r.ApplyPushed(serverMsg("m2", bob, "second", base))
	r.ApplyPushed(serverMsg("m3", bob, "third", base))

	msgs := r.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)
	assert.Equal(t, "third", msgs[2].Content)
}

func TestApplyReadMarksAllConfirmed(t *testing.T) {
	r := NewReconciler("c1", alice)
	base := time.Now().UTC()
	r.ApplyPolled([]model.Message{
		serverMsg("m1", alice, "one", base),
		serverMsg("m2", alice, "two", base.Add(time.Second)),
	})

	r.ApplyRead(bob.ID)
	r.ApplyRead(bob.ID) // idempotent

	for _, m := range r.Messages() {
		assert.Contains(t, m.ReadBy, bob.ID)
	}
}

func TestEndToEndSendWithRacingEcho(t *testing.T) {
	// Full optimistic send lifecycle with the push echo racing the HTTP
	// response, plus a poll snapshot replaying everything afterwards.
	r := NewReconciler("c1", alice)
	base := time.Now().UTC()
	r.ApplyPolled([]model.Message{serverMsg("m1", bob, "hey", base)})

	localID := r.ApplyLocalSend("hello bob")
	require.Equal(t, 2, r.Len())

	confirmed := serverMsg("m2", alice, "hello bob", base.Add(time.Second))

	// Echo wins the race.
	r.ApplyPushed(confirmed)
	require.Equal(t, 2, r.Len())

	// HTTP response lands second.
	r.ResolveLocalSend(localID, confirmed)
	require.Equal(t, 2, r.Len())

	// Next poll tick replays the whole conversation.
	r.ApplyPolled([]model.Message{serverMsg("m1", bob, "hey", base), confirmed})
	msgs := r.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hey", msgs[0].Content)
	assert.Equal(t, "hello bob", msgs[1].Content)
	assert.Equal(t, model.DeliveryConfirmed, msgs[1].Delivery)
}

func TestConcurrentMergesConverge(t *testing.T) {
	// Hammer the three apply paths from separate goroutines; the final set
	// must contain each server id exactly once.
	r := NewReconciler("c1", alice)
	base := time.Now().UTC()

	all := make([]model.Message, 0, 50)
	for i := 0; i < 50; i++ {
		all = append(all, serverMsg(fmt.Sprintf("m%02d", i), bob, fmt.Sprintf("msg %d", i), base.Add(time.Duration(i)*time.Millisecond)))
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for _, m := range all {
			r.ApplyPushed(m)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			r.ApplyPolled(all)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			id := r.ApplyLocalSend("local")
			r.FailLocalSend(id)
		}
	}()
	wg.Wait()

	msgs := r.Messages()
	require.Len(t, msgs, 50)
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		_, dup := seen[m.ID.String()]
		require.False(t, dup, "duplicate id %s", m.ID)
		seen[m.ID.String()] = struct{}{}
	}
}

func TestSnapshotDetachedFromCanonicalSet(t *testing.T) {
	r := NewReconciler("c1", alice)
	r.ApplyPushed(serverMsg("m1", bob, "hi", time.Now().UTC()))

	msgs := r.Messages()
	msgs[0].ReadBy = append(msgs[0].ReadBy, "intruder")

	fresh := r.Messages()
	assert.NotContains(t, fresh[0].ReadBy, "intruder")
}
