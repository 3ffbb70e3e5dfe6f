package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"clustercoord/internal/addr"
)

// Timer semantics follow spec.md §9: a single one-shot timer with a token;
// the token in the expiry message is compared against the stored token to
// detect cancelled timers whose message was already in flight. This is
// implemented directly with time.AfterFunc plus actor.refreshToken below,
// with no separate timer wrapper type needed.
const clusterSlotsTimeout = 5 * time.Second

// armRefresh ensures a refresh is in flight, per spec.md §4.4. It is a
// no-op if already armed, and a no-op (without arming) if no node is up.
func (a *actor) armRefresh() {
	if a.refreshArmed {
		return
	}
	target, ok := a.selectTarget()
	if !ok {
		return
	}
	a.refreshArmed = true
	a.refreshToken++
	a.issueRefresh(target, a.refreshToken)
}

// disarmRefresh cancels any in-flight refresh cadence. Bumping the token
// invalidates any timer callback already queued for the previous arming; a
// CLUSTER SLOTS reply already in flight is still reconciled, filtered only
// by its slot_map_version.
func (a *actor) disarmRefresh() {
	if !a.refreshArmed {
		return
	}
	a.refreshArmed = false
	a.refreshToken++
}

// selectTarget walks initialNodes in order for the first address in up; if
// none of them are up, it falls back to any address in up, resolved
// deterministically by lexicographic (host, port) order so tests are
// reproducible (spec.md §4.4.1, §9).
func (a *actor) selectTarget() (addr.Address, bool) {
	for _, seed := range a.initialNodes {
		if _, ok := a.up[seed]; ok {
			return seed, true
		}
	}
	var best addr.Address
	found := false
	for candidate := range a.up {
		if !found || candidate.Less(best) {
			best = candidate
			found = true
		}
	}
	return best, found
}

// issueRefresh dispatches CLUSTER SLOTS against target asynchronously and
// schedules the next tick. The reply, whenever it arrives, carries the
// slot_map_version observed at send time so reconciliation can drop it if
// a newer map was installed in the meantime (spec.md §4.2 step 1).
func (a *actor) issueRefresh(target addr.Address, token uint64) {
	entry, ok := a.nodes[target]
	if ok && entry.client != nil {
		versionAtSend := a.slotMapVersion
		client := entry.client
		mailbox := a.mailbox
		done := a.done
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), clusterSlotsTimeout)
			defer cancel()
			reply, err := client.ClusterSlots(ctx)
			select {
			case mailbox <- func(a *actor) { a.reconcile(versionAtSend, reply, err) }:
			case <-done:
			}
		}()
	}
	a.scheduleTick(token)
}

// scheduleTick arms the one-shot update_slot_wait timer. Per spec.md §5,
// a timer firing after the actor has stopped must be harmless: the
// callback only ever tries to reach the mailbox it captured, falling back
// to the done channel so it never blocks a dead actor's goroutine forever.
func (a *actor) scheduleTick(token uint64) {
	mailbox := a.mailbox
	done := a.done
	wait := a.opts.UpdateSlotWait
	time.AfterFunc(wait, func() {
		select {
		case mailbox <- func(a *actor) { a.onRefreshTick(token) }:
		case <-done:
		}
	})
}

// onRefreshTick implements the "re-arm on NOK, clear on OK" rule from
// spec.md §4.4. A mismatched token means this timer belongs to an arming
// that was since disarmed (or superseded); it is simply ignored.
func (a *actor) onRefreshTick(token uint64) {
	if token != a.refreshToken {
		return
	}
	if a.clusterState != StateNOK {
		a.refreshArmed = false
		return
	}
	target, ok := a.selectTarget()
	if !ok {
		// Nobody is up; keep the cadence alive so reclassification can
		// retry once up grows, per spec.md §4.4.
		a.scheduleTick(token)
		return
	}
	a.issueRefresh(target, token)
}

// onUpdateSlots is the actor-side handler for the public UpdateSlots hint
// (spec.md §4.1): if the caller's observed version matches the current
// one, it arms a refresh against the given node; otherwise the hint is
// stale and dropped.
func (a *actor) onUpdateSlots(observedVersion int, node NodeHandle) {
	if observedVersion != a.slotMapVersion {
		return
	}
	if a.refreshArmed {
		return
	}
	a.refreshArmed = true
	a.refreshToken++
	a.issueRefresh(node.Addr(), a.refreshToken)
}

// clusterSlotsReplyIsRedisError reports whether err is a reply-level Redis
// error (as opposed to a transport/timeout failure), used by reconcile to
// decide whether to surface cluster_slots_error.
func clusterSlotsReplyIsRedisError(err error) bool {
	if err == nil {
		return false
	}
	var redisErr redis.Error
	return errors.As(err, &redisErr)
}
