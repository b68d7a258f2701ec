package swapd

import (
	"context"
	"errors"
	"fmt"

	"github.com/swapdhq/swapd/swapdb"
)

// runRetry re-drives the pending settlements on every tick until the context
// is cancelled.
func (n *Nursery) runRetry(ctx context.Context) error {
	n.cfg.RetryTicker.Resume()
	defer n.cfg.RetryTicker.Stop()

	for {
		select {
		case <-n.cfg.RetryTicker.Ticks():
			if err := n.queueRetryRound(ctx); err != nil {
				return err
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// queueRetryRound puts one retry round on the submarine queue. Rounds that
// cannot start before the previous one finished are skipped instead of
// piling up.
func (n *Nursery) queueRetryRound(ctx context.Context) error {
	if !n.retryRunning.CompareAndSwap(false, true) {
		log.Debugf("Skipping retry round, the previous one still runs")
		return nil
	}

	return n.swapQueue.submit(
		ctx, "retry", "retry round",
		func(ctx context.Context) error {
			defer n.retryRunning.Store(false)

			return n.retryRound(ctx)
		},
	)
}

// retryRound re-drives every settlement that is still owed an outcome.
// Submarine settles run inline on the submarine queue, chain and reverse
// work is queued on its own queue. A failure of one swap does not stop the
// round.
func (n *Nursery) retryRound(ctx context.Context) error {
	log.Debugf("Starting settle retry round")

	subs, err := n.cfg.Store.SubmarinesByStatus(
		ctx, swapdb.StatusInvoicePending, swapdb.StatusInvoicePaid,
	)
	if err != nil {
		return err
	}

	for _, sub := range subs {
		err := n.attemptSettleSubmarine(ctx, sub.ID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}

			log.Errorf("Settle retry of swap %v failed: %v",
				sub.ID, err)
			n.notify(ctx, sub.ID,
				fmt.Sprintf("settle retry failed: %v", err))
		}
	}

	pendingClaims, err := n.cfg.Store.SubmarinesByStatus(
		ctx, swapdb.StatusTransactionClaimPending,
	)
	if err != nil {
		return err
	}

	for _, sub := range pendingClaims {
		err := n.reofferSubmarineClaim(ctx, sub.ID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}

			log.Errorf("Claim retry of swap %v failed: %v",
				sub.ID, err)
			n.notify(ctx, sub.ID,
				fmt.Sprintf("claim retry failed: %v", err))
		}
	}

	// Chain and reverse settlements replay from their stored preimage.
	chains, err := n.cfg.Store.ChainsByStatus(
		ctx, swapdb.StatusTransactionServerMempool,
		swapdb.StatusTransactionServerConfirmed,
	)
	if err != nil {
		return err
	}

	for _, c := range chains {
		if c.Preimage == nil {
			continue
		}

		id, preimage := c.ID, *c.Preimage
		err := n.chainQueue.submit(
			ctx, id, "claim retry",
			func(ctx context.Context) error {
				return n.handleChainClaim(ctx, id, preimage)
			},
		)
		if err != nil {
			return err
		}
	}

	pendingChains, err := n.cfg.Store.ChainsByStatus(
		ctx, swapdb.StatusTransactionClaimPending,
	)
	if err != nil {
		return err
	}

	for _, c := range pendingChains {
		id := c.ID
		err := n.chainQueue.submit(
			ctx, id, "claim retry",
			func(ctx context.Context) error {
				return n.reofferChainClaim(ctx, id)
			},
		)
		if err != nil {
			return err
		}
	}

	revs, err := n.cfg.Store.ReversesByStatus(
		ctx, swapdb.StatusTransactionMempool,
		swapdb.StatusTransactionConfirmed,
	)
	if err != nil {
		return err
	}

	for _, rev := range revs {
		if rev.Preimage == nil {
			continue
		}

		id, preimage := rev.ID, *rev.Preimage
		err := n.reverseQueue.submit(
			ctx, id, "settle retry",
			func(ctx context.Context) error {
				return n.handleReverseClaim(ctx, id, preimage)
			},
		)
		if err != nil {
			return err
		}
	}

	return nil
}
