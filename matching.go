package darkpool

import (
	"context"
	"errors"
	"fmt"

	"github.com/0x5487/darkpool/mpc"
	"github.com/0x5487/darkpool/protocol"
	"github.com/rs/xid"
)

// requestMatching validates the order lists and dispatches the head pair
// (BuyOrders[0], SellOrders[0]) to the compute service as one secure computation.
// Every listed order must be Submitted and moves to InMatching under the request, so no
// order is referenced by two Pending requests. Listed orders outside the pair are released
// back to Submitted when the request resolves.
//
// The computation is handed over before the ledger commit. The actor processes the
// callback only after this command returns, so the result can never overtake the
// Pending record; if the commit fails, the orphaned callback resolves to ErrUnknownCorrelator.
func (d *DarkPool) requestMatching(ctx context.Context, cmd *protocol.RequestMatchingCommand) (*MatchingRequest, error) {
	if d.pool == nil {
		return nil, ErrNotInitialized
	}
	if cmd.Authority != d.pool.Authority {
		return nil, ErrUnauthorized
	}
	if err := validateOrderLists(cmd.BuyOrders, cmd.SellOrders); err != nil {
		return nil, err
	}

	buys, err := d.loadOrders(cmd.BuyOrders, Buy)
	if err != nil {
		return nil, err
	}
	sells, err := d.loadOrders(cmd.SellOrders, Sell)
	if err != nil {
		return nil, err
	}
	buy, sell := buys[0], sells[0]

	recipient, _, err := mpc.PeekOwner(buy.EncryptedData)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedOrder, buy.ID, err)
	}
	if _, _, err := mpc.PeekOwner(sell.EncryptedData); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedOrder, sell.ID, err)
	}
	nonce, err := mpc.NewNonce(d.rand)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	seq, err := d.ledger.NextRequestSeq(cmd.Authority)
	if err != nil {
		return nil, err
	}

	now := unixNano(d.now())
	req := &MatchingRequest{
		ID:               MatchingRequestID(cmd.Authority, seq),
		Authority:        cmd.Authority,
		Seq:              seq,
		BuyOrders:        append([]string(nil), cmd.BuyOrders...),
		SellOrders:       append([]string(nil), cmd.SellOrders...),
		BuyOrderID:       buy.ID,
		SellOrderID:      sell.ID,
		Status:           protocol.MatchingStatusPending,
		RequestedAt:      now,
		ComputeRequestID: xid.New().String(),
		Nonce:            nonce,
	}

	batch := d.ledger.newBatch()
	batch.putRequest(req)
	batch.putRequestSeq(cmd.Authority, seq+1)
	for _, order := range append(buys, sells...) {
		order.Status = protocol.OrderStatusInMatching
		order.ComputeRequestID = req.ComputeRequestID
		order.MatchingRequestID = req.ID
		order.UpdatedAt = now
		batch.putOrder(order)
	}

	computeReq := &protocol.ComputeRequest{
		Correlator:   req.ComputeRequestID,
		RecipientKey: recipient,
		Nonce:        nonce,
		BuyOrder:     buy.EncryptedData,
		SellOrder:    sell.EncryptedData,
	}

	invokeCtx, cancel := context.WithTimeout(ctx, d.cfg.ComputeTimeout)
	defer cancel()
	if err := d.compute.Invoke(invokeCtx, computeReq); err != nil {
		batch.discard()
		logger.Warn("compute invocation failed", "request_id", req.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrComputeUnavailable, err)
	}

	if err := batch.commit(); err != nil {
		logger.Error("failed to record matching request", "request_id", req.ID, "correlator", req.ComputeRequestID, "error", err)
		return nil, err
	}

	d.pending.add(req)
	d.metrics.MatchingRequests.Add(1)
	d.metrics.PendingRequests.Set(float64(d.pending.len()))
	d.publisher.Publish(NewMatchingRequestedEvent(d.nextSeqID(), req))

	logger.Info("matching requested",
		"request_id", req.ID,
		"correlator", req.ComputeRequestID,
		"buy_count", len(req.BuyOrders),
		"sell_count", len(req.SellOrders),
	)
	return cloneRequest(req), nil
}

// resolveMatch applies a compute callback to its Pending request. The status guard is
// what makes callback delivery idempotent: a replay finds the request Completed or Failed.
func (d *DarkPool) resolveMatch(cb *protocol.ComputeCallback) (*TradeExecution, error) {
	if cb.Outcome != protocol.ComputeSuccess && cb.Outcome != protocol.ComputeAborted {
		return nil, fmt.Errorf("%w: unknown compute outcome %d", ErrInvalidParam, cb.Outcome)
	}

	req, err := d.ledger.RequestByCorrelator(cb.Correlator)
	if err != nil {
		return nil, err
	}
	if req.Status != protocol.MatchingStatusPending {
		return nil, ErrInvalidMatchingState
	}

	buy, sell, others, err := d.requestOrders(req)
	if err != nil {
		return nil, err
	}

	if cb.Outcome == protocol.ComputeAborted {
		return nil, d.failRequest(req, append([]*Order{buy, sell}, others...), cb.Reason)
	}

	payload := cb.Payload()
	if len(payload) > MaxMatchDataSize {
		return nil, ErrMatchDataTooLarge
	}
	if cb.Nonce != req.Nonce {
		return nil, ErrNonceMismatch
	}
	if d.verifier != nil {
		if err := d.verifier.Verify(cb.Correlator, payload, cb.Proof); err != nil {
			logger.Warn("compute callback proof rejected", "request_id", req.ID, "error", err)
			return nil, fmt.Errorf("%w: %v", ErrProofRejected, err)
		}
	}

	execID := TradeExecutionID(req.ID)
	if _, err := d.ledger.TradeExecution(execID); err == nil {
		return nil, ErrInvalidMatchingState
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := unixNano(d.now())
	exec := &TradeExecution{
		ID:                 execID,
		MatchingRequest:    req.ID,
		BuyOrderID:         buy.ID,
		SellOrderID:        sell.ID,
		Buyer:              buy.Owner,
		Seller:             sell.Owner,
		EncryptedMatchData: payload,
		Proof:              append([]byte(nil), cb.Proof[:]...),
		Status:             protocol.ExecutionStatusMatched,
		MatchedAt:          now,
	}

	req.Status = protocol.MatchingStatusCompleted
	req.ResolvedAt = now

	batch := d.ledger.newBatch()
	batch.putExecution(exec)
	batch.putRequest(req)
	for _, order := range []*Order{buy, sell} {
		order.Status = protocol.OrderStatusMatched
		order.UpdatedAt = now
		batch.putOrder(order)
	}
	for _, order := range others {
		releaseOrder(order, now)
		batch.putOrder(order)
	}
	if err := batch.commit(); err != nil {
		return nil, err
	}

	d.pending.remove(req)
	d.metrics.MatchesCompleted.Add(1)
	d.metrics.PendingRequests.Set(float64(d.pending.len()))
	d.publisher.Publish(NewMatchCompletedEvent(d.nextSeqID(), req, exec))

	logger.Info("match result processed", "request_id", req.ID, "execution_id", exec.ID, "released", len(others))
	return cloneExecution(exec), nil
}

// failRequest records an aborted computation: the request becomes Failed and every order
// it locked is released back to Submitted. The transition is committed; the returned error
// tells the caller that no result was produced.
func (d *DarkPool) failRequest(req *MatchingRequest, orders []*Order, reason string) error {
	now := unixNano(d.now())
	if len(reason) == 0 {
		reason = "aborted"
	}

	req.Status = protocol.MatchingStatusFailed
	req.ResolvedAt = now
	req.FailureReason = reason

	batch := d.ledger.newBatch()
	batch.putRequest(req)
	for _, order := range orders {
		releaseOrder(order, now)
		batch.putOrder(order)
	}
	if err := batch.commit(); err != nil {
		return err
	}

	d.pending.remove(req)
	d.metrics.MatchesFailed.Add(1)
	d.metrics.PendingRequests.Set(float64(d.pending.len()))
	d.publisher.Publish(NewMatchFailedEvent(d.nextSeqID(), req))

	logger.Warn("matching computation aborted", "request_id", req.ID, "reason", reason)
	return ErrAbortedComputation
}

// requestOrders loads the dispatched pair of req and the other listed orders it still locks.
func (d *DarkPool) requestOrders(req *MatchingRequest) (buy, sell *Order, others []*Order, err error) {
	buy, err = d.ledger.Order(req.BuyOrderID)
	if err != nil {
		return nil, nil, nil, err
	}
	sell, err = d.ledger.Order(req.SellOrderID)
	if err != nil {
		return nil, nil, nil, err
	}

	for _, id := range append(append([]string(nil), req.BuyOrders...), req.SellOrders...) {
		if id == buy.ID || id == sell.ID {
			continue
		}
		order, err := d.ledger.Order(id)
		if err != nil {
			return nil, nil, nil, err
		}
		if order.MatchingRequestID == req.ID {
			others = append(others, order)
		}
	}
	return buy, sell, others, nil
}

func releaseOrder(order *Order, now int64) {
	order.Status = protocol.OrderStatusSubmitted
	order.ComputeRequestID = ""
	order.MatchingRequestID = ""
	order.UpdatedAt = now
}

// PendingRequests returns the ids of matching requests awaiting a callback, oldest first.
func (d *DarkPool) PendingRequests(ctx context.Context, limit int) ([]string, error) {
	data, err := d.execute(ctx, cmdPending, limit)
	if err != nil {
		return nil, err
	}
	return data.([]string), nil
}

func validateOrderLists(buys, sells []string) error {
	if len(buys) == 0 || len(sells) == 0 {
		return ErrNoOrders
	}
	if len(buys) > MaxOrdersPerSide || len(sells) > MaxOrdersPerSide {
		return ErrTooManyOrders
	}

	seen := make(map[string]struct{}, len(buys)+len(sells))
	for _, list := range [][]string{buys, sells} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				return fmt.Errorf("%w: %s", ErrDuplicateOrder, id)
			}
			seen[id] = struct{}{}
		}
	}
	return nil
}

func (d *DarkPool) loadOrders(ids []string, side Side) ([]*Order, error) {
	orders := make([]*Order, 0, len(ids))
	for _, id := range ids {
		order, err := d.ledger.Order(id)
		if err != nil {
			return nil, fmt.Errorf("order %s: %w", id, err)
		}
		if order.Side != side {
			return nil, fmt.Errorf("%w: %s is not a %s order", ErrSideMismatch, id, side)
		}
		if order.Status != protocol.OrderStatusSubmitted {
			return nil, fmt.Errorf("%w: %s is %s", ErrOrderNotAvailable, id, order.Status)
		}
		orders = append(orders, order)
	}
	return orders, nil
}
