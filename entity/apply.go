package entity

import (
	"github.com/xlnfinance/xln-core/account"
	"github.com/xlnfinance/xln-core/xerrors"
	"github.com/xlnfinance/xln-core/xhash"
	"github.com/xlnfinance/xln-core/xtypes"
)

// applyEntityTx implements spec.md §4.4's per-tx contracts. Nonce
// validation happens first for every tx ("every tx's nonce must equal
// state.nonces[signer]+1"); financial txs are further validated
// against reserves/account state before taking effect.
//
// dryRun is true during propose/precommit speculative re-derivation:
// entity-level fields (the ones computeStateHash covers) are mutated
// on the scratch clone either way, but side effects on the shared
// account.Machine pointers (EnqueueAccountTx, ReceiveAccountInput) are
// skipped — account admission is the account layer's own concern and
// running it twice (once speculatively, once for real at Commit)
// would double-apply it. Only existence of the target account is
// checked during a dry run.
func applyEntityTx(s *State, tx EntityTx, jHeight uint64, dryRun bool) error {
	if tx.Nonce != s.Nonces[tx.Signer]+1 {
		return xerrors.Newf(xerrors.InvalidNonce, "entity: nonce %d != %d+1 for signer %s", tx.Nonce, s.Nonces[tx.Signer], tx.Signer)
	}

	switch tx.Kind {
	case TxChat:
		s.Messages = append(s.Messages, tx.Chat.Message)
	case TxPropose:
		id := xhash.H([]byte(tx.Propose.Action), []byte(tx.Signer), xhash.Uint64LE(uint64(s.Timestamp))).String()
		s.Proposals[id] = &Proposal{
			ID: id, Action: tx.Propose.Action, Description: tx.Propose.Description,
			Proposer: tx.Signer, Votes: map[xtypes.SignerID]string{}, Status: "pending",
		}
	case TxVote:
		if err := applyVote(s, tx); err != nil {
			return err
		}
	case TxProfileUpdate:
		s.Profile[tx.ProfileUpdate.Field] = tx.ProfileUpdate.Value
	case TxOpenAccount:
		if !dryRun && s.accountFor(tx.OpenAccount.TargetEntityID) == nil {
			m := account.New(s.Self, tx.OpenAccount.TargetEntityID, s.Signer, tx.Signer, "", s.Log)
			s.Accounts[m.CanonicalKey()] = m
		}
	case TxAccountInput:
		m := s.accountFor(tx.AccountInput.Peer)
		if m == nil {
			return xerrors.New(xerrors.InvalidFrame, "entity: account_input for unknown peer")
		}
		if !dryRun {
			if _, _, err := m.ReceiveAccountInput(tx.AccountInput.Input, s.Timestamp); err != nil {
				return err
			}
		}
	case TxDirectPayment:
		if err := applyDirectPayment(s, tx.DirectPayment, dryRun); err != nil {
			return err
		}
	case TxHtlcPayment:
		if err := applyHtlcPayment(s, tx.HtlcPayment, dryRun); err != nil {
			return err
		}
	case TxJEvent:
		if err := applyJEvent(s, tx, dryRun); err != nil {
			return err
		}
	case TxReserveToReserve:
		op := tx.ReserveToReserve
		have := s.Reserve(op.TokenID)
		if have.Cmp(op.Amount) < 0 {
			return xerrors.New(xerrors.InsufficientCapacity, "entity: reserve_to_reserve exceeds reserve")
		}
		s.Reserves[op.TokenID] = have.Sub(op.Amount)
		s.jBatchState = append(s.jBatchState, JBatchOp{Kind: "reserve_to_reserve", ReserveToReserve: op})
	case TxCreateSettlement:
		s.jBatchState = append(s.jBatchState, JBatchOp{Kind: "settle", Settlement: tx.CreateSettlement})
	case TxJBroadcast:
		s.LastFlushedJBatch = append([]JBatchOp(nil), s.jBatchState...)
		s.jBatchState = nil
	case TxMintReserves:
		s.Reserves[tx.MintReserves.TokenID] = s.Reserve(tx.MintReserves.TokenID).Add(tx.MintReserves.Amount)
	case TxExtendCredit:
		if err := applyExtendCredit(s, tx.ExtendCredit, dryRun); err != nil {
			return err
		}
	case TxDepositCollateral:
		s.jBatchState = append(s.jBatchState, JBatchOp{Kind: "deposit_collateral", DepositCollateral: tx.DepositCollateral})
	case TxRequestWithdrawal:
		m := s.accountFor(tx.RequestWithdrawal.Peer)
		if m == nil {
			return xerrors.New(xerrors.InvalidFrame, "entity: request_withdrawal for unknown peer")
		}
		if !dryRun {
			if err := m.RequestWithdrawal(tx.RequestWithdrawal.WithdrawalID, tx.RequestWithdrawal.TokenID, tx.RequestWithdrawal.Amount); err != nil {
				return err
			}
		}
	case TxSettleDiffs:
		m := s.accountFor(tx.SettleDiffs.Peer)
		if m == nil {
			return xerrors.New(xerrors.InvalidFrame, "entity: settle_diffs for unknown peer")
		}
		if !dryRun {
			for _, d := range tx.SettleDiffs.Diffs {
				if err := m.EnqueueAccountTx(account.AccountTx{
					Kind:  account.TxJSync,
					JSync: &account.JSyncTx{JBlockNumber: jHeight, TokenID: d.TokenID, Collateral: d.Collateral, Ondelta: d.Ondelta},
				}); err != nil {
					return err
				}
			}
		}
	case TxPlaceSwapOffer:
		m := s.accountFor(tx.PlaceSwapOffer.Peer)
		if m == nil {
			return xerrors.New(xerrors.InvalidFrame, "entity: place_swap_offer for unknown peer")
		}
		if !dryRun {
			if err := m.EnqueueAccountTx(account.AccountTx{
				Kind: account.TxSwapOffer,
				SwapOffer: &account.SwapOfferTx{
					OfferID: tx.PlaceSwapOffer.OfferID, MakerIsLeft: m.IsLeft(),
					GiveTokenID: tx.PlaceSwapOffer.GiveTokenID, GiveAmount: tx.PlaceSwapOffer.GiveAmount,
					WantTokenID: tx.PlaceSwapOffer.WantTokenID, WantAmount: tx.PlaceSwapOffer.WantAmount,
					MinFillRatio: tx.PlaceSwapOffer.MinFillRatio,
				},
			}); err != nil {
				return err
			}
			if s.OrderbookExtEnabled && s.Orderbook != nil {
				s.Orderbook.place(tx.PlaceSwapOffer.OfferID, tx.PlaceSwapOffer.GiveTokenID, tx.PlaceSwapOffer.WantTokenID,
					tx.PlaceSwapOffer.GiveAmount, tx.PlaceSwapOffer.WantAmount)
			}
		}
	case TxResolveSwap:
		m := s.accountFor(tx.ResolveSwap.Peer)
		if m == nil {
			return xerrors.New(xerrors.InvalidFrame, "entity: resolve_swap for unknown peer")
		}
		if !dryRun {
			if err := m.EnqueueAccountTx(account.AccountTx{
				Kind: account.TxSwapResolve,
				SwapResolve: &account.SwapResolveTx{
					OfferID: tx.ResolveSwap.OfferID, FillRatio: tx.ResolveSwap.FillRatio, CancelRemainder: tx.ResolveSwap.CancelRemainder,
				},
			}); err != nil {
				return err
			}
			if s.OrderbookExtEnabled && s.Orderbook != nil {
				s.Orderbook.resolve(tx.ResolveSwap.OfferID, tx.ResolveSwap.FillRatio, tx.ResolveSwap.CancelRemainder)
			}
		}
	case TxCancelSwap:
		m := s.accountFor(tx.CancelSwap.Peer)
		if m == nil {
			return xerrors.New(xerrors.InvalidFrame, "entity: cancel_swap for unknown peer")
		}
		if !dryRun {
			if err := m.EnqueueAccountTx(account.AccountTx{Kind: account.TxSwapCancel, SwapCancel: &account.SwapCancelTx{OfferID: tx.CancelSwap.OfferID}}); err != nil {
				return err
			}
			if s.OrderbookExtEnabled && s.Orderbook != nil {
				s.Orderbook.cancel(tx.CancelSwap.OfferID)
			}
		}
	case TxInitOrderbookExt:
		if !dryRun {
			s.OrderbookExtEnabled = tx.InitOrderbookExt.Enabled
			if s.OrderbookExtEnabled && s.Orderbook == nil {
				s.Orderbook = newOrderbookExt()
			}
			if !s.OrderbookExtEnabled {
				s.Orderbook = nil
			}
		}
	default:
		return xerrors.Newf(xerrors.InvalidFrame, "entity: unknown tx kind %s", tx.Kind)
	}

	s.Nonces[tx.Signer] = tx.Nonce
	return nil
}

func applyVote(s *State, tx EntityTx) error {
	p, ok := s.Proposals[tx.Vote.ProposalID]
	if !ok {
		return xerrors.New(xerrors.InvalidFrame, "entity: vote for unknown proposal")
	}
	if p.Status == "executed" {
		return nil
	}
	p.Votes[tx.Signer] = tx.Vote.Choice

	var yesWeight uint64
	for signer, choice := range p.Votes {
		if choice == "yes" {
			yesWeight += s.Config.Shares[signer]
		}
	}
	if yesWeight >= s.Config.Threshold {
		p.Status = "executed"
	}
	return nil
}

// applyDirectPayment routes the payment to the first hop's account
// mempool; multi-hop payments chain through htlc_payment instead
// (spec.md §4.4: "route is entity IDs end-to-end").
func applyDirectPayment(s *State, tx *DirectPaymentTx, dryRun bool) error {
	firstHop := tx.Target
	if len(tx.Route) > 0 {
		firstHop = tx.Route[0]
	}
	m := s.accountFor(firstHop)
	if m == nil {
		return xerrors.New(xerrors.InvalidFrame, "entity: direct_payment to unopened account")
	}
	if dryRun {
		return nil
	}
	return m.EnqueueAccountTx(account.AccountTx{
		Kind:          account.TxDirectPayment,
		DirectPayment: &account.DirectPaymentTx{TokenID: tx.TokenID, Amount: tx.Amount, FromLeft: m.IsLeft()},
	})
}

func applyHtlcPayment(s *State, tx *HtlcPaymentTx, dryRun bool) error {
	firstHop := tx.Target
	if len(tx.Route) > 0 {
		firstHop = tx.Route[0]
	}
	m := s.accountFor(firstHop)
	if m == nil {
		return xerrors.New(xerrors.InvalidFrame, "entity: htlc_payment to unopened account")
	}
	if dryRun {
		return nil
	}
	hashlock := tx.Hashlock
	if hashlock.IsZero() && len(tx.Secret) > 0 {
		hashlock = xhash.H(tx.Secret)
	}
	lockID := xhash.H(hashlock.Bytes(), xhash.Uint64LE(uint64(s.Timestamp))).String()
	const defaultRevealWindow = 40
	if err := m.EnqueueAccountTx(account.AccountTx{
		Kind: account.TxHtlcLock,
		HtlcLock: &account.HtlcLockTx{
			LockID: lockID, TokenID: tx.TokenID, Amount: tx.Amount, Hashlock: hashlock,
			Timelock: s.LastFinalizedJHeight + defaultRevealWindow, RevealBeforeHeight: s.LastFinalizedJHeight + defaultRevealWindow,
			FromLeft: m.IsLeft(),
		},
	}); err != nil {
		return err
	}
	s.HtlcRoutes[lockID] = HtlcRouteRef{InboundPeer: s.Self, OutboundPeer: firstHop, LockID: lockID}
	return nil
}

func applyExtendCredit(s *State, tx *ExtendCreditTx, dryRun bool) error {
	m := s.accountFor(tx.Peer)
	if m == nil {
		return xerrors.New(xerrors.InvalidFrame, "entity: extend_credit for unknown peer")
	}
	if dryRun {
		return nil
	}
	return m.EnqueueAccountTx(account.AccountTx{
		Kind:           account.TxSetCreditLimit,
		SetCreditLimit: &account.SetCreditLimitTx{TokenID: tx.TokenID, Left: m.IsLeft(), Amount: tx.NewLimit},
	})
}

// applyJEvent implements spec.md §4.5's observation aggregation:
// dedupe per-signer, reject below lastFinalizedJHeight, finalize once
// ≥ board-threshold signers agree, detect forks on disagreement.
// jObservations bookkeeping runs identically during a dry run (it's
// entity-level state, though not covered by the entity state hash); only finalization's
// account-mutating side effects are skipped, same as every other
// account-touching tx kind.
func applyJEvent(s *State, tx EntityTx, dryRun bool) error {
	ev := tx.JEvent
	if ev.BlockNumber < s.LastFinalizedJHeight {
		return xerrors.New(xerrors.InvalidFrame, "entity: j_event below lastFinalizedJHeight")
	}
	if s.jForkedHeights[ev.BlockNumber] {
		return xerrors.New(xerrors.JBlockForkDetected, "entity: j-view halted at this height")
	}

	byHeight, ok := s.jObservations[ev.BlockNumber]
	if !ok {
		byHeight = make(map[xtypes.SignerID]JObservation)
		s.jObservations[ev.BlockNumber] = byHeight
	}
	if existing, seen := byHeight[tx.Signer]; seen && existing.BlockHash == ev.BlockHash {
		return nil // identical (height,hash) from the same signer is deduped
	}
	byHeight[tx.Signer] = JObservation{BlockHash: ev.BlockHash, Events: ev.Events}

	return tryFinalizeJBlock(s, ev.BlockNumber, dryRun)
}
