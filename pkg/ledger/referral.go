package ledger

import (
	"context"
	"fmt"
)

// BindInviteCode makes the owner of rawCode the account's inviter.
//
// Checks run in a fixed order: already bound, unknown code, usage limit, own code, referral cycle.
// The bind, the usage increment, both cash-back bonuses and the daily counter commit together.
func (service *Service) BindInviteCode(ctx context.Context, accountID AccountID, rawCode string) error {
	operationError := service.bindInviteCode(ctx, accountID, rawCode)
	service.logOperation(ctx, OperationLog{
		Operation: operationBind,
		AccountID: accountID,
		Error:     operationError,
	})
	return operationError
}

func (service *Service) bindInviteCode(ctx context.Context, accountID AccountID, rawCode string) error {
	var relatedIDs []AccountID
	if service.locker != nil {
		ownerID, err := service.peekCodeOwner(ctx, rawCode)
		if err != nil {
			return err
		}
		relatedIDs = append(relatedIDs, ownerID)
	}
	return service.withAccountsTx(ctx, accountID, relatedIDs, func(ctx context.Context, transactionStore Store) error {
		account, err := transactionStore.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if account.HasInviter() {
			return fmt.Errorf("%w: account %d invited by %d", ErrAlreadyBound, account.ID, account.InviterID)
		}
		code, err := NewInviteCodeValue(rawCode)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrNoSuchCode, rawCode)
		}
		inviteCode, found, err := transactionStore.LockInviteCode(ctx, code)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %q", ErrNoSuchCode, code)
		}
		if inviteCode.UseCount >= service.policy.InviteCodeMaxUsage {
			return fmt.Errorf("%w: %d of %d", ErrMaxUsageExceeded, inviteCode.UseCount, service.policy.InviteCodeMaxUsage)
		}
		if inviteCode.OwnerID == account.ID {
			return ErrSelfBind
		}
		circular, err := service.formsReferralCycle(ctx, transactionStore, account.ID, inviteCode.OwnerID)
		if err != nil {
			return err
		}
		if circular {
			return fmt.Errorf("%w: account %d is upstream of %d", ErrCircularBind, account.ID, inviteCode.OwnerID)
		}
		if err := transactionStore.SetInviter(ctx, account.ID, inviteCode.OwnerID); err != nil {
			return err
		}
		if err := transactionStore.IncrementInviteCodeUsage(ctx, inviteCode.ID, service.policy.InviteCodeMaxUsage); err != nil {
			return err
		}
		if service.policy.BindCashbackEnabled {
			if service.policy.InviterBindCashbackCents > 0 {
				if err := service.applyCharge(ctx, transactionStore, inviteCode.OwnerID, service.policy.InviterBindCashbackCents, ChargeKindBonus); err != nil {
					return err
				}
			}
			if service.policy.InviteeBindCashbackCents > 0 {
				if err := service.applyCharge(ctx, transactionStore, account.ID, service.policy.InviteeBindCashbackCents, ChargeKindBonus); err != nil {
					return err
				}
			}
		}
		return service.stats.Add(ctx, transactionStore, service.nowFn(), DailyStatsDelta{InviteCodeBinds: 1})
	})
}

// peekCodeOwner resolves the owner of rawCode outside any unit of work; zero when the code does not resolve.
// Owners never change, so the answer stays valid once the locks are held.
func (service *Service) peekCodeOwner(ctx context.Context, rawCode string) (AccountID, error) {
	code, err := NewInviteCodeValue(rawCode)
	if err != nil {
		return 0, nil
	}
	inviteCode, found, err := service.store.FindInviteCode(ctx, InviteCodeFilter{Code: code})
	if err != nil || !found {
		return 0, err
	}
	return inviteCode.OwnerID, nil
}

// formsReferralCycle reports whether making ownerID the inviter of accountID closes a loop.
func (service *Service) formsReferralCycle(ctx context.Context, transactionStore Store, accountID AccountID, ownerID AccountID) (bool, error) {
	if service.policy.CycleCheck == CycleCheckDirect {
		invitees, err := transactionStore.ListInvitees(ctx, accountID)
		if err != nil {
			return false, err
		}
		for _, invitee := range invitees {
			if invitee.ID == ownerID {
				return true, nil
			}
		}
		return false, nil
	}

	visited := map[AccountID]struct{}{}
	current := ownerID
	for !current.IsZero() {
		if current == accountID {
			return true, nil
		}
		if _, seen := visited[current]; seen {
			return false, nil
		}
		visited[current] = struct{}{}
		ancestor, found, err := transactionStore.FindAccount(ctx, AccountFilter{ID: current})
		if err != nil {
			return false, err
		}
		if !found {
			return false, nil
		}
		current = ancestor.InviterID
	}
	return false, nil
}
