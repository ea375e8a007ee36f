package apiserver

import (
	"github.com/sweetstamps/membership/pkg/discount"
	"github.com/sweetstamps/membership/pkg/ledger"
	"github.com/sweetstamps/membership/pkg/recharge"
)

type accountPayload struct {
	AccountID                string `json:"account_id"`
	MemberCode               string `json:"member_code"`
	Tier                     string `json:"tier"`
	BalanceCents             int64  `json:"balance_cents"`
	Stamps                   int64  `json:"stamps"`
	MembershipExpiresUnixUTC int64  `json:"membership_expires_unix_utc,omitempty"`
	CreatedUnixUTC           int64  `json:"created_unix_utc"`
}

func accountPayloadFrom(account ledger.Account) accountPayload {
	return accountPayload{
		AccountID:                account.AccountID.String(),
		MemberCode:               account.MemberCode.String(),
		Tier:                     account.Tier.String(),
		BalanceCents:             account.BalanceCents.Int64(),
		Stamps:                   account.Stamps.Int64(),
		MembershipExpiresUnixUTC: account.MembershipExpiresUnixUTC,
		CreatedUnixUTC:           account.CreatedUnixUTC,
	}
}

type transactionPayload struct {
	TransactionID     string  `json:"transaction_id"`
	Kind              string  `json:"kind"`
	AmountCents       int64   `json:"amount_cents"`
	Stamps            int64   `json:"stamps"`
	BalanceAfterCents int64   `json:"balance_after_cents"`
	StampsAfter       int64   `json:"stamps_after"`
	OrderID           *int64  `json:"order_id,omitempty"`
	DiscountCode      *string `json:"discount_code,omitempty"`
	Description       string  `json:"description"`
	CreatedUnixUTC    int64   `json:"created_unix_utc"`
}

func transactionPayloadFrom(transaction ledger.Transaction) transactionPayload {
	return transactionPayload{
		TransactionID:     transaction.TransactionID,
		Kind:              transaction.Kind.String(),
		AmountCents:       transaction.AmountCents.Int64(),
		Stamps:            transaction.Stamps.Int64(),
		BalanceAfterCents: transaction.BalanceAfterCents.Int64(),
		StampsAfter:       transaction.StampsAfter.Int64(),
		OrderID:           transaction.Related.OrderID,
		DiscountCode:      transaction.Related.DiscountCode,
		Description:       transaction.Description,
		CreatedUnixUTC:    transaction.CreatedUnixUTC,
	}
}

type codePayload struct {
	ID             int64   `json:"id"`
	Code           string  `json:"code"`
	DiscountCents  int64   `json:"discount_cents"`
	CodeType       string  `json:"code_type"`
	Used           bool    `json:"used"`
	UsedUnixUTC    int64   `json:"used_unix_utc,omitempty"`
	ExpiresUnixUTC int64   `json:"expires_unix_utc"`
	TransactionID  *string `json:"transaction_id,omitempty"`
	CreatedUnixUTC int64   `json:"created_unix_utc"`
}

func codePayloadFrom(code discount.DiscountCode) codePayload {
	return codePayload{
		ID:             code.ID,
		Code:           code.Code,
		DiscountCents:  code.DiscountCents.Int64(),
		CodeType:       code.CodeType.String(),
		Used:           code.Used,
		UsedUnixUTC:    code.UsedUnixUTC,
		ExpiresUnixUTC: code.ExpiresUnixUTC,
		TransactionID:  code.LedgerTransactionID,
		CreatedUnixUTC: code.CreatedUnixUTC,
	}
}

type rechargePayload struct {
	ID             int64  `json:"id"`
	PaymentRef     string `json:"payment_ref"`
	AmountCents    int64  `json:"amount_cents"`
	BonusCents     int64  `json:"bonus_cents"`
	TotalCents     int64  `json:"total_cents"`
	Status         string `json:"status"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
}

func rechargePayloadFrom(record recharge.RechargeRecord) rechargePayload {
	return rechargePayload{
		ID:             record.ID,
		PaymentRef:     record.PaymentRef,
		AmountCents:    record.AmountCents.Int64(),
		BonusCents:     record.BonusCents.Int64(),
		TotalCents:     record.TotalCents.Int64(),
		Status:         record.Status.String(),
		CreatedUnixUTC: record.CreatedUnixUTC,
	}
}

type membershipPayload struct {
	ID             int64  `json:"id"`
	PaymentRef     string `json:"payment_ref"`
	TargetTier     string `json:"target_tier"`
	AmountCents    int64  `json:"amount_cents"`
	Status         string `json:"status"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
}

func membershipPayloadFrom(purchase recharge.MembershipPurchase) membershipPayload {
	return membershipPayload{
		ID:             purchase.ID,
		PaymentRef:     purchase.PaymentRef,
		TargetTier:     purchase.TargetTier.String(),
		AmountCents:    purchase.AmountCents.Int64(),
		Status:         purchase.Status.String(),
		CreatedUnixUTC: purchase.CreatedUnixUTC,
	}
}

type confirmationPayload struct {
	Kind       string             `json:"kind"`
	Recharge   *rechargePayload   `json:"recharge,omitempty"`
	Membership *membershipPayload `json:"membership,omitempty"`
}

func confirmationPayloadFrom(confirmation recharge.Confirmation) confirmationPayload {
	payload := confirmationPayload{Kind: string(confirmation.Kind)}
	if confirmation.Recharge != nil {
		value := rechargePayloadFrom(*confirmation.Recharge)
		payload.Recharge = &value
	}
	if confirmation.Membership != nil {
		value := membershipPayloadFrom(*confirmation.Membership)
		payload.Membership = &value
	}
	return payload
}
