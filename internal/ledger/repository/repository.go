package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payrail/internal/ledger/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, txn *domain.PaymentTransaction) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_transactions (
			id, invoice_id, transaction_ref, gateway, amount_paid, currency,
			received_at, checksum, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (invoice_id, transaction_ref) DO NOTHING`,
		txn.ID,
		txn.InvoiceID,
		txn.TransactionRef,
		txn.Gateway,
		txn.AmountPaid,
		txn.Currency,
		txn.ReceivedAt,
		txn.Checksum,
		txn.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindTransaction(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, transactionRef string) (*domain.PaymentTransaction, error) {
	var item domain.PaymentTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT id, invoice_id, transaction_ref, gateway, amount_paid, currency,
			received_at, checksum, created_at
		 FROM payment_transactions
		 WHERE invoice_id = ? AND transaction_ref = ?
		 LIMIT 1`,
		invoiceID,
		transactionRef,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) SumPaid(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount_paid), 0)
		 FROM payment_transactions
		 WHERE invoice_id = ?`,
		invoiceID,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *repo) ListByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.PaymentTransaction, error) {
	var items []domain.PaymentTransaction
	err := db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("received_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
