package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/logger"
)

const transactionsTable = "transactions"

// InsertTransactionsWithClient inserts rows one statement at a time. BigQuery
// has no unique constraints, so each insert is conditional on neither the row
// id nor a row with the same (account, reference key, date) existing. A
// skipped insert is reported as domain.ErrTransactionExists when the id is
// already stored and as domain.ErrDuplicateTransaction otherwise.
func InsertTransactionsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, rows []*domain.PersistedTransaction) []error {
	log := logger.FromContext(ctx)
	errs := make([]error, len(rows))
	table := ds.Table(transactionsTable)

	for i, tx := range rows {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}
		row := NewTransactionRow(tx)

		q := client.Query(fmt.Sprintf(`
			INSERT %s (
				transaction_id,
				account_id,
				import_job_id,
				transaction_date,
				amount,
				description,
				classification,
				reference,
				reference_key,
				created_ts,
				updated_ts
			)
			SELECT
				@transaction_id,
				@account_id,
				@import_job_id,
				@transaction_date,
				@amount,
				@description,
				@classification,
				@reference,
				@reference_key,
				@created_ts,
				@updated_ts
			FROM UNNEST([1])
			WHERE NOT EXISTS (SELECT 1 FROM %s WHERE transaction_id = @transaction_id)
			  AND (@reference_key IS NULL
			   OR NOT EXISTS (
					SELECT 1 FROM %s
					WHERE account_id = @account_id
					  AND reference_key = @reference_key
					  AND transaction_date = @transaction_date
			   ))
		`, table, table, table))
		q.Parameters = row.params()

		affected, err := runDML(ctx, q)
		switch {
		case err != nil:
			errs[i] = fmt.Errorf("InsertTransactions: row %d: %w", i, err)
		case affected == 0:
			errs[i] = fmt.Errorf("InsertTransactions: row %d: %w", i, skippedReason(ctx, client, table, tx.ID))
		}
		if errs[i] != nil {
			log.Debug().Err(errs[i]).Str("transaction_id", tx.ID).Msg("Transaction row rejected")
		}
	}
	return errs
}

// skippedReason tells apart a row stored by an earlier attempt from a
// natural-key duplicate.
func skippedReason(ctx context.Context, client *bigquery.Client, table, id string) error {
	q := client.Query(fmt.Sprintf(`SELECT COUNT(*) AS n FROM %s WHERE transaction_id = @transaction_id`, table))
	q.Parameters = []bigquery.QueryParameter{{Name: "transaction_id", Value: id}}
	it, err := q.Read(ctx)
	if err != nil {
		return fmt.Errorf("check existing id: %w", err)
	}
	var row struct {
		N int64 `bigquery:"n"`
	}
	if err := it.Next(&row); err != nil {
		return fmt.Errorf("check existing id: %w", err)
	}
	if row.N > 0 {
		return domain.ErrTransactionExists
	}
	return domain.ErrDuplicateTransaction
}

// ListTransactionKeysWithClient returns the (reference, date) pairs stored for an account.
func ListTransactionKeysWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, accountID string) ([]domain.TransactionKey, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT reference, transaction_date
		FROM %s
		WHERE account_id = @account_id
		  AND reference IS NOT NULL
		  AND reference != ''
	`, ds.Table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: accountID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListTransactionKeys: query read: %w", err)
	}

	var keys []domain.TransactionKey
	for {
		var r struct {
			Reference       string     `bigquery:"reference"`
			TransactionDate civil.Date `bigquery:"transaction_date"`
		}
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListTransactionKeys: iter next: %w", err)
		}
		keys = append(keys, domain.TransactionKey{Reference: r.Reference, Date: r.TransactionDate})
	}
	return keys, nil
}
