package db

import (
	"context"

	"github.com/google/uuid"
)

const customerColumns = `id, email, name, cognito_sub, stripe_customer_id, created_at, updated_at`

func scanCustomer(row interface{ Scan(...any) error }) (Customer, error) {
	var c Customer
	err := row.Scan(&c.ID, &c.Email, &c.Name, &c.CognitoSub, &c.StripeCustomerID, &c.CreatedAt, &c.UpdatedAt)
	return c, mapErr(err)
}

func (q *Queries) GetCustomer(ctx context.Context, id uuid.UUID) (Customer, error) {
	return scanCustomer(q.db.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
}

func (q *Queries) GetCustomerByEmail(ctx context.Context, email string) (Customer, error) {
	return scanCustomer(q.db.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE email = $1`, email))
}

func (q *Queries) GetCustomerByCognitoSub(ctx context.Context, sub string) (Customer, error) {
	return scanCustomer(q.db.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE cognito_sub = $1`, sub))
}

type UpsertCustomerParams struct {
	Email            string
	Name             string
	StripeCustomerID string
	CognitoSub       string
}

// UpsertCustomer creates the customer or fills in the provider ids that are
// still unset on an existing row with the same email.
func (q *Queries) UpsertCustomer(ctx context.Context, arg UpsertCustomerParams) (Customer, error) {
	row := q.db.QueryRow(ctx, `
INSERT INTO customers (id, email, name, stripe_customer_id, cognito_sub)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (email) DO UPDATE SET
    name               = CASE WHEN customers.name = '' THEN EXCLUDED.name ELSE customers.name END,
    stripe_customer_id = COALESCE(customers.stripe_customer_id, EXCLUDED.stripe_customer_id),
    cognito_sub        = COALESCE(customers.cognito_sub, EXCLUDED.cognito_sub),
    updated_at         = now()
RETURNING `+customerColumns,
		uuid.New(), arg.Email, arg.Name, Text(arg.StripeCustomerID), Text(arg.CognitoSub))
	return scanCustomer(row)
}

func (q *Queries) LinkCustomerCognito(ctx context.Context, id uuid.UUID, sub string) (Customer, error) {
	row := q.db.QueryRow(ctx, `
UPDATE customers SET cognito_sub = $2, updated_at = now()
WHERE id = $1
RETURNING `+customerColumns, id, sub)
	return scanCustomer(row)
}
