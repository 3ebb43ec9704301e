package postgres

const (
	selectRequest = `SELECT id, user_id, total_price::text, status, charge_id, tracking_id, created_at, updated_at
FROM requests WHERE id = $1`

	selectRequestForUpdate = selectRequest + ` FOR UPDATE`

	insertRequest = `INSERT INTO requests (user_id, total_price, status)
VALUES ($1, $2::numeric, $3) RETURNING id, created_at, updated_at`

	updateRequest = `UPDATE requests
SET status = $2, charge_id = $3, tracking_id = $4, updated_at = now()
WHERE id = $1`

	insertItem = `INSERT INTO request_items (request_id, product_id, quantity, price)
VALUES ($1, $2, $3, $4::numeric) RETURNING id, created_at`

	selectItems = `SELECT id, request_id, product_id, quantity, price::text, created_at
FROM request_items WHERE request_id = $1 ORDER BY id`

	selectUser = `SELECT id, email, customer_id, address FROM users WHERE id = $1`

	selectProducts = `SELECT id, name, price::text FROM products WHERE id = ANY($1::bigint[]) ORDER BY id`

	listProducts = `SELECT id, name, price::text FROM products ORDER BY id`

	insertInvoice = `INSERT INTO invoices (request_id, pdf_url)
VALUES ($1, $2) RETURNING id, created_at`

	selectInvoice = `SELECT id, request_id, pdf_url, created_at FROM invoices WHERE request_id = $1`
)
