package postgres

// Schema is the DDL for the saga tables. Every service runs the same schema
// against its own database; money columns are NUMERIC and travel as text so
// no precision is lost between the driver and the decimal type.
const Schema = `CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	email TEXT NOT NULL,
	customer_id TEXT NOT NULL DEFAULT '',
	address TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS products (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	price NUMERIC(12,2) NOT NULL
);
CREATE TABLE IF NOT EXISTS requests (
	id BIGSERIAL PRIMARY KEY,
	user_id BIGINT NOT NULL,
	total_price NUMERIC(12,2) NOT NULL,
	status TEXT NOT NULL,
	charge_id TEXT NOT NULL DEFAULT '',
	tracking_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS request_items (
	id BIGSERIAL PRIMARY KEY,
	request_id BIGINT NOT NULL REFERENCES requests (id),
	product_id BIGINT NOT NULL,
	quantity INT NOT NULL,
	price NUMERIC(12,2) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_request_items_request ON request_items (request_id);
CREATE TABLE IF NOT EXISTS invoices (
	id BIGSERIAL PRIMARY KEY,
	request_id BIGINT NOT NULL UNIQUE REFERENCES requests (id),
	pdf_url TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`
