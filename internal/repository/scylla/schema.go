package scylla

import "fmt"

func schemaStatements(keyspace string, development bool) []string {
	replication := "{'class': 'NetworkTopologyStrategy', 'replication_factor': 3}"
	if development {
		replication = "{'class': 'SimpleStrategy', 'replication_factor': 1}"
	}

	return []string{
		fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH replication = %s`, keyspace, replication),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.accounts (
			account_bucket int,
			account_id text,
			email text,
			employee_id text,
			name text,
			department text,
			role text,
			password_hash text,
			password_changed_at timestamp,
			failed_attempts int,
			lock_until timestamp,
			devices text,
			devices_version bigint,
			reset_token_hash text,
			reset_expires_at timestamp,
			phone_encrypted text,
			is_active boolean,
			last_login_at timestamp,
			created_at timestamp,
			updated_at timestamp,
			PRIMARY KEY ((account_bucket, account_id))
		)`, keyspace),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.accounts_by_email (
			email text PRIMARY KEY,
			account_id text
		)`, keyspace),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.accounts_by_employee_id (
			employee_id text PRIMARY KEY,
			account_id text
		)`, keyspace),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.reset_tokens (
			token_hash text PRIMARY KEY,
			account_id text,
			expires_at timestamp
		)`, keyspace),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.attendance (
			account_id text,
			work_date text,
			work_mode text,
			status text,
			check_in_at timestamp,
			check_in_lat double,
			check_in_lng double,
			check_out_at timestamp,
			check_out_lat double,
			check_out_lng double,
			working_hours double,
			wfh_radius_meters double,
			office_location_id text,
			PRIMARY KEY ((account_id), work_date)
		) WITH CLUSTERING ORDER BY (work_date DESC)`, keyspace),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.attendance_by_date (
			work_date text,
			account_id text,
			work_mode text,
			status text,
			check_in_at timestamp,
			check_in_lat double,
			check_in_lng double,
			check_out_at timestamp,
			check_out_lat double,
			check_out_lng double,
			working_hours double,
			wfh_radius_meters double,
			office_location_id text,
			PRIMARY KEY ((work_date), account_id)
		)`, keyspace),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.office_locations (
			location_id text PRIMARY KEY,
			name text,
			address text,
			latitude double,
			longitude double,
			radius_meters double,
			is_active boolean,
			created_at timestamp,
			updated_at timestamp
		)`, keyspace),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.settings (
			name text PRIMARY KEY,
			float_value double,
			updated_at timestamp
		)`, keyspace),
	}
}
