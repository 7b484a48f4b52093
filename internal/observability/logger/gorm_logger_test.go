package logger

import "testing"

func TestOperationFromSQL(t *testing.T) {
	cases := map[string]string{
		"SELECT id FROM payment_records":             "SELECT",
		"  update payment_records SET status = ?":    "UPDATE",
		"INSERT INTO payment_events (id) VALUES (?)": "INSERT",
		"CREATE TABLE t (id BIGINT)":                 "UNKNOWN",
		"":                                           "UNKNOWN",
	}
	for sql, want := range cases {
		if got := operationFromSQL(sql); got != want {
			t.Fatalf("operationFromSQL(%q) = %s, want %s", sql, got, want)
		}
	}
}
