package db

import (
	"context"
	"testing"
)

func TestTxFromContext_Empty(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Errorf("expected nil tx, got %v", tx)
	}
}

func TestConnFromContext_Empty(t *testing.T) {
	if conn := ConnFromContext(context.Background()); conn != nil {
		t.Errorf("expected nil conn, got %v", conn)
	}
}

func TestConnFromContext_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), connKey, "not-a-conn")
	if conn := ConnFromContext(ctx); conn != nil {
		t.Errorf("expected nil conn for wrong type, got %v", conn)
	}
}

func TestWithConn_NilRoundTrip(t *testing.T) {
	ctx := WithConn(context.Background(), nil)
	if conn := ConnFromContext(ctx); conn != nil {
		t.Errorf("expected nil conn, got %v", conn)
	}
}
