package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	pgx.Tx
	committed, rolledBack bool
	commitErr             error
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return t.commitErr
}

func (t *fakeTx) Rollback(context.Context) error {
	t.rolledBack = true
	return nil
}

type fakeStarter struct {
	tx   *fakeTx
	opts pgx.TxOptions
	err  error
}

func (s *fakeStarter) BeginTx(_ context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	s.opts = opts
	if s.err != nil {
		return nil, s.err
	}
	return s.tx, nil
}

func TestWithTxCommits(t *testing.T) {
	starter := &fakeStarter{tx: &fakeTx{}}
	require.NoError(t, WithTx(context.Background(), starter, func(pgx.Tx) error { return nil }))
	assert.True(t, starter.tx.committed)
	assert.False(t, starter.tx.rolledBack)
	assert.Equal(t, pgx.ReadCommitted, starter.opts.IsoLevel)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	starter := &fakeStarter{tx: &fakeTx{}}
	boom := errors.New("boom")
	require.ErrorIs(t, WithTx(context.Background(), starter, func(pgx.Tx) error { return boom }), boom)
	assert.False(t, starter.tx.committed)
	assert.True(t, starter.tx.rolledBack)
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	starter := &fakeStarter{tx: &fakeTx{}}
	assert.Panics(t, func() {
		_ = WithTx(context.Background(), starter, func(pgx.Tx) error { panic("boom") })
	})
	assert.True(t, starter.tx.rolledBack)
}

func TestWithTxCommitAndBeginFailures(t *testing.T) {
	starter := &fakeStarter{tx: &fakeTx{commitErr: errors.New("conn reset")}}
	assert.Error(t, WithTx(context.Background(), starter, func(pgx.Tx) error { return nil }))
	assert.True(t, starter.tx.rolledBack)

	assert.Error(t, WithTx(context.Background(), &fakeStarter{err: errors.New("no conn")}, func(pgx.Tx) error { return nil }))
}
