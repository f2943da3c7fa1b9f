package pgxutil

import (
	"database/sql"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
)

func TestToPgxTxOptions(t *testing.T) {
	tests := []struct {
		name string
		in   *sql.TxOptions
		want pgx.TxOptions
	}{
		{"nil", nil, pgx.TxOptions{AccessMode: pgx.ReadWrite}},
		{"default", &sql.TxOptions{}, pgx.TxOptions{AccessMode: pgx.ReadWrite}},
		{
			"read committed",
			&sql.TxOptions{Isolation: sql.LevelReadCommitted},
			pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite},
		},
		{
			"serializable read only",
			&sql.TxOptions{Isolation: sql.LevelSerializable, ReadOnly: true},
			pgx.TxOptions{IsoLevel: pgx.Serializable, AccessMode: pgx.ReadOnly},
		},
		{
			"snapshot maps to repeatable read",
			&sql.TxOptions{Isolation: sql.LevelSnapshot},
			pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadWrite},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToPgxTxOptions(tt.in))
		})
	}
}
