package mysql

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"

	"github.com/getpup/messtore/es/adapters/sqlbackend"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want sqlbackend.ErrorKind
	}{
		{
			name: "trigger signal",
			err:  &mysql.MySQLError{Number: errSignalException, Message: "stream position mismatch"},
			want: sqlbackend.ErrorPositionMismatch,
		},
		{
			name: "stream position key",
			err:  &mysql.MySQLError{Number: errDupEntry, Message: "Duplicate entry 'order-1-0' for key 'messages.messages_stream_position'"},
			want: sqlbackend.ErrorPositionMismatch,
		},
		{
			name: "id key",
			err:  &mysql.MySQLError{Number: errDupEntry, Message: "Duplicate entry 'abc' for key 'messages.messages_id'"},
			want: sqlbackend.ErrorDuplicateID,
		},
		{
			name: "wrapped",
			err:  fmt.Errorf("exec: %w", &mysql.MySQLError{Number: errDupEntry, Message: "Duplicate entry 'abc' for key 'messages_id'"}),
			want: sqlbackend.ErrorDuplicateID,
		},
		{
			name: "primary key",
			err:  &mysql.MySQLError{Number: errDupEntry, Message: "Duplicate entry '1' for key 'messages.PRIMARY'"},
			want: sqlbackend.ErrorOther,
		},
		{
			name: "not a mysql error",
			err:  errors.New("bad connection"),
			want: sqlbackend.ErrorOther,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, dialect{}.Classify(tt.err, "messages"))
		})
	}
}

func TestUpsertCheckpointUsesTable(t *testing.T) {
	q := dialect{}.UpsertCheckpoint("custom_checkpoints")
	assert.Contains(t, q, "INSERT INTO custom_checkpoints")
	assert.Contains(t, q, "ON DUPLICATE KEY UPDATE")
}
