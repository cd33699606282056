package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrateCreatesSchema(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(db))

	for _, table := range []string{
		"workspaces", "workspace_members", "users", "channels",
		"channel_members", "messages", "message_attachments",
		"message_mentions", "message_outbox", "user_channel_read_status",
	} {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s missing", table)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(db))
	require.NoError(t, Migrate(db))
}

func TestDuplicateClientMsgIndexIsPartial(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(db))

	seed := `
		INSERT INTO workspaces (id, name) VALUES ('w1', 'acme');
		INSERT INTO channels (id, workspace_id, type, name, max_seq_id, created_at)
			VALUES ('c1', 'w1', 1, 'general', 0, 0);
		INSERT INTO users (id, type, name, active) VALUES ('u1', 1, 'alice', 1);
	`
	_, err = db.Exec(seed)
	require.NoError(t, err)

	insert := func(id, clientMsgID string, seq int) error {
		_, err := db.Exec(`
			INSERT INTO messages (id, channel_id, sender_id, seq_id, client_msg_id, type, content, created_at, updated_at)
			VALUES (?, 'c1', 'u1', ?, ?, 1, 'x', 0, 0)`,
			id, seq, nullable(clientMsgID))
		return err
	}

	require.NoError(t, insert("m1", "dup", 1))
	require.Error(t, insert("m2", "dup", 2), "same client_msg_id in one channel must collide")

	// Absent client ids never collide: the unique index excludes NULL.
	require.NoError(t, insert("m3", "", 3))
	require.NoError(t, insert("m4", "", 4))
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
