package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sweepbot/pkg/logx"
)

func openTest(t *testing.T, driver string) (Store, Config) {
	t.Helper()
	cfg := Config{Driver: driver, Path: filepath.Join(t.TempDir(), "audit", "sweeps.db")}
	st, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	require.NotNil(t, st)
	t.Cleanup(func() { _ = st.Close() })
	return st, cfg
}

func rec(chat int64, sig string, at time.Time) Record {
	return Record{
		At:          at,
		ChatID:      chat,
		RunID:       "run-" + sig,
		Directive:   "transfer",
		Lamports:    1_500_000_000,
		Signature:   sig,
		Source:      "src",
		Destination: "dst",
	}
}

func TestOpenDisabled(t *testing.T) {
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		require.NoError(t, err)
		assert.Nil(t, st)
	}
	_, err := Open(Config{Driver: "mongo", Path: "x"}, logx.Nop())
	assert.Error(t, err)
	_, err = Open(Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err)
}

func TestStoreBackends(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			st, _ := openTest(t, driver)

			require.NoError(t, st.Append(ctx, rec(1, "a", base)))
			require.NoError(t, st.Append(ctx, rec(2, "b", base.Add(time.Minute))))
			require.NoError(t, st.Append(ctx, rec(1, "c", base.Add(2*time.Minute))))
			require.NoError(t, st.Append(ctx, rec(1, "d", base.Add(3*time.Minute))))

			got, err := st.Recent(ctx, 1, 2)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "d", got[0].Signature)
			assert.Equal(t, "c", got[1].Signature)
			assert.Equal(t, uint64(1_500_000_000), got[0].Lamports)
			assert.True(t, got[0].At.Equal(base.Add(3*time.Minute)))

			none, err := st.Recent(ctx, 99, 5)
			require.NoError(t, err)
			assert.Empty(t, none)

			n, err := st.Prune(ctx, base.Add(90*time.Second))
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			got, err = st.Recent(ctx, 1, 10)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "c", got[1].Signature)

			// Appends still work after a prune rewrote the file.
			require.NoError(t, st.Append(ctx, rec(2, "e", base.Add(4*time.Minute))))
			got, err = st.Recent(ctx, 2, 10)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "e", got[0].Signature)
		})
	}
}

func TestFileStoreReloadSkipsCorruptLines(t *testing.T) {
	ctx := context.Background()
	st, cfg := openTest(t, "file")
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, st.Append(ctx, rec(5, "x", at)))
	require.NoError(t, st.Close())

	f, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	st2, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	defer st2.Close()
	got, err := st2.Recent(ctx, 5, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "x", got[0].Signature)
}

func TestClosedStore(t *testing.T) {
	st, _ := openTest(t, "file")
	require.NoError(t, st.Close())
	assert.ErrorIs(t, st.Append(context.Background(), rec(1, "a", time.Now())), ErrDisabled)
}

func TestRetention(t *testing.T) {
	ctx := context.Background()
	st, _ := openTest(t, "file")
	now := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.Append(ctx, rec(1, "old", now.Add(-48*time.Hour))))
	require.NoError(t, st.Append(ctx, rec(1, "new", now.Add(-time.Hour))))

	r, err := NewRetention(st, 24*time.Hour, "@daily", logx.Nop())
	require.NoError(t, err)
	require.NotNil(t, r)
	r.now = func() time.Time { return now }
	r.RunOnce(ctx)

	got, err := st.Recent(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].Signature)

	r.Start()
	r.Stop(ctx)

	off, err := NewRetention(st, 0, "@daily", logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, off)
	off.Start()
	off.Stop(ctx)

	_, err = NewRetention(st, time.Hour, "not a schedule", logx.Nop())
	assert.Error(t, err)
}
