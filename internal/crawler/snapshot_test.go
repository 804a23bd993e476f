package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSnapshotKeepsNewestPerItem(t *testing.T) {
	t.Parallel()

	events := []FingerprintEvent{
		{EventID: "item#foo#bar#2025-02-01T12:00:00.001+01:00", ItemID: "item#foo#bar", Fingerprint: "newest"},
		{EventID: "item#foo#bar#2025-01-01T12:00:00.001+01:00", ItemID: "item#foo#bar", Fingerprint: "older"},
		{EventID: "item#foo#baz#2025-01-01T12:00:00.001+01:00", ItemID: "item#foo#baz", Fingerprint: "only"},
	}

	snap := NewSnapshot(events)
	require.Len(t, snap, 2)

	fp, ok := snap.Lookup("item#foo#bar")
	require.True(t, ok)
	require.Equal(t, Fingerprint("newest"), fp)

	fp, ok = snap.Lookup("item#foo#baz")
	require.True(t, ok)
	require.Equal(t, Fingerprint("only"), fp)

	_, ok = snap.Lookup("item#foo#missing")
	require.False(t, ok)
}

func TestNewSnapshotEmpty(t *testing.T) {
	t.Parallel()

	snap := NewSnapshot(nil)
	require.NotNil(t, snap)
	require.Empty(t, snap)
}
