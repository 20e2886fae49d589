package manifest

import (
	"testing"

	"github.com/arjunkhera/lsmkv/keys"
	"github.com/arjunkhera/lsmkv/level"
	"github.com/arjunkhera/lsmkv/run"
	"github.com/arjunkhera/lsmkv/sstable"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := Manifest{
		NextSeqNum:  42,
		NextFileNum: 7,
		Levels: []LevelManifest{
			{
				LevelNum:     0,
				RunCapacity:  4,
				SizeCapacity: 1 << 20,
				HasRange:     true,
				MinTableKey:  keys.New(0, 1, keys.Put, 0),
				MaxTableKey:  keys.New(100, 1, keys.Put, 0),
				Runs: []RunManifest{
					{
						MinTableKey: keys.New(0, 1, keys.Put, 0),
						MaxTableKey: keys.New(100, 1, keys.Put, 0),
						SSTables: []SSTableManifest{
							{FileNum: 1, FileSize: 4096 * 4, MinTableKey: keys.New(0, 1, keys.Put, 0), MaxTableKey: keys.New(50, 1, keys.Put, 0)},
							{FileNum: 2, FileSize: 4096 * 4, MinTableKey: keys.New(51, 1, keys.Put, 0), MaxTableKey: keys.New(100, 1, keys.Put, 0)},
						},
					},
				},
			},
			{
				LevelNum:     1,
				RunCapacity:  4,
				SizeCapacity: 1 << 22,
				HasRange:     false,
			},
		},
	}

	decoded, err := Decode(m.Encode())
	require.NoError(t, err)
	require.Equal(t, m, decoded)
}

func TestBuildSnapshotReflectsLiveLevels(t *testing.T) {
	lvl := level.New(0, 4, 1<<20)
	lvl.AddRun(run.New([]sstable.SSTable{
		{FileNum: 3, FileSize: 4096 * 4, MinTableKey: keys.New(0, 1, keys.Put, 0), MaxTableKey: keys.New(10, 1, keys.Put, 0)},
	}, keys.New(0, 1, keys.Put, 0), keys.New(10, 1, keys.Put, 0)))

	snap := BuildSnapshot(99, 4, []*level.Level{lvl})
	require.Equal(t, keys.SeqNum(99), snap.NextSeqNum)
	require.Equal(t, keys.FileNum(4), snap.NextFileNum)
	require.Len(t, snap.Levels, 1)
	require.True(t, snap.Levels[0].HasRange)
	require.Len(t, snap.Levels[0].Runs, 1)
	require.Len(t, snap.Levels[0].Runs[0].SSTables, 1)
	require.Equal(t, keys.FileNum(3), snap.Levels[0].Runs[0].SSTables[0].FileNum)
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := Manifest{NextSeqNum: 5, NextFileNum: 2}
	require.NoError(t, Write(dir, m))

	got, ok, err := Read(dir)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, m, got)
}

func TestReadMissingManifestReportsNotOK(t *testing.T) {
	dir := t.TempDir()
	_, ok, err := Read(dir)
	require.NoError(t, err)
	require.False(t, ok)
}
