package classify

import (
	"testing"

	"github.com/skysync/skysync/internal/remote"
	"github.com/skysync/skysync/internal/store"
	"github.com/skysync/skysync/internal/sync/scanner"
)

func indexed(etag, localHash string) *store.ItemRecord {
	return &store.ItemRecord{
		RemoteID:  "r1",
		Path:      "docs/a.txt",
		ETag:      etag,
		LocalHash: localHash,
		Selected:  true,
	}
}

func remoteItem(etag string) *remote.Item {
	return &remote.Item{ID: "r1", Path: "docs/a.txt", ETag: etag}
}

func localEntry(hash string) *scanner.LocalEntry {
	return &scanner.LocalEntry{RelativePath: "docs/a.txt", Hash: hash}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want Action
	}{
		{
			name: "new remote item, no local file",
			in:   Input{Remote: remoteItem("e1"), InScope: true},
			want: ActionDownload,
		},
		{
			name: "new local file in scope",
			in:   Input{Local: localEntry("h1"), InScope: true},
			want: ActionUpload,
		},
		{
			name: "new local file out of scope",
			in:   Input{Local: localEntry("h1"), InScope: false},
			want: ActionNone,
		},
		{
			name: "both sides changed since last sync",
			in:   Input{Entry: indexed("e1", "h1"), Remote: remoteItem("e2"), Local: localEntry("h2"), InScope: true},
			want: ActionConflict,
		},
		{
			name: "only remote tag changed",
			in:   Input{Entry: indexed("e1", "h1"), Remote: remoteItem("e2"), Local: localEntry("h1"), InScope: true},
			want: ActionDownload,
		},
		{
			name: "only local hash changed",
			in:   Input{Entry: indexed("e1", "h1"), Remote: remoteItem("e1"), Local: localEntry("h2"), InScope: true},
			want: ActionUpload,
		},
		{
			name: "nothing changed",
			in:   Input{Entry: indexed("e1", "h1"), Remote: remoteItem("e1"), Local: localEntry("h1"), InScope: true},
			want: ActionNone,
		},
		{
			name: "local copy deleted, remote unchanged",
			in:   Input{Entry: indexed("e1", "h1"), Remote: remoteItem("e1"), InScope: true},
			want: ActionDownload,
		},
		{
			name: "remote deleted, local unchanged",
			in: Input{
				Entry:  indexed("e1", "h1"),
				Remote: &remote.Item{ID: "r1", Deleted: true},
				Local:  localEntry("h1"),
			},
			want: ActionDelete,
		},
		{
			name: "remote deleted, local edited",
			in: Input{
				Entry:  indexed("e1", "h1"),
				Remote: &remote.Item{ID: "r1", Deleted: true},
				Local:  localEntry("h2"),
			},
			want: ActionConflict,
		},
		{
			name: "remote deleted, no local copy",
			in: Input{
				Entry:  indexed("e1", "h1"),
				Remote: &remote.Item{ID: "r1", Deleted: true},
			},
			want: ActionNone,
		},
		{
			name: "independent creates with identical content",
			in: Input{
				Remote: &remote.Item{ID: "r1", ETag: "e1", ContentHash: "h1"},
				Local:  localEntry("h1"),
				InScope: true,
			},
			want: ActionNone,
		},
		{
			name: "independent creates with different content",
			in: Input{
				Remote: &remote.Item{ID: "r1", ETag: "e1", ContentHash: "h1"},
				Local:  localEntry("h2"),
				InScope: true,
			},
			want: ActionConflict,
		},
		{
			name: "indexed folder already present locally",
			in: Input{
				Entry: &store.ItemRecord{RemoteID: "r1", Path: "docs", IsFolder: true},
				Remote: &remote.Item{ID: "r1", Path: "docs", IsFolder: true, ETag: "e2"},
				Local:  &scanner.LocalEntry{RelativePath: "docs", IsDir: true},
			},
			want: ActionNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.in); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	in := Input{Entry: indexed("e1", "h1"), Remote: remoteItem("e2"), Local: localEntry("h2"), InScope: true}
	first := Classify(in)
	for i := 0; i < 100; i++ {
		if got := Classify(in); got != first {
			t.Fatalf("classification not deterministic: %v then %v", first, got)
		}
	}
}
