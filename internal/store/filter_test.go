package store

import (
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

func TestEmptyFilterRejected(t *testing.T) {
	if err := (Filter{}).Validate(); !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("err = %v, want ErrInvalidFilter", err)
	}
	if err := (Filter{IDs: []string{"a", ""}}).Validate(); !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("empty id element: err = %v, want ErrInvalidFilter", err)
	}
	if err := (Filter{RoomID: "r1", ExcludeTypes: []string{""}}).Validate(); !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("empty type tag: err = %v, want ErrInvalidFilter", err)
	}
	if err := (Filter{RoomID: "r1"}).Validate(); err != nil {
		t.Fatalf("valid filter rejected: %v", err)
	}
}

func TestTimeWindowBounds(t *testing.T) {
	before := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	after := before.Add(-time.Hour)

	q := Filter{RoomID: "r1", Before: &before, After: &after}.ToQuery()
	ts := q["ts"].(bson.M)
	if _, ok := ts["$lt"]; !ok {
		t.Fatalf("default window = %v, want exclusive $lt", ts)
	}
	if _, ok := ts["$gt"]; !ok {
		t.Fatalf("default window = %v, want exclusive $gt", ts)
	}

	q = Filter{RoomID: "r1", Before: &before, After: &after, Inclusive: true}.ToQuery()
	ts = q["ts"].(bson.M)
	if _, ok := ts["$lte"]; !ok {
		t.Fatalf("inclusive window = %v, want $lte", ts)
	}
	if _, ok := ts["$gte"]; !ok {
		t.Fatalf("inclusive window = %v, want $gte", ts)
	}
}

func TestBuriedReplyClause(t *testing.T) {
	q := Filter{RoomID: "r1", ExcludeBuriedReplies: true}.ToQuery()
	or, ok := q["$or"].(bson.A)
	if !ok || len(or) != 2 {
		t.Fatalf("$or = %v, want [tmid missing | tshow=true]", q["$or"])
	}
	first := or[0].(bson.M)["tmid"].(bson.M)
	if first["$exists"] != false {
		t.Fatalf("first branch = %v, want tmid $exists false", first)
	}
	if or[1].(bson.M)["tshow"] != true {
		t.Fatalf("second branch = %v, want tshow true", or[1])
	}
}

func TestVisibilityAndExistenceShapes(t *testing.T) {
	q := Filter{
		RoomID:          "r1",
		VisibleOnly:     true,
		ThreadRootsOnly: true,
		ExcludePinned:   true,
		TokenAbsent:     true,
	}.ToQuery()

	if got := q["_hidden"].(bson.M)["$ne"]; got != true {
		t.Fatalf("_hidden = %v, want $ne true (field usually absent)", q["_hidden"])
	}
	if got := q["tcount"].(bson.M)["$exists"]; got != true {
		t.Fatalf("tcount = %v, want $exists true", q["tcount"])
	}
	if got := q["pinned"].(bson.M)["$ne"]; got != true {
		t.Fatalf("pinned = %v, want $ne true", q["pinned"])
	}
	if got := q["token"].(bson.M)["$exists"]; got != false {
		t.Fatalf("token = %v, want $exists false", q["token"])
	}
}

func TestImportPendingDownloadShape(t *testing.T) {
	q := Filter{ImportPendingDownload: true}.ToQuery()
	if got := q["_importFile.downloadUrl"].(bson.M)["$exists"]; got != true {
		t.Fatalf("downloadUrl = %v", q["_importFile.downloadUrl"])
	}
	if got := q["_importFile.downloaded"].(bson.M)["$ne"]; got != true {
		t.Fatalf("downloaded = %v", q["_importFile.downloaded"])
	}
	if got := q["_importFile.external"].(bson.M)["$ne"]; got != true {
		t.Fatalf("external = %v", q["_importFile.external"])
	}
}

func TestSortDoc(t *testing.T) {
	if d := (FindOptions{}).sortDoc(); d != nil {
		t.Fatalf("SortNone = %v, want nil", d)
	}
	d := (FindOptions{Sort: SortTLMDesc}).sortDoc()
	if len(d) != 1 || d[0].Key != "tlm" || d[0].Value != -1 {
		t.Fatalf("SortTLMDesc = %v", d)
	}
}
