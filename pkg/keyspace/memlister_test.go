package keyspace

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func listAll(t *testing.T, m *MemLister, req ListRequest) ([]string, []string) {
	t.Helper()
	var keys, prefixes []string
	for i := 0; ; i++ {
		if i > 100 {
			t.Fatal("listing did not terminate")
		}
		page, err := m.List(context.Background(), BucketID{Account: "a", Bucket: "b"}, req)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		for _, k := range page.Keys {
			keys = append(keys, k.Key)
		}
		prefixes = append(prefixes, page.CommonPrefixes...)
		if !page.Truncated() {
			return keys, prefixes
		}
		req.Continuation = page.Next
	}
}

func TestMemLister_Delimited(t *testing.T) {
	m := NewMemLister("a/1", "a/2", "b/1", "c", "d/x/y", "e")

	page, err := m.List(context.Background(), BucketID{}, ListRequest{Delimiter: "/"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if want := []string{"a/", "b/", "d/"}; !slices.Equal(page.CommonPrefixes, want) {
		t.Errorf("CommonPrefixes = %v, want %v", page.CommonPrefixes, want)
	}
	if len(page.Keys) != 2 || page.Keys[0].Key != "c" || page.Keys[1].Key != "e" {
		t.Errorf("Keys = %+v, want [c e]", page.Keys)
	}
	if page.Truncated() {
		t.Error("expected single page")
	}
}

func TestMemLister_PagingCoversEverythingOnce(t *testing.T) {
	all := []string{"a/", "a/1", "a/2", "b/1", "b/2", "b/3", "c", "d", "e/f/g"}
	m := NewMemLister(all...)

	for _, size := range []int{1, 2, 3, 1000} {
		keys, prefixes := listAll(t, m, ListRequest{Delimiter: "/", MaxKeys: size})
		if want := []string{"c", "d"}; !slices.Equal(keys, want) {
			t.Errorf("MaxKeys=%d keys = %v, want %v", size, keys, want)
		}
		if want := []string{"a/", "b/", "e/"}; !slices.Equal(prefixes, want) {
			t.Errorf("MaxKeys=%d prefixes = %v, want %v", size, prefixes, want)
		}

		keys, _ = listAll(t, m, ListRequest{MaxKeys: size})
		if !slices.Equal(keys, all) {
			t.Errorf("MaxKeys=%d flat keys = %v, want %v", size, keys, all)
		}

		// A key equal to the prefix must not hide the keys below it.
		keys, prefixes = listAll(t, m, ListRequest{Prefix: "a/", Delimiter: "/", MaxKeys: size})
		if want := []string{"a/", "a/1", "a/2"}; !slices.Equal(keys, want) || len(prefixes) != 0 {
			t.Errorf("MaxKeys=%d under a/ = %v %v, want %v", size, keys, prefixes, want)
		}
	}
}

func TestMemLister_Versioned(t *testing.T) {
	m := NewMemLister("a", "c")
	m.PutVersions("b", "v3", "v2", "v1")

	var got []string
	req := ListRequest{Versioned: true, MaxKeys: 2}
	for {
		page, err := m.List(context.Background(), BucketID{}, req)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		for _, k := range page.Keys {
			if k.VersionID == nil || k.IsLatest == nil {
				t.Fatalf("versioned record missing fields: %+v", k)
			}
			got = append(got, k.Key+"@"+*k.VersionID)
		}
		if !page.Truncated() {
			break
		}
		if page.Next.Token != "" || page.Next.KeyMarker == "" {
			t.Fatalf("versioned continuation = %+v", page.Next)
		}
		req.Continuation = page.Next
	}

	want := []string{"a@null", "b@v3", "b@v2", "b@v1", "c@null"}
	if !slices.Equal(got, want) {
		t.Errorf("versions = %v, want %v", got, want)
	}
}

func TestMemLister_FailPrefix(t *testing.T) {
	m := NewMemLister("x/1")
	boom := errors.New("boom")
	m.FailPrefix("x/", boom)

	if _, err := m.List(context.Background(), BucketID{}, ListRequest{Prefix: "x/"}); !errors.Is(err, boom) {
		t.Errorf("List(x/) error = %v, want %v", err, boom)
	}
	if _, err := m.List(context.Background(), BucketID{}, ListRequest{}); err != nil {
		t.Errorf("List() error = %v", err)
	}
	if n := len(m.Calls()); n != 2 {
		t.Errorf("Calls() = %d, want 2", n)
	}
}
