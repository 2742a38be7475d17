package resource

import (
	"context"
	"testing"

	"gocloud.dev/docstore/memdocstore"
)

func TestDocstoreStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		coll, err := memdocstore.OpenCollection("id", nil)
		if err != nil {
			t.Fatalf("open memdocstore collection: %v", err)
		}
		t.Cleanup(func() {
			_ = coll.Close()
		})
		return NewDocstoreStore(coll)
	})
}

func TestOpenDocstoreStoreByURL(t *testing.T) {
	t.Parallel()

	store, err := OpenDocstoreStore(context.Background(), "mem://resources/id")
	if err != nil {
		t.Fatalf("open docstore store: %v", err)
	}
	defer store.Close()

	if _, err := store.Insert(context.Background(), "res-1", "Projector"); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestOpenDocstoreStoreRequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := OpenDocstoreStore(context.Background(), " "); err == nil {
		t.Fatalf("expected url validation error")
	}
}
