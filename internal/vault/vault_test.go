package vault

import (
	"context"
	"errors"
	"testing"

	vault "github.com/hashicorp/vault/api"
)

type fakeKV struct {
	mount string
	data  map[string]map[string]any
	calls *int
}

func (f fakeKV) Get(_ context.Context, p string) (*vault.KVSecret, error) {
	*f.calls++
	d, ok := f.data[f.mount+"/"+p]
	if !ok {
		return nil, errors.New("not found")
	}
	return &vault.KVSecret{Data: d}, nil
}

func newFake(data map[string]map[string]any) (*Client, *int) {
	calls := 0
	c := newClient(func(mount string) KV {
		return fakeKV{mount: mount, data: data, calls: &calls}
	}, nil)
	return c, &calls
}

func TestResolve_ReadsAndCaches(t *testing.T) {
	c, calls := newFake(map[string]map[string]any{
		"secret/catalog": {"openai": "sk-1", "port": 5432},
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v, err := c.Resolve(ctx, "secret/catalog#openai")
		if err != nil || v != "sk-1" {
			t.Fatalf("Resolve = %q, %v", v, err)
		}
	}
	if *calls != 1 {
		t.Fatalf("expected one backend call, got %d", *calls)
	}

	if _, err := c.Resolve(ctx, "secret/catalog#port"); err == nil {
		t.Fatalf("expected error for non-string value")
	}
	if _, err := c.Resolve(ctx, "secret/catalog#missing"); err == nil {
		t.Fatalf("expected error for missing key")
	}
}

func TestResolve_RejectsMalformedRef(t *testing.T) {
	c, _ := newFake(nil)
	if _, err := c.Resolve(context.Background(), "secret/catalog"); err == nil {
		t.Fatalf("expected error for ref without #key")
	}
}

func TestGetKV_NoCacheWhenTTLZero(t *testing.T) {
	c, calls := newFake(map[string]map[string]any{"kv/app": {"k": "v"}})
	for i := 0; i < 2; i++ {
		if _, err := c.GetKV(context.Background(), "kv/app", "k", 0); err != nil {
			t.Fatal(err)
		}
	}
	if *calls != 2 {
		t.Fatalf("calls = %d, want 2", *calls)
	}
}

func TestSplitMount(t *testing.T) {
	m, r := splitMount("secret/a/b")
	if m != "secret" || r != "a/b" {
		t.Fatalf("got %q %q", m, r)
	}
}
