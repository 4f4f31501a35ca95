package changetransfer

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/arkestra/ravel/pkg/changestore"
	"github.com/arkestra/ravel/pkg/types"
)

// directSender delivers an envelope straight to peer's Transfer,
// playing the role pkg/controller's dispatch plays at runtime.
type directSender struct {
	self string
	peer *Transfer
}

func (d *directSender) Send(peerID string, env types.Envelope) error {
	var tagged struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(env.Content, &tagged); err != nil {
		return err
	}
	switch tagged.Type {
	case TypeRequest:
		var req Request
		if err := json.Unmarshal(env.Content, &req); err != nil {
			return err
		}
		d.peer.HandleRequest(d.self, req)
	case TypeResponse:
		var resp Response
		if err := json.Unmarshal(env.Content, &resp); err != nil {
			return err
		}
		d.peer.HandleResponse(d.self, resp)
	}
	return nil
}

func newStore(t *testing.T) *changestore.Store {
	t.Helper()
	s, err := changestore.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func writeBlob(t *testing.T, s *changestore.Store, key, version, content string) {
	t.Helper()
	path, err := s.Add(key, version)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// newPair builds two Transfers, "foo" and "bar", each routing
// directly to the other, so foo.RequestBlob("bar", ...) fully
// round-trips synchronously within the test.
func newPair(t *testing.T) (foo, bar *Transfer) {
	t.Helper()
	fooStore := newStore(t)
	barStore := newStore(t)

	foo = New("foo", fooStore, nil)
	bar = New("bar", barStore, nil)

	foo.sender = &directSender{self: "foo", peer: bar}
	bar.sender = &directSender{self: "bar", peer: foo}
	return foo, bar
}

func TestFetchMissingBlobEndToEnd(t *testing.T) {
	foo, bar := newPair(t)
	writeBlob(t, bar.store, "root", "0", "hello world")

	arrived := make(chan string, 1)
	foo.OnArrival(func(key, version string) { arrived <- key + "@" + version })

	foo.RequestBlob("bar", "root", "0", "", 0)

	select {
	case got := <-arrived:
		if got != "root@0" {
			t.Fatalf("arrived = %q, want root@0", got)
		}
	default:
		t.Fatal("arrival callback did not fire")
	}

	data, err := os.ReadFile(foo.store.Path("root", "0"))
	if err != nil {
		t.Fatalf("reading persisted blob: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("persisted content = %q, want %q", data, "hello world")
	}
}

func TestRequestForMissingKeyReturnsNoKey(t *testing.T) {
	foo, _ := newPair(t)

	fired := false
	foo.OnArrival(func(string, string) { fired = true })

	foo.RequestBlob("bar", "ghost", "0", "", 0)

	if fired {
		t.Fatal("arrival should not fire for a no_key response")
	}
	if foo.store.Exists("ghost") {
		t.Fatal("no blob should have been persisted for a no_key response")
	}
}

func TestRequestForMissingVersionReturnsNoVersion(t *testing.T) {
	foo, bar := newPair(t)
	writeBlob(t, bar.store, "root", "0", "hello")

	foo.RequestBlob("bar", "root", "1", "", 0)

	if foo.store.ExistsVersion("root", "1") {
		t.Fatal("no blob should have been persisted for a no_version response")
	}
}
