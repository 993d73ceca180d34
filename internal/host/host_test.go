package host

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Ka0gaMi/vscode-typescript-web/internal/broadcast"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/models"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/protocol"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/rpc"
)

type fakeSource struct {
	listings map[string]*models.Listing
	files    map[string]string
}

func (f *fakeSource) FlatListing(ctx context.Context, spec string) (*models.Listing, error) {
	if l, ok := f.listings[spec]; ok {
		return l, nil
	}
	return nil, errors.New("not found")
}

func (f *fakeSource) FileText(ctx context.Context, path string) (string, error) {
	if text, ok := f.files[path]; ok {
		return text, nil
	}
	return "", errors.New("not found")
}

func setup(t *testing.T, src Source) *rpc.Channel {
	t.Helper()
	hub := broadcast.NewHub()
	client := rpc.New(hub.Join("host-test"), rpc.Options{Timeout: time.Second})
	server := rpc.New(hub.Join("host-test"), rpc.Options{Timeout: time.Second})
	Register(server, src)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client
}

func TestGetFlatListing(t *testing.T) {
	client := setup(t, &fakeSource{listings: map[string]*models.Listing{
		"pkg": {Files: []models.FileEntry{{Name: "/index.js", Size: 10}}},
	}})

	out, err := client.Call(context.Background(), protocol.FuncGetFlatListing, "pkg")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	var listing models.Listing
	if err := json.Unmarshal([]byte(out), &listing); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listing.Files) != 1 || listing.Files[0].Name != "/index.js" {
		t.Errorf("unexpected listing %+v", listing)
	}
}

func TestGetFileText(t *testing.T) {
	client := setup(t, &fakeSource{files: map[string]string{"pkg/index.js": "x"}})

	out, err := client.Call(context.Background(), protocol.FuncGetFileText, "pkg/index.js")
	if err != nil || out != "x" {
		t.Fatalf("expected x, got %q, %v", out, err)
	}

	_, err = client.Call(context.Background(), protocol.FuncGetFileText, "pkg/missing.js")
	var remote *rpc.RemoteError
	if !errors.As(err, &remote) || remote.Message != "not found" {
		t.Errorf("expected remote not found, got %v", err)
	}
}
