package project

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/splax/lovablebridge/internal/domain"
	"github.com/splax/lovablebridge/internal/lovable"
	"github.com/splax/lovablebridge/internal/store"
)

type gatewayStub struct {
	createFunc func(ctx context.Context, req lovable.CreateProjectRequest) (domain.RemoteProject, error)
	syncFunc   func(ctx context.Context, id string, force bool) (domain.SyncStatus, error)
	creates    int
	syncs      []string
	remoteErr  error
	remote     []string
}

func (g *gatewayStub) CreateProject(ctx context.Context, req lovable.CreateProjectRequest) (domain.RemoteProject, error) {
	g.creates++
	if g.createFunc == nil {
		return domain.RemoteProject{}, errors.New("not configured")
	}
	return g.createFunc(ctx, req)
}

func (g *gatewayStub) SyncProject(ctx context.Context, id string, force bool) (domain.SyncStatus, error) {
	g.syncs = append(g.syncs, id)
	if g.syncFunc == nil {
		return domain.SyncStatus{}, nil
	}
	return g.syncFunc(ctx, id, force)
}

func (g *gatewayStub) UpdateProject(ctx context.Context, id string, req lovable.UpdateProjectRequest) (domain.RemoteProject, error) {
	g.remote = append(g.remote, "update "+id+" "+req.Name)
	return domain.RemoteProject{ID: id, Name: req.Name}, g.remoteErr
}

func (g *gatewayStub) DeleteProject(ctx context.Context, id string) error {
	g.remote = append(g.remote, "delete "+id)
	return g.remoteErr
}

func (g *gatewayStub) ConnectRepository(ctx context.Context, id, repoURL, token string) error {
	g.remote = append(g.remote, "connect "+id+" "+repoURL)
	return g.remoteErr
}

func (g *gatewayStub) DisconnectRepository(ctx context.Context, id string) error {
	g.remote = append(g.remote, "disconnect "+id)
	return g.remoteErr
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func createReturning(id string) func(context.Context, lovable.CreateProjectRequest) (domain.RemoteProject, error) {
	return func(_ context.Context, req lovable.CreateProjectRequest) (domain.RemoteProject, error) {
		return domain.RemoteProject{ID: id, Name: req.Name}, nil
	}
}

func storedProjects(t *testing.T, st store.Store) []domain.Project {
	t.Helper()
	var projects []domain.Project
	if err := store.GetJSON(context.Background(), st, store.KeyProjects, &projects); err != nil {
		t.Fatalf("read stored projects: %v", err)
	}
	return projects
}

func TestAddConnectsProject(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	gw := &gatewayStub{createFunc: createReturning("p1")}
	svc := New(st, gw, newLogger())
	if err := svc.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	record, err := svc.Add(ctx, "Demo", "https://github.com/u/demo")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if record.Status != domain.ProjectStatusConnected || record.RemoteProjectID != "p1" || record.ID == "" {
		t.Fatalf("unexpected record %+v", record)
	}
	list := svc.List()
	if len(list) != 1 || list[0].RemoteProjectID != "p1" {
		t.Fatalf("expected one connected record, got %+v", list)
	}
	if stored := storedProjects(t, st); len(stored) != 1 || stored[0].ID != record.ID {
		t.Fatalf("expected record to be mirrored, got %+v", stored)
	}
}

func TestAddFailureAddsNothing(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	gw := &gatewayStub{createFunc: func(context.Context, lovable.CreateProjectRequest) (domain.RemoteProject, error) {
		return domain.RemoteProject{}, lovable.APIError{Status: 500, Message: "boom"}
	}}
	svc := New(st, gw, newLogger())

	if _, err := svc.Add(ctx, "Demo", "https://github.com/u/demo"); err == nil {
		t.Fatal("expected error")
	}
	if len(svc.List()) != 0 {
		t.Fatal("failed create must not add a record")
	}
	if gw.creates != 1 {
		t.Fatalf("expected exactly one create attempt, got %d", gw.creates)
	}
	if _, err := st.Get(ctx, store.KeyProjects); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("nothing should be persisted, got %v", err)
	}
}

func TestAddValidatesInput(t *testing.T) {
	gw := &gatewayStub{createFunc: createReturning("p1")}
	svc := New(store.NewMemory(), gw, newLogger())
	if _, err := svc.Add(context.Background(), " ", "https://github.com/u/demo"); !errors.Is(err, errMissingName) {
		t.Fatalf("expected errMissingName, got %v", err)
	}
	if _, err := svc.Add(context.Background(), "Demo", ""); !errors.Is(err, errMissingRepoURL) {
		t.Fatalf("expected errMissingRepoURL, got %v", err)
	}
	if gw.creates != 0 {
		t.Fatal("invalid input must not reach the gateway")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	ids := []string{"a", "b"}
	svc := New(st, &gatewayStub{createFunc: createReturning("p")}, newLogger(), WithIDGenerator(func() (string, error) {
		id := ids[0]
		ids = ids[1:]
		return id, nil
	}))
	for _, name := range []string{"One", "Two"} {
		if _, err := svc.Add(ctx, name, "https://github.com/u/"+name); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	if err := svc.Remove(ctx, "missing"); err != nil {
		t.Fatalf("Remove missing: %v", err)
	}
	if len(svc.List()) != 2 {
		t.Fatal("removing an unknown id must not change the list")
	}
	if err := svc.Remove(ctx, "a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	stored := storedProjects(t, st)
	if len(stored) != 1 || stored[0].ID != "b" {
		t.Fatalf("expected only b to remain, got %+v", stored)
	}
	if err := svc.Remove(ctx, "a"); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
	if len(svc.List()) != 1 {
		t.Fatal("second remove must be a no-op")
	}
}

func TestSyncUpdatesOnSuccessOnly(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	gw := &gatewayStub{createFunc: createReturning("p1")}
	svc := New(store.NewMemory(), gw, newLogger(), WithNow(func() time.Time { return now }))
	record, err := svc.Add(ctx, "Demo", "https://github.com/u/demo")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	gw.syncFunc = func(context.Context, string, bool) (domain.SyncStatus, error) {
		return domain.SyncStatus{}, errors.New("perform request: connection refused")
	}
	if _, err := svc.Sync(ctx, record.ID); err == nil {
		t.Fatal("expected sync error")
	}
	if got, _ := svc.Get(record.ID); got.LastSync != nil {
		t.Fatal("failed sync must not touch the record")
	}

	gw.syncFunc = nil
	synced, err := svc.Sync(ctx, record.ID)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if synced.LastSync == nil || !synced.LastSync.Equal(now) {
		t.Fatalf("expected last sync %v, got %v", now, synced.LastSync)
	}
	if gw.syncs[len(gw.syncs)-1] != "p1" {
		t.Fatalf("expected remote id to be synced, got %v", gw.syncs)
	}
}

func TestSelectAndStatusRules(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seed := []domain.Project{
		{ID: "local-only", Name: "Draft", RepoURL: "https://github.com/u/draft", Status: domain.ProjectStatusPending},
		{ID: "linked", Name: "Demo", RepoURL: "https://github.com/u/demo", RemoteProjectID: "p1", Status: domain.ProjectStatusConnected},
	}
	if err := store.SetJSON(ctx, st, store.KeyProjects, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	svc := New(st, &gatewayStub{}, newLogger())
	if err := svc.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if _, err := svc.Select("local-only"); !errors.Is(err, ErrNotSelectable) {
		t.Fatalf("expected ErrNotSelectable, got %v", err)
	}
	if _, err := svc.Sync(ctx, "local-only"); !errors.Is(err, ErrNotSelectable) {
		t.Fatalf("expected ErrNotSelectable from Sync, got %v", err)
	}
	if remote, err := svc.Select("linked"); err != nil || remote != "p1" {
		t.Fatalf("Select linked: %q %v", remote, err)
	}
	if _, err := svc.Select("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, "local-only", domain.ProjectStatusConnected); !errors.Is(err, ErrNotSelectable) {
		t.Fatalf("connected without remote id must fail, got %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, "linked", "bogus"); !errors.Is(err, errInvalidStatus) {
		t.Fatalf("expected errInvalidStatus, got %v", err)
	}
	updated, err := svc.UpdateStatus(ctx, "linked", domain.ProjectStatusError)
	if err != nil || updated.Status != domain.ProjectStatusError {
		t.Fatalf("UpdateStatus: %+v %v", updated, err)
	}
}

func TestApplyWebhook(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seed := []domain.Project{{ID: "linked", Name: "Demo", RemoteProjectID: "p1", Status: domain.ProjectStatusConnected}}
	if err := store.SetJSON(ctx, st, store.KeyProjects, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	svc := New(st, &gatewayStub{}, newLogger())
	if err := svc.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	failed := domain.WebhookPayload{ProjectID: "p1", Event: domain.WebhookBuildCompleted, Timestamp: at, Data: []byte(`{"buildId":"b1","success":false}`)}
	record, err := svc.ApplyWebhook(ctx, failed)
	if err != nil || record.Status != domain.ProjectStatusError {
		t.Fatalf("failed build: %+v %v", record, err)
	}
	updated := domain.WebhookPayload{ProjectID: "p1", Event: domain.WebhookCodeUpdated, Timestamp: at, Data: []byte(`{"commit":"abc"}`)}
	record, err = svc.ApplyWebhook(ctx, updated)
	if err != nil || record.LastSync == nil || !record.LastSync.Equal(at) {
		t.Fatalf("code update: %+v %v", record, err)
	}
	ok := domain.WebhookPayload{ProjectID: "p1", Event: domain.WebhookBuildCompleted, Timestamp: at, Data: []byte(`{"buildId":"b2","success":true}`)}
	if record, _ = svc.ApplyWebhook(ctx, ok); record.Status != domain.ProjectStatusConnected {
		t.Fatalf("successful build should reconnect, got %s", record.Status)
	}

	before := svc.List()
	if _, err := svc.ApplyWebhook(ctx, domain.WebhookPayload{ProjectID: "other", Event: domain.WebhookCodeUpdated, Timestamp: at}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for untracked project, got %v", err)
	}
	after := svc.List()
	if len(before) != len(after) || *before[0].LastSync != *after[0].LastSync || before[0].Status != after[0].Status {
		t.Fatal("untracked payload must not change state")
	}
}

func TestFollowRequiresWatchableStore(t *testing.T) {
	svc := New(store.NewMemory(), &gatewayStub{}, newLogger())
	if err := svc.Follow(context.Background(), nil); !errors.Is(err, ErrFollowUnsupported) {
		t.Fatalf("expected ErrFollowUnsupported, got %v", err)
	}
}

func TestFollowOverSealedStoreWithoutWatcher(t *testing.T) {
	sealed, err := store.NewSealed(store.NewMemory(), "test-secret", store.KeyProjects)
	if err != nil {
		t.Fatalf("NewSealed: %v", err)
	}
	svc := New(sealed, &gatewayStub{}, newLogger())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := svc.Follow(ctx, nil); !errors.Is(err, ErrFollowUnsupported) {
		t.Fatalf("expected ErrFollowUnsupported, got %v", err)
	}
	if ctx.Err() != nil {
		t.Fatal("Follow must fail fast instead of waiting for the context")
	}
}

func TestRemoteEditsReachGateway(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	gw := &gatewayStub{createFunc: createReturning("p1")}
	svc := New(st, gw, newLogger())
	record, err := svc.Add(ctx, "Demo", "https://github.com/u/demo")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	renamed, err := svc.Rename(ctx, record.ID, " Renamed ")
	if err != nil || renamed.Name != "Renamed" {
		t.Fatalf("Rename: %+v %v", renamed, err)
	}
	if _, err := svc.Rename(ctx, record.ID, " "); !errors.Is(err, errMissingName) {
		t.Fatalf("expected errMissingName, got %v", err)
	}

	disconnected, err := svc.Disconnect(ctx, record.ID)
	if err != nil || disconnected.Status != domain.ProjectStatusPending {
		t.Fatalf("Disconnect: %+v %v", disconnected, err)
	}
	if _, err := svc.Select(record.ID); !errors.Is(err, ErrNotSelectable) {
		t.Fatalf("disconnected record must not be selectable, got %v", err)
	}
	connected, err := svc.Connect(ctx, record.ID, "https://github.com/u/other")
	if err != nil || connected.Status != domain.ProjectStatusConnected || connected.RepoURL != "https://github.com/u/other" {
		t.Fatalf("Connect: %+v %v", connected, err)
	}

	gw.remoteErr = errors.New("api request failed (500)")
	if err := svc.Delete(ctx, record.ID); err == nil {
		t.Fatal("expected remote delete failure")
	}
	if len(svc.List()) != 1 {
		t.Fatal("failed remote delete must keep the record")
	}
	gw.remoteErr = nil
	if err := svc.Delete(ctx, record.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if stored := storedProjects(t, st); len(stored) != 0 {
		t.Fatalf("expected empty mirror, got %+v", stored)
	}

	want := []string{
		"update p1 Renamed",
		"disconnect p1",
		"connect p1 https://github.com/u/other",
		"delete p1",
		"delete p1",
	}
	if len(gw.remote) != len(want) {
		t.Fatalf("unexpected gateway calls %v", gw.remote)
	}
	for i := range want {
		if gw.remote[i] != want[i] {
			t.Fatalf("call %d: expected %q, got %q", i, want[i], gw.remote[i])
		}
	}
	if err := svc.Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
