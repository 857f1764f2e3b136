package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a miniredis instance for testing Lua scripts
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, mr
}

func runCreate(t *testing.T, client *redis.Client, id, plate string) int {
	t.Helper()

	keys := []string{plateActiveKey(plate), plateSessionsKey(plate), sessionKey(id)}
	result, err := client.Eval(context.Background(), createSessionScript, keys,
		id, plate, "2024-01-15 09:00:00", "camera", "0.9", "entry.jpg").Int()
	if err != nil {
		t.Fatalf("create script failed: %v", err)
	}
	return result
}

func runClose(t *testing.T, client *redis.Client, id, plate string, version int64) int {
	t.Helper()

	keys := []string{sessionKey(id), plateActiveKey(plate)}
	result, err := client.Eval(context.Background(), closeSessionScript, keys,
		id, plate, version, "2024-01-15 09:20:00", "20", "2", "0.8", "exit.jpg").Int()
	if err != nil {
		t.Fatalf("close script failed: %v", err)
	}
	return result
}

func TestCreateSessionScript(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()

	if got := runCreate(t, client, "s1", "AB12CDE"); got != 1 {
		t.Fatalf("Expected first create to return 1, got %d", got)
	}

	if got := mr.HGet(sessionKey("s1"), "version"); got != "1" {
		t.Errorf("Expected version 1, got %q", got)
	}

	if got := runCreate(t, client, "s2", "AB12CDE"); got != 0 {
		t.Errorf("Expected second create to return 0, got %d", got)
	}
	if mr.Exists(sessionKey("s2")) {
		t.Error("Rejected create must not write a session hash")
	}

	list, err := mr.List(plateSessionsKey("AB12CDE"))
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 || list[0] != "s1" {
		t.Errorf("Expected session list [s1], got %v", list)
	}

	// Other plates are unaffected
	if got := runCreate(t, client, "s3", "XY99ZZZ"); got != 1 {
		t.Errorf("Expected create for another plate to return 1, got %d", got)
	}
}

func TestCloseSessionScript(t *testing.T) {
	tests := []struct {
		name    string
		plate   string
		version int64
		want    int
	}{
		{name: "matching version", plate: "AB12CDE", version: 1, want: 1},
		{name: "stale version", plate: "AB12CDE", version: 7, want: 0},
		{name: "wrong plate", plate: "XY99ZZZ", version: 1, want: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, mr := setupTestRedis(t)
			defer client.Close()

			runCreate(t, client, "s1", "AB12CDE")

			if got := runClose(t, client, "s1", tt.plate, tt.version); got != tt.want {
				t.Fatalf("Expected %d, got %d", tt.want, got)
			}

			closed := tt.want == 1
			if got := mr.HGet(sessionKey("s1"), "paid"); (got == "true") != closed {
				t.Errorf("Unexpected paid %q", got)
			}
			if mr.Exists(plateActiveKey("AB12CDE")) == closed {
				t.Errorf("Active pointer state wrong after close=%v", closed)
			}
		})
	}
}

func TestCloseSessionScript_Replay(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()

	runCreate(t, client, "s1", "AB12CDE")

	if got := runClose(t, client, "s1", "AB12CDE", 1); got != 1 {
		t.Fatalf("Expected first close to succeed, got %d", got)
	}
	if got := mr.HGet(sessionKey("s1"), "version"); got != "2" {
		t.Errorf("Expected version 2, got %q", got)
	}

	// Closed session refuses even the current version
	if got := runClose(t, client, "s1", "AB12CDE", 2); got != 0 {
		t.Errorf("Expected replay to return 0, got %d", got)
	}

	if got := runClose(t, client, "missing", "AB12CDE", 1); got != -1 {
		t.Errorf("Expected missing session to return -1, got %d", got)
	}
}

func TestCloseSessionScript_KeepsNewerPointer(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()

	runCreate(t, client, "s1", "AB12CDE")
	// Pointer moved on (e.g. by an import repair)
	mr.Set(plateActiveKey("AB12CDE"), "other")

	if got := runClose(t, client, "s1", "AB12CDE", 1); got != 1 {
		t.Fatalf("Expected close to succeed, got %d", got)
	}
	if got, _ := mr.Get(plateActiveKey("AB12CDE")); got != "other" {
		t.Errorf("Expected pointer to stay 'other', got %q", got)
	}
}

func TestPlateOwnershipScripts(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()

	ctx := context.Background()
	keys := []string{plateOwnerKey("AB12CDE"), accountPlatesKey("alice"), registeredPlatesKey}
	bobKeys := []string{plateOwnerKey("AB12CDE"), accountPlatesKey("bob"), registeredPlatesKey}

	if got, err := client.Eval(ctx, registerPlateScript, keys, "alice", "AB12CDE").Int(); err != nil || got != 1 {
		t.Fatalf("Expected alice register to return 1, got %d (%v)", got, err)
	}
	if got, err := client.Eval(ctx, registerPlateScript, bobKeys, "bob", "AB12CDE").Int(); err != nil || got != 0 {
		t.Errorf("Expected bob register to return 0, got %d (%v)", got, err)
	}
	if got, err := client.Eval(ctx, removePlateScript, bobKeys, "bob", "AB12CDE").Int(); err != nil || got != 0 {
		t.Errorf("Expected bob remove to return 0, got %d (%v)", got, err)
	}

	if ok, _ := mr.SIsMember(registeredPlatesKey, "AB12CDE"); !ok {
		t.Error("Expected plate to remain registered")
	}

	if got, err := client.Eval(ctx, removePlateScript, keys, "alice", "AB12CDE").Int(); err != nil || got != 1 {
		t.Fatalf("Expected alice remove to return 1, got %d (%v)", got, err)
	}
	if ok, _ := mr.SIsMember(registeredPlatesKey, "AB12CDE"); ok {
		t.Error("Expected plate removed from registered index")
	}
}
