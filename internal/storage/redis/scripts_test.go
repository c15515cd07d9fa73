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

func runUsageUpsert(t *testing.T, client *redis.Client, pkg, date string, score float64, minutes int, blocked string) {
	t.Helper()

	result := client.Eval(context.Background(), upsertUsageScript, []string{
		usageKey(pkg, date),
		usageDatesKey(pkg),
		usageIndexKey(date),
		usagePackages,
	}, pkg, date, score, minutes, minutes*60000, blocked, "2026-10-12T10:00:00Z")

	if result.Err() != nil {
		t.Fatalf("Script execution failed: %v", result.Err())
	}
}

func TestUpsertUsageScript(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()
	defer mr.Close()

	ctx := context.Background()

	tests := []struct {
		name        string
		blocked     string
		wantBlocked string
	}{
		{name: "create unblocked", blocked: "0", wantBlocked: "0"},
		{name: "set blocked", blocked: "1", wantBlocked: "1"},
		{name: "blocked flag survives plain update", blocked: "0", wantBlocked: "1"},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runUsageUpsert(t, client, "com.example.game", "2026-10-12", 20261012, 10+i, tt.blocked)

			data := client.HGetAll(ctx, usageKey("com.example.game", "2026-10-12")).Val()
			if data["blocked"] != tt.wantBlocked {
				t.Errorf("Expected blocked=%s, got %s", tt.wantBlocked, data["blocked"])
			}
			if data["package_name"] != "com.example.game" {
				t.Errorf("Expected package_name to be set, got %q", data["package_name"])
			}
		})
	}

	if !client.SIsMember(ctx, usagePackages, "com.example.game").Val() {
		t.Error("Package should be in usage package set")
	}
	if !client.SIsMember(ctx, usageIndexKey("2026-10-12"), "com.example.game").Val() {
		t.Error("Package should be in date index")
	}
	if n := client.ZCard(ctx, usageDatesKey("com.example.game")).Val(); n != 1 {
		t.Errorf("Expected 1 date in sorted set, got %d", n)
	}
}

func TestDeleteUsageScript_Cutoff(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()
	defer mr.Close()

	ctx := context.Background()
	pkg := "com.example.video"

	runUsageUpsert(t, client, pkg, "2026-10-01", 20261001, 5, "0")
	runUsageUpsert(t, client, pkg, "2026-10-02", 20261002, 6, "0")
	runUsageUpsert(t, client, pkg, "2026-10-12", 20261012, 7, "0")

	removed, err := client.Eval(ctx, deleteUsageScript, []string{keyPrefix}, pkg, "(20261012").Int()
	if err != nil {
		t.Fatalf("Script execution failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 records removed, got %d", removed)
	}

	if client.Exists(ctx, usageKey(pkg, "2026-10-01")).Val() != 0 {
		t.Error("Old record should be deleted")
	}
	if client.Exists(ctx, usageKey(pkg, "2026-10-12")).Val() != 1 {
		t.Error("Record on cutoff date should be kept")
	}
	if !client.SIsMember(ctx, usagePackages, pkg).Val() {
		t.Error("Package with remaining records should stay indexed")
	}
}

func TestDeleteUsageScript_All(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()
	defer mr.Close()

	ctx := context.Background()
	pkg := "com.example.video"

	runUsageUpsert(t, client, pkg, "2026-10-11", 20261011, 5, "0")
	runUsageUpsert(t, client, pkg, "2026-10-12", 20261012, 6, "0")

	removed, err := client.Eval(ctx, deleteUsageScript, []string{keyPrefix}, pkg, "+inf").Int()
	if err != nil {
		t.Fatalf("Script execution failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 records removed, got %d", removed)
	}

	if client.Exists(ctx, usageDatesKey(pkg)).Val() != 0 {
		t.Error("Dates set should be deleted when empty")
	}
	if client.SIsMember(ctx, usagePackages, pkg).Val() {
		t.Error("Package should be removed from package set")
	}
	if client.SIsMember(ctx, usageIndexKey("2026-10-11"), pkg).Val() {
		t.Error("Package should be removed from date index")
	}
}

func TestUpsertRuleScript_MovesPackage(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()
	defer mr.Close()

	ctx := context.Background()

	run := func(pkg string) {
		result := client.Eval(ctx, upsertRuleScript, []string{
			scheduleKey("s1"),
			schedulesSet,
			schedulePackageSet(pkg),
		}, "s1", pkg, schedulePackageSet(""), "id", "s1", "package_name", pkg)
		if result.Err() != nil {
			t.Fatalf("Script execution failed: %v", result.Err())
		}
	}

	run("com.example.a")
	run("com.example.b")

	if client.SIsMember(ctx, schedulePackageSet("com.example.a"), "s1").Val() {
		t.Error("Schedule should be removed from previous package set")
	}
	if !client.SIsMember(ctx, schedulePackageSet("com.example.b"), "s1").Val() {
		t.Error("Schedule should be in new package set")
	}
	if n := client.SCard(ctx, schedulesSet).Val(); n != 1 {
		t.Errorf("Expected 1 schedule in global set, got %d", n)
	}
}
