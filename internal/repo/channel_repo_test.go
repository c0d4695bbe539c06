package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shoptalk/go-gateway-backend/internal/domain"
)

func newRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func TestUpsertChannel_InsertThenGet(t *testing.T) {
	db := newRepoDB(t, &domain.Channel{})
	ctx := context.Background()

	ch1, err := UpsertChannel(ctx, db, "s1", domain.ProviderSocketWA, "306900000001", "ref-a")
	if err != nil {
		t.Fatalf("UpsertChannel insert: %v", err)
	}
	if ch1.ID == "" || ch1.ShopID != "s1" || ch1.ExternalID != "306900000001" {
		t.Fatalf("unexpected channel fields: %+v", ch1)
	}
	if ch1.IsActive {
		t.Fatalf("new channel must start inactive")
	}

	// Same natural key returns the same row, not a second one.
	ch2, err := UpsertChannel(ctx, db, "s1", domain.ProviderSocketWA, "306900000001", "")
	if err != nil {
		t.Fatalf("UpsertChannel get: %v", err)
	}
	if ch2.ID != ch1.ID {
		t.Fatalf("expected same channel row, got %s vs %s", ch2.ID, ch1.ID)
	}

	var n int64
	db.Model(&domain.Channel{}).Count(&n)
	if n != 1 {
		t.Fatalf("expected single channel row, got %d", n)
	}
}

func TestUpsertChannel_RefreshesCredentialsRef(t *testing.T) {
	db := newRepoDB(t, &domain.Channel{})
	ctx := context.Background()

	if _, err := UpsertChannel(ctx, db, "s1", domain.ProviderSocketWA, "ext", "old-ref"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	ch, err := UpsertChannel(ctx, db, "s1", domain.ProviderSocketWA, "ext", "new-ref")
	if err != nil {
		t.Fatalf("upsert with new ref: %v", err)
	}
	if ch.CredentialsRef != "new-ref" {
		t.Fatalf("expected refreshed credentials ref, got %q", ch.CredentialsRef)
	}

	// Empty ref leaves the stored one alone.
	ch, err = UpsertChannel(ctx, db, "s1", domain.ProviderSocketWA, "ext", "")
	if err != nil {
		t.Fatalf("upsert with empty ref: %v", err)
	}
	if ch.CredentialsRef != "new-ref" {
		t.Fatalf("empty ref must not clear stored value, got %q", ch.CredentialsRef)
	}
}

func TestSetChannelActive_FlipAndNotFound(t *testing.T) {
	db := newRepoDB(t, &domain.Channel{})
	ctx := context.Background()

	ch, err := UpsertChannel(ctx, db, "s1", domain.ProviderWebhookMeta, "pn-1", "")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := SetChannelActive(ctx, db, ch.ID, true); err != nil {
		t.Fatalf("activate: %v", err)
	}
	got, err := GetChannel(ctx, db, "s1", domain.ProviderWebhookMeta)
	if err != nil {
		t.Fatalf("GetChannel: %v", err)
	}
	if !got.IsActive {
		t.Fatalf("expected active channel")
	}

	if err := SetChannelActive(ctx, db, "missing-id", true); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestGetChannel_And_FindChannelByExternal(t *testing.T) {
	db := newRepoDB(t, &domain.Channel{})
	ctx := context.Background()

	if _, err := GetChannel(ctx, db, "s1", domain.ProviderSocketWA); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound before insert, got %v", err)
	}

	ch, err := UpsertChannel(ctx, db, "s1", domain.ProviderSocketWA, "306911111111", "")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	byExt, err := FindChannelByExternal(ctx, db, domain.ProviderSocketWA, "306911111111")
	if err != nil {
		t.Fatalf("FindChannelByExternal: %v", err)
	}
	if byExt.ID != ch.ID {
		t.Fatalf("external lookup returned wrong row")
	}

	if _, err := FindChannelByExternal(ctx, db, domain.ProviderSocketWA, "nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for unknown external id, got %v", err)
	}
}

func TestListActiveChannels_FiltersByProviderAndActivity(t *testing.T) {
	db := newRepoDB(t, &domain.Channel{})
	ctx := context.Background()

	a, _ := UpsertChannel(ctx, db, "s1", domain.ProviderSocketWA, "e1", "")
	b, _ := UpsertChannel(ctx, db, "s2", domain.ProviderSocketWA, "e2", "")
	_, _ = UpsertChannel(ctx, db, "s3", domain.ProviderWebhookMeta, "e3", "")

	if err := SetChannelActive(ctx, db, a.ID, true); err != nil {
		t.Fatalf("activate a: %v", err)
	}
	if err := SetChannelActive(ctx, db, b.ID, true); err != nil {
		t.Fatalf("activate b: %v", err)
	}

	out, err := ListActiveChannels(ctx, db, domain.ProviderSocketWA)
	if err != nil {
		t.Fatalf("ListActiveChannels: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 active socket channels, got %d", len(out))
	}
	if out[0].ShopID != "s1" || out[1].ShopID != "s2" {
		t.Fatalf("expected deterministic shop order, got %s %s", out[0].ShopID, out[1].ShopID)
	}
}
