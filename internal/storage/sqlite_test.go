// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/morganforge/promptdeck/internal/export"
	"github.com/morganforge/promptdeck/internal/model"
	"github.com/morganforge/promptdeck/internal/session"
)

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestSession(title string) *model.Session {
	return model.NewSession(title, "ollama", "qwen2.5-coder:7b")
}

// =============================================================================
// SESSION LIFECYCLE
// =============================================================================

func TestCreateAndGetSession(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	sess := newTestSession("first chat")
	user := model.NewUserMessage("review this", []model.ContextItem{{
		ID:          "/tmp/a.go",
		Kind:        model.KindFile,
		Language:    "go",
		DisplayName: "a.go",
		Content:     "package a\n",
		TokenCount:  3,
	}})
	assistant := model.NewMessage(model.RoleAssistant, "looks fine")
	assistant.Usage = &model.TokenUsage{Input: 10, Output: 4}
	assistant.Metadata.ModelID = "qwen2.5-coder:7b"
	sess.Messages = []*model.Message{user, assistant}

	require.NoError(t, store.CreateSession(ctx, sess))

	got, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, "first chat", got.Title)
	require.Equal(t, "ollama", got.ProviderID)

	require.Len(t, got.Messages, 2)
	require.Equal(t, model.RoleUser, got.Messages[0].Role)
	require.Equal(t, model.RoleAssistant, got.Messages[1].Role)

	require.Len(t, got.Messages[0].ContextItems, 1)
	require.Equal(t, "a.go", got.Messages[0].ContextItems[0].DisplayName)
	require.Nil(t, got.Messages[0].Usage, "user message should round-trip with nil usage")

	require.NotNil(t, got.Messages[1].Usage)
	require.Equal(t, 4, got.Messages[1].Usage.Output)
	require.Equal(t, "qwen2.5-coder:7b", got.Messages[1].Metadata.ModelID)
}

func TestGetSessionNotFound(t *testing.T) {
	store := openStore(t)

	_, err := store.GetSession(context.Background(), "missing")
	require.Equal(t, session.KindSessionNotFound, session.KindOf(err))
}

func TestSaveMessageAppendsInOrder(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	sess := newTestSession("chat")
	require.NoError(t, store.CreateSession(ctx, sess))

	before, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)

	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, store.SaveMessage(ctx, sess.ID, model.NewMessage(model.RoleUser, text)))
	}

	got, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 3)
	for i, want := range []string{"one", "two", "three"} {
		require.Equal(t, want, got.Messages[i].Content)
	}
	require.False(t, got.LastModifiedAt.Before(before.LastModifiedAt),
		"SaveMessage should touch last_modified_at")
}

func TestSaveMessageToMissingSession(t *testing.T) {
	store := openStore(t)

	err := store.SaveMessage(context.Background(), "missing", model.NewMessage(model.RoleUser, "hi"))
	require.Equal(t, session.KindSessionNotFound, session.KindOf(err))
}

func TestDeleteSessionCascades(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	sess := newTestSession("doomed")
	sess.Messages = []*model.Message{model.NewMessage(model.RoleUser, "hello")}
	require.NoError(t, store.CreateSession(ctx, sess))

	require.NoError(t, store.DeleteSession(ctx, sess.ID))

	_, err := store.GetSession(ctx, sess.ID)
	require.Equal(t, session.KindSessionNotFound, session.KindOf(err))

	var count int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count))
	require.Zero(t, count, "messages must cascade with the session")

	err = store.DeleteSession(ctx, sess.ID)
	require.Equal(t, session.KindSessionNotFound, session.KindOf(err), "double delete")
}

// =============================================================================
// ARCHIVE + SEARCH
// =============================================================================

func TestArchiveRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	sess := newTestSession("archive me")
	require.NoError(t, store.CreateSession(ctx, sess))

	require.NoError(t, store.ArchiveSession(ctx, sess.ID))
	got, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, got.IsArchived)

	require.NoError(t, store.UnarchiveSession(ctx, sess.ID))
	got, err = store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.False(t, got.IsArchived)

	err = store.ArchiveSession(ctx, "missing")
	require.Equal(t, session.KindSessionNotFound, session.KindOf(err))
}

func seedSearchData(t *testing.T, store *SQLiteStore) {
	t.Helper()
	ctx := context.Background()

	specs := []struct {
		title, provider, content string
		archived                 bool
	}{
		{"rust borrow checker", "openrouter", "why does this not compile", false},
		{"goroutine leak", "ollama", "channel never closed", false},
		{"old notes", "ollama", "a goroutine question", true},
	}
	for _, spec := range specs {
		sess := model.NewSession(spec.title, spec.provider, "m")
		sess.Messages = []*model.Message{model.NewUserMessage(spec.content, nil)}
		require.NoError(t, store.CreateSession(ctx, sess))
		if spec.archived {
			require.NoError(t, store.ArchiveSession(ctx, sess.ID))
		}
		// Distinct modification times keep the recency ordering deterministic.
		time.Sleep(2 * time.Millisecond)
	}
}

func TestSearchByTitleAndContent(t *testing.T) {
	store := openStore(t)
	seedSearchData(t, store)
	ctx := context.Background()

	byTitle, err := store.SearchSessions(ctx, "BORROW", session.SearchFilters{})
	require.NoError(t, err)
	require.Len(t, byTitle, 1)
	require.Equal(t, "rust borrow checker", byTitle[0].Title)

	byContent, err := store.SearchSessions(ctx, "channel never", session.SearchFilters{})
	require.NoError(t, err)
	require.Len(t, byContent, 1)
	require.Equal(t, "goroutine leak", byContent[0].Title)
	require.Equal(t, "channel never closed", byContent[0].Preview)
	require.Equal(t, 1, byContent[0].MessageCount)
}

func TestSearchArchivedFilter(t *testing.T) {
	store := openStore(t)
	seedSearchData(t, store)
	ctx := context.Background()

	active, err := store.SearchSessions(ctx, "goroutine", session.SearchFilters{})
	require.NoError(t, err)
	require.Len(t, active, 1, "archived sessions are excluded by default")

	all, err := store.SearchSessions(ctx, "goroutine", session.SearchFilters{IncludeArchived: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestSearchProviderFilterAndLimit(t *testing.T) {
	store := openStore(t)
	seedSearchData(t, store)
	ctx := context.Background()

	ollama, err := store.SearchSessions(ctx, "", session.SearchFilters{ProviderID: "ollama"})
	require.NoError(t, err)
	require.Len(t, ollama, 1)
	require.Equal(t, "ollama", ollama[0].ProviderID)

	limited, err := store.SearchSessions(ctx, "", session.SearchFilters{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	// Most recently modified active session first.
	require.Equal(t, "goroutine leak", limited[0].Title)
}

func TestSearchEmptyQueryListsAll(t *testing.T) {
	store := openStore(t)
	seedSearchData(t, store)

	out, err := store.SearchSessions(context.Background(), "", session.SearchFilters{IncludeArchived: true})
	require.NoError(t, err)
	require.Len(t, out, 3)
	for i := 1; i < len(out); i++ {
		require.False(t, out[i].LastModifiedAt.After(out[i-1].LastModifiedAt),
			"results must be ordered newest first")
	}
}

// =============================================================================
// EXPORT
// =============================================================================

func TestExportSessionMarkdown(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	sess := newTestSession("export me")
	sess.Messages = []*model.Message{model.NewUserMessage("hello", nil)}
	require.NoError(t, store.CreateSession(ctx, sess))

	data, err := store.ExportSession(ctx, sess.ID, export.FormatMarkdown)
	require.NoError(t, err)
	require.Contains(t, string(data), "# export me")
}

func TestExportSessionBadFormat(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	sess := newTestSession("x")
	require.NoError(t, store.CreateSession(ctx, sess))

	_, err := store.ExportSession(ctx, sess.ID, export.Format("pdf"))
	require.Equal(t, session.KindInvalidFormat, session.KindOf(err))

	_, err = store.ExportSession(ctx, "missing", export.FormatMarkdown)
	require.Equal(t, session.KindSessionNotFound, session.KindOf(err))
}
