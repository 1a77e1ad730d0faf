package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/dmitrijs2005/smartagro/internal/common"
	"github.com/dmitrijs2005/smartagro/internal/logging"
	"github.com/dmitrijs2005/smartagro/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func record(i int) models.DiagnosisRecord {
	return models.DiagnosisRecord{Filename: fmt.Sprintf("leaf%d.jpg", i), Prediction: models.LabelRust, Confidence: 50}
}

func TestCreate_TokenIsOpaque(t *testing.T) {
	m := NewManager(logging.Nop())
	ctx := context.Background()

	t1, err := m.Create(ctx, "alice")
	require.NoError(t, err)
	t2, err := m.Create(ctx, "alice")
	require.NoError(t, err)

	assert.Len(t, t1, common.SessionTokenSize*2)
	assert.NotEqual(t, t1, t2, "concurrent sessions per user get distinct tokens")
	assert.NotContains(t, t1, "alice")
	assert.Equal(t, 2, m.Len())

	s, err := m.Get(t1)
	require.NoError(t, err)
	assert.Equal(t, "alice", s.UserName)
	assert.Empty(t, s.History)
}

func TestCreate_RetriesOnCollision(t *testing.T) {
	m := NewManager(logging.Nop())
	tokens := []string{"same", "same", "other"}
	m.newToken = func() (string, error) {
		tok := tokens[0]
		tokens = tokens[1:]
		return tok, nil
	}

	a, err := m.Create(context.Background(), "a")
	require.NoError(t, err)
	b, err := m.Create(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, "same", a)
	assert.Equal(t, "other", b)
}

func TestCreate_TokenError(t *testing.T) {
	m := NewManager(logging.Nop())
	m.newToken = func() (string, error) { return "", errors.New("no entropy") }

	_, err := m.Create(context.Background(), "a")
	assert.Error(t, err)
}

func TestAppendHistory_KeepsOrder(t *testing.T) {
	m := NewManager(logging.Nop())
	tok, err := m.Create(context.Background(), "alice")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.AppendHistory(tok, record(i)))
	}

	s, err := m.Get(tok)
	require.NoError(t, err)
	require.Len(t, s.History, 5)
	for i, r := range s.History {
		assert.Equal(t, fmt.Sprintf("leaf%d.jpg", i), r.Filename)
	}
}

func TestGet_ReturnsSnapshot(t *testing.T) {
	m := NewManager(logging.Nop())
	tok, _ := m.Create(context.Background(), "alice")
	require.NoError(t, m.AppendHistory(tok, record(0)))

	s, err := m.Get(tok)
	require.NoError(t, err)
	s.History[0].Filename = "mutated"
	require.NoError(t, m.AppendHistory(tok, record(1)))

	again, _ := m.Get(tok)
	assert.Equal(t, "leaf0.jpg", again.History[0].Filename)
	assert.Len(t, s.History, 1)
}

func TestClearHistory_KeepsSession(t *testing.T) {
	m := NewManager(logging.Nop())
	tok, _ := m.Create(context.Background(), "alice")
	for i := 0; i < 3; i++ {
		require.NoError(t, m.AppendHistory(tok, record(i)))
	}

	require.NoError(t, m.ClearHistory(tok))

	s, err := m.Get(tok)
	require.NoError(t, err)
	assert.Len(t, s.History, 0)
	assert.Equal(t, "alice", s.UserName)
}

func TestUnknownToken(t *testing.T) {
	m := NewManager(logging.Nop())

	_, err := m.Get("nope")
	assert.ErrorIs(t, err, common.ErrSessionNotFound)
	assert.ErrorIs(t, m.AppendHistory("nope", record(0)), common.ErrSessionNotFound)
	assert.ErrorIs(t, m.ClearHistory("nope"), common.ErrSessionNotFound)

	_, err = m.Require("nope")
	assert.ErrorIs(t, err, common.ErrAuthRequired)
}

func TestDestroy_Idempotent(t *testing.T) {
	m := NewManager(logging.Nop())
	ctx := context.Background()
	tok, _ := m.Create(ctx, "alice")

	m.Destroy(ctx, tok)
	m.Destroy(ctx, tok)
	m.Destroy(ctx, "never-existed")

	_, err := m.Get(tok)
	assert.ErrorIs(t, err, common.ErrSessionNotFound)
	assert.Equal(t, 0, m.Len())
}

func TestAppendHistory_ConcurrentNoLostUpdates(t *testing.T) {
	m := NewManager(logging.Nop())
	tok, _ := m.Create(context.Background(), "alice")

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, m.AppendHistory(tok, record(i)))
			_, _ = m.Get(tok)
		}(i)
	}
	wg.Wait()

	s, err := m.Get(tok)
	require.NoError(t, err)
	assert.Len(t, s.History, n)

	seen := make(map[string]bool, n)
	for _, r := range s.History {
		seen[r.Filename] = true
	}
	assert.Len(t, seen, n)
}

func TestConcurrentSessionsAndDestroy(t *testing.T) {
	m := NewManager(logging.Nop())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := m.Create(ctx, fmt.Sprintf("user%d", i))
			if !assert.NoError(t, err) {
				return
			}
			assert.NoError(t, m.AppendHistory(tok, record(i)))
			m.Destroy(ctx, tok)
			assert.ErrorIs(t, m.AppendHistory(tok, record(i)), common.ErrSessionNotFound)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, m.Len())
}
