package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"quiz-assessment-service/internal/domain"
	redisinfra "quiz-assessment-service/internal/infra/redis"
)

func TestImportQuizInvalidatesCache(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	if err := mr.Set("quiz:quiz-1", `{"id":"quiz-1","title":"stale"}`); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	raw, err := json.Marshal(sampleQuizzes()["quiz-1"])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	saved := map[string][]byte{}
	save := func(_ context.Context, id string, data []byte) error {
		saved[id] = data
		return nil
	}

	quiz, err := importQuiz(context.Background(), raw, save, redisinfra.NewQuizRepository(client, nil, 0, nil), zap.NewNop())
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if quiz.ID != "quiz-1" || len(saved["quiz-1"]) == 0 {
		t.Fatalf("expected quiz saved, got %v", saved)
	}
	if mr.Exists("quiz:quiz-1") {
		t.Fatalf("expected cached copy dropped")
	}
}

func TestImportQuizRejectsInvalidDocuments(t *testing.T) {
	called := false
	save := func(context.Context, string, []byte) error {
		called = true
		return nil
	}

	broken := sampleQuizzes()["quiz-1"]
	broken.Questions[0].Options[0].Correct = true
	raw, _ := json.Marshal(broken)

	for name, doc := range map[string][]byte{"two correct options": raw, "not json": []byte("{")} {
		if _, err := importQuiz(context.Background(), doc, save, nil, zap.NewNop()); !errors.Is(err, domain.ErrInvalidQuiz) {
			t.Fatalf("%s: expected invalid quiz, got %v", name, err)
		}
	}
	if called {
		t.Fatalf("expected nothing saved")
	}
}

func TestImportCommandRequiresPostgres(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quiz.json")
	raw, _ := json.Marshal(sampleQuizzes()["quiz-1"])
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write quiz: %v", err)
	}

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"import", path, "--config", filepath.Join(dir, "absent.yaml")})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "postgres url not configured") {
		t.Fatalf("expected missing postgres error, got %v", err)
	}
}
